package registry

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/governor/pkg/scanner"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	sc, err := scanner.NewScanner()
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewService(store, sc), store
}

func manifestJSON(name, version string) []byte {
	return []byte(fmt.Sprintf(`{"name":%q,"version":%q,"entry":"main"}`, name, version))
}

const cleanCode = `
func summarize(input string) string {
	return input[:min(len(input), 200)]
}
`

func TestRegisterCleanSkill(t *testing.T) {
	svc, _ := newTestService(t)

	skill, err := svc.Register(context.Background(), manifestJSON("acme.summarize", "1.0.0"), []byte(cleanCode))
	require.NoError(t, err)

	assert.Equal(t, "acme.summarize", skill.Name)
	assert.Equal(t, StatusActive, skill.Status)
	assert.Len(t, skill.ContentHash, 64)
}

func TestRegisterFlaggedSkillQuarantined(t *testing.T) {
	svc, _ := newTestService(t)

	code := `x := "` + strings.Repeat("QUJD", 40) + `"`
	skill, err := svc.Register(context.Background(), manifestJSON("acme.blobby", "1.0.0"), []byte(code))
	require.NoError(t, err)

	assert.Equal(t, StatusQuarantined, skill.Status)
}

func TestRegisterRejectedSkillBlocksHashForever(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	malicious := []byte(`result = eval(payload)`)
	_, err := svc.Register(ctx, manifestJSON("acme.sneaky", "1.0.0"), malicious)
	require.Error(t, err)

	var rejErr *RejectionError
	require.ErrorAs(t, err, &rejErr)
	assert.NotEmpty(t, rejErr.Violations)

	rejected, err := store.IsHashRejected(ctx, scanner.ContentHash(malicious))
	require.NoError(t, err)
	assert.True(t, rejected)

	// Same content under a new name and version: still blocked, no scan
	// can resurrect it.
	_, err = svc.Register(ctx, manifestJSON("acme.renamed", "2.0.0"), malicious)
	assert.ErrorIs(t, err, ErrHashRejected)
}

func TestRegisterRejectedLeavesNoSkillBehind(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, manifestJSON("acme.sneaky", "1.0.0"), []byte(`exec(cmd)`))
	require.Error(t, err)

	_, err = svc.Get(ctx, "acme.sneaky")
	assert.ErrorIs(t, err, ErrSkillNotFound)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		manifest string
	}{
		{"not namespaced", `{"name":"summarize","version":"1.0.0","entry":"main"}`},
		{"missing entry", `{"name":"acme.summarize","version":"1.0.0"}`},
		{"loose version", `{"name":"acme.summarize","version":"1.0","entry":"main"}`},
		{"unknown field", `{"name":"acme.summarize","version":"1.0.0","entry":"main","shell":"sh"}`},
		{"not json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, []byte(tt.manifest), []byte(cleanCode))
			assert.Error(t, err)
		})
	}
}

func TestGetReturnsHighestVersion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, manifestJSON("acme.summarize", "1.0.0"), []byte(cleanCode))
	require.NoError(t, err)
	_, err = svc.Register(ctx, manifestJSON("acme.summarize", "1.10.0"), []byte(cleanCode+"\n"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, manifestJSON("acme.summarize", "1.2.0"), []byte(cleanCode+"\n\n"))
	require.NoError(t, err)

	skill, err := svc.Get(ctx, "acme.summarize")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", skill.Version, "semver ordering, not lexicographic")

	pinned, err := svc.GetVersion(ctx, "acme.summarize", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pinned.Version)
}

type capturingBlobs struct {
	blobs map[string][]byte
}

func (b *capturingBlobs) Put(ctx context.Context, contentHash string, data []byte) error {
	if b.blobs == nil {
		b.blobs = make(map[string][]byte)
	}
	b.blobs[contentHash] = data
	return nil
}

func TestRegisterStoresBundleByHash(t *testing.T) {
	sc, err := scanner.NewScanner()
	require.NoError(t, err)
	blobs := &capturingBlobs{}
	svc := NewService(NewMemoryStore(), sc, WithBlobs(blobs))

	skill, err := svc.Register(context.Background(), manifestJSON("acme.summarize", "1.0.0"), []byte(cleanCode))
	require.NoError(t, err)

	assert.Equal(t, []byte(cleanCode), blobs.blobs[skill.ContentHash])
}
