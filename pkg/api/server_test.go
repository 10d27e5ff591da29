package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/governor/pkg/audit"
	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/episodes"
	"github.com/loopwork-ai/governor/pkg/governance"
	"github.com/loopwork-ai/governor/pkg/graduation"
	"github.com/loopwork-ai/governor/pkg/permcache"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/scanner"
	"github.com/loopwork-ai/governor/pkg/store"
	"github.com/loopwork-ai/governor/pkg/trigger"
)

type allowAllSupervisors struct{}

func (allowAllSupervisors) ShouldSupervise(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

type fakeMonitors struct{}

func (fakeMonitors) Open(ctx context.Context, agentID, userID string) (string, error) {
	return "session-1", nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, eventType audit.EventType, agentID, action, resource string, metadata map[string]any) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryAgentStore) {
	t.Helper()
	agents := store.NewMemoryAgentStore()
	cache := permcache.NewMemoryCache(permcache.DefaultCapacity)
	gov := governance.NewService(cache, agents)
	router := trigger.NewRouter(gov, allowAllSupervisors{}, fakeMonitors{}, nil, nopAudit{})
	grad := graduation.NewService(agents, episodes.NewMemoryStore())

	scan, err := scanner.NewScanner()
	require.NoError(t, err)
	skills := registry.NewService(registry.NewMemoryStore(), scan)

	return NewServer(gov, router, grad, skills, agents), agents
}

func seedAgent(t *testing.T, agents *store.MemoryAgentStore, id string, maturity contracts.Maturity) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, agents.Create(context.Background(), &contracts.Agent{
		ID: id, Maturity: maturity, Confidence: 0.6,
		BandStartedAt: now, CreatedAt: now, UpdatedAt: now,
	}))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestActionDecision(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityIntern)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/decisions/action",
		DecisionRequest{AgentID: "a1", ActionID: "draft"})
	require.Equal(t, http.StatusOK, rec.Code)

	var d contracts.PermissionDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, contracts.MaturityIntern, d.AgentMaturity)
}

func TestActionDecisionUnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/decisions/action",
		DecisionRequest{AgentID: "ghost", ActionID: "send_email"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestActionDecisionValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/decisions/action",
		DecisionRequest{AgentID: "a1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/decisions/action", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDirectoryDecision(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityIntern)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/decisions/directory",
		DecisionRequest{AgentID: "a1", Path: "/workspaces/a1/data"})
	require.Equal(t, http.StatusOK, rec.Code)

	var d contracts.PermissionDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Allowed)
}

func TestTriggerRouting(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityStudent)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/triggers",
		contracts.ActionRequest{AgentID: "a1", ActionID: "send_email", Source: contracts.TriggerWorkflowEngine})
	require.Equal(t, http.StatusOK, rec.Code)

	var d contracts.TriggerDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, contracts.RouteTraining, d.Outcome)
	assert.False(t, d.Execute)
	require.NotNil(t, d.Blocked)
	assert.Equal(t, "send_email", d.Blocked.ActionID)
}

func TestTriggerRejectsUnknownSource(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityStudent)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/triggers",
		contracts.ActionRequest{AgentID: "a1", Source: "CARRIER_PIGEON"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndGetAgent(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/agents", CreateAgentRequest{ID: "a9"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created contracts.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, contracts.MaturityStudent, created.Maturity, "new agents always start at the bottom band")
	assert.Zero(t, created.Confidence)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/agents", CreateAgentRequest{ID: "a9"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/agents/a9", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityStudent)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/agents/a1/readiness?target=INTERN", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var r contracts.GraduationReadiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.False(t, r.Ready)
	assert.Equal(t, contracts.MaturityIntern, r.To)
}

func TestReadinessRejectsBadTarget(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityStudent)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/agents/a1/readiness?target=WIZARD", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/agents/a1/readiness?target=SUPERVISED", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "band skipping is rejected")
}

func TestPromoteEndpoint(t *testing.T) {
	srv, agents := newTestServer(t)
	seedAgent(t, agents, "a1", contracts.MaturityStudent)

	// Unready agent: promotion conflicts with graduation gates.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/agents/a1/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterSkill(t *testing.T) {
	srv, _ := newTestServer(t)

	manifest := map[string]any{
		"name":    "acme.summarize",
		"version": "1.0.0",
		"entry":   "main",
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/skills", RegisterSkillRequest{
		Manifest: mustMarshal(t, manifest),
		Code:     base64.StdEncoding.EncodeToString([]byte("func main() { return 1 }")),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var skill registry.Skill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &skill))
	assert.Equal(t, registry.StatusActive, skill.Status)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/skills/acme.summarize", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/skills", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterSkillRejectedCode(t *testing.T) {
	srv, _ := newTestServer(t)

	manifest := map[string]any{
		"name":    "acme.backdoor",
		"version": "1.0.0",
		"entry":   "main",
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/skills", RegisterSkillRequest{
		Manifest: mustMarshal(t, manifest),
		Code:     base64.StdEncoding.EncodeToString([]byte(`eval(payload)`)),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetSkillNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/skills/acme.ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	agents := store.NewMemoryAgentStore()
	cache := permcache.NewMemoryCache(permcache.DefaultCapacity)
	gov := governance.NewService(cache, agents)
	srv := NewServer(gov, nil, nil, nil, agents, WithRateLimit(1, 2))
	h := srv.Handler()

	var limited bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.True(t, limited, "burst of 2 must trip the limiter within 5 requests")
}

func TestProblemDetailShape(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decisions/action", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, fmt.Sprintf("https://governor.loopwork.ai/errors/%d", http.StatusBadRequest), problem.Type)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.NotEmpty(t, problem.TraceID, "problem responses carry the request ID")
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
