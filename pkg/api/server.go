package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/governance"
	"github.com/loopwork-ai/governor/pkg/graduation"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/store"
	"github.com/loopwork-ai/governor/pkg/trigger"
)

const maxBodyBytes = 1 << 20 // 1MB request limit

// Server exposes the governance core over HTTP.
type Server struct {
	gov      *governance.Service
	router   *trigger.Router
	grad     *graduation.Service
	skills   *registry.Service
	agents   store.AgentStore
	logger   *slog.Logger
	clock    func() time.Time
	validate *JWTValidator
	rps      float64
	burst    int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) ServerOption {
	return func(s *Server) { s.clock = clock }
}

// WithAuth enables JWT authentication. An empty secret fails closed.
func WithAuth(secret string) ServerOption {
	return func(s *Server) { s.validate = NewJWTValidator(secret) }
}

// WithRateLimit enables per-actor rate limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.rps, s.burst = rps, burst }
}

// NewServer wires the governance services into an HTTP surface. Any service
// may be nil; its endpoints then answer 404.
func NewServer(gov *governance.Service, router *trigger.Router, grad *graduation.Service, skills *registry.Service, agents store.AgentStore, opts ...ServerOption) *Server {
	s := &Server{
		gov:    gov,
		router: router,
		grad:   grad,
		skills: skills,
		agents: agents,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/decisions/action", s.handleActionDecision)
	mux.HandleFunc("/api/v1/decisions/directory", s.handleDirectoryDecision)
	mux.HandleFunc("/api/v1/triggers", s.handleTrigger)
	mux.HandleFunc("/api/v1/agents", s.handleCreateAgent)
	mux.HandleFunc("/api/v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("/api/v1/agents/{id}/readiness", s.handleReadiness)
	mux.HandleFunc("/api/v1/agents/{id}/promote", s.handlePromote)
	mux.HandleFunc("/api/v1/agents/{id}/exam", s.handleExam)
	mux.HandleFunc("/api/v1/skills", s.handleSkills)
	mux.HandleFunc("/api/v1/skills/{name}", s.handleGetSkill)

	var h http.Handler = mux
	if s.rps > 0 {
		h = RateLimitMiddleware(s.rps, s.burst)(h)
	}
	if s.validate != nil {
		h = AuthMiddleware(s.validate)(h)
	}
	h = RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DecisionRequest asks whether an agent may perform an action or access a
// directory path.
type DecisionRequest struct {
	AgentID  string `json:"agent_id"`
	ActionID string `json:"action_id,omitempty"`
	Path     string `json:"path,omitempty"`
}

func (s *Server) handleActionDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.gov == nil {
		WriteNotFound(w, "Governance is not enabled")
		return
	}

	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.ActionID == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, action_id")
		return
	}

	d, err := s.gov.CanPerform(r.Context(), req.AgentID, req.ActionID)
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDirectoryDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.gov == nil {
		WriteNotFound(w, "Governance is not enabled")
		return
	}

	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Path == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, path")
		return
	}

	d, err := s.gov.CanAccessDirectory(r.Context(), req.AgentID, req.Path)
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.router == nil {
		WriteNotFound(w, "Trigger routing is not enabled")
		return
	}

	var req contracts.ActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		WriteBadRequest(w, "Missing required field: agent_id")
		return
	}
	if !req.Source.Valid() {
		WriteBadRequest(w, "Unknown trigger source")
		return
	}

	reqContext := req.Context
	if req.ActionID != "" {
		if reqContext == nil {
			reqContext = map[string]any{}
		}
		reqContext["action_id"] = req.ActionID
	}

	d, err := s.router.InterceptTrigger(r.Context(), req.AgentID, req.Source, reqContext, req.UserID)
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateAgentRequest registers a new agent. Agents always start as STUDENT
// with zero confidence; there is no fast lane.
type CreateAgentRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.agents == nil {
		WriteNotFound(w, "Agent management is not enabled")
		return
	}

	var req CreateAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		WriteBadRequest(w, "Missing required field: id")
		return
	}

	now := s.clock().UTC()
	agent := &contracts.Agent{
		ID:            req.ID,
		Maturity:      contracts.MaturityStudent,
		Confidence:    0,
		BandStartedAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.agents.Create(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrAgentExists) {
			WriteConflict(w, "Agent already exists")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.agents == nil {
		WriteNotFound(w, "Agent management is not enabled")
		return
	}

	agent, err := s.agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.grad == nil {
		WriteNotFound(w, "Graduation is not enabled")
		return
	}

	target, ok := contracts.ParseMaturity(r.URL.Query().Get("target"))
	if !ok {
		WriteBadRequest(w, "Unknown target maturity")
		return
	}

	readiness, err := s.grad.Readiness(r.Context(), r.PathValue("id"), target)
	if err != nil {
		s.writeGraduationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readiness)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.grad == nil {
		WriteNotFound(w, "Graduation is not enabled")
		return
	}

	agent, err := s.grad.Promote(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeGraduationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ExamRequest starts a sandboxed graduation exam.
type ExamRequest struct {
	WorkspaceID string             `json:"workspace_id"`
	Target      contracts.Maturity `json:"target"`
}

func (s *Server) handleExam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.grad == nil {
		WriteNotFound(w, "Graduation is not enabled")
		return
	}

	var req ExamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Target.Valid() {
		WriteBadRequest(w, "Unknown target maturity")
		return
	}

	exam, err := s.grad.RunGraduationExam(r.Context(), r.PathValue("id"), req.WorkspaceID, req.Target)
	if err != nil {
		s.writeGraduationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

// RegisterSkillRequest submits a skill manifest plus its code bundle
// (base64-encoded) for scanning and registration.
type RegisterSkillRequest struct {
	Manifest json.RawMessage `json:"manifest"`
	Code     string          `json:"code"`
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	if s.skills == nil {
		WriteNotFound(w, "Skill registry is not enabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		skills, err := s.skills.List(r.Context())
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, skills)

	case http.MethodPost:
		var req RegisterSkillRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Manifest) == 0 || req.Code == "" {
			WriteBadRequest(w, "Missing required fields: manifest, code")
			return
		}

		code, err := base64.StdEncoding.DecodeString(req.Code)
		if err != nil {
			WriteBadRequest(w, "Field code must be base64-encoded")
			return
		}

		skill, err := s.skills.Register(r.Context(), req.Manifest, code)
		if err != nil {
			var rejection *registry.RejectionError
			switch {
			case errors.As(err, &rejection):
				WriteUnprocessable(w, rejection.Error())
			case errors.Is(err, registry.ErrHashRejected):
				WriteUnprocessable(w, "Content hash was previously rejected")
			default:
				WriteBadRequest(w, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusCreated, skill)

	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.skills == nil {
		WriteNotFound(w, "Skill registry is not enabled")
		return
	}

	name := r.PathValue("name")
	var (
		skill *registry.Skill
		err   error
	)
	if version := r.URL.Query().Get("version"); version != "" {
		skill, err = s.skills.GetVersion(r.Context(), name, version)
	} else {
		skill, err = s.skills.Get(r.Context(), name)
	}
	if err != nil {
		if errors.Is(err, registry.ErrSkillNotFound) {
			WriteNotFound(w, "Skill not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (s *Server) writeDecisionError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrAgentNotFound) {
		WriteNotFound(w, "Agent not found")
		return
	}
	WriteInternal(w, err)
}

func (s *Server) writeGraduationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAgentNotFound):
		WriteNotFound(w, "Agent not found")
	case errors.Is(err, graduation.ErrNotReady):
		WriteConflict(w, err.Error())
	case errors.Is(err, graduation.ErrWrongTarget), errors.Is(err, graduation.ErrAlreadyAutonomous):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, registry.ErrSkillNotFound):
		WriteNotFound(w, "Exam skill is not registered")
	default:
		WriteInternal(w, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}
