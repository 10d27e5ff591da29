package contracts

import "time"

// TransitionGate holds the fixed per-transition thresholds that must each
// be independently satisfied before an agent may graduate.
type TransitionGate struct {
	From            Maturity `json:"from"`
	To              Maturity `json:"to"`
	MinEpisodes     int      `json:"min_episodes"`
	MaxIntervention float64  `json:"max_intervention"` // fraction, e.g. 0.5 = 50%
	MinCompliance   float64  `json:"min_compliance"`   // [0,1]
}

// ReadinessGap names a single unmet threshold.
type ReadinessGap struct {
	Threshold string  `json:"threshold"` // "episodes" | "intervention_rate" | "compliance"
	Required  float64 `json:"required"`
	Actual    float64 `json:"actual"`
	Detail    string  `json:"detail"`
}

// GraduationReadiness is the promotion assessment for one transition.
// Score components: 40% episode coverage, 30% inverse intervention rate,
// 30% constitutional compliance.
type GraduationReadiness struct {
	AgentID        string         `json:"agent_id"`
	From           Maturity       `json:"from"`
	To             Maturity       `json:"to"`
	Score          float64        `json:"score"` // 0-100
	Ready          bool           `json:"ready"`
	Gaps           []ReadinessGap `json:"gaps,omitempty"`
	Recommendation string         `json:"recommendation"`

	EpisodeCount     int     `json:"episode_count"`
	InterventionRate float64 `json:"intervention_rate"`
	ComplianceScore  float64 `json:"compliance_score"`

	AssessedAt time.Time `json:"assessed_at"`
}

// ExamResult is the outcome of a sandboxed graduation exam run.
type ExamResult struct {
	AgentID     string        `json:"agent_id"`
	WorkspaceID string        `json:"workspace_id"`
	Target      Maturity      `json:"target"`
	Passed      bool          `json:"passed"`
	Score       float64       `json:"score"` // 0-100
	Violations  []string      `json:"violations,omitempty"`
	Duration    time.Duration `json:"duration"`
	RanAt       time.Time     `json:"ran_at"`
}
