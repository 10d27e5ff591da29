package contracts

// TriggerSource identifies the origin of an action request.
type TriggerSource string

const (
	TriggerManual         TriggerSource = "MANUAL"
	TriggerWorkflowEngine TriggerSource = "WORKFLOW_ENGINE"
	TriggerAICoordinator  TriggerSource = "AI_COORDINATOR"
	TriggerDataSync       TriggerSource = "DATA_SYNC"
	TriggerScheduler      TriggerSource = "SCHEDULER"
)

// Valid reports whether the source is one of the known trigger origins.
func (s TriggerSource) Valid() bool {
	switch s {
	case TriggerManual, TriggerWorkflowEngine, TriggerAICoordinator, TriggerDataSync, TriggerScheduler:
		return true
	}
	return false
}

// ComplexityLevel classifies the risk/impact of an action, 1 (lowest)
// through 4 (highest). Unmapped action identifiers default to 2.
type ComplexityLevel int

const (
	ComplexityTrivial  ComplexityLevel = 1
	ComplexityStandard ComplexityLevel = 2
	ComplexityElevated ComplexityLevel = 3
	ComplexityCritical ComplexityLevel = 4

	// DefaultComplexity is assigned to identifiers absent from the table.
	DefaultComplexity = ComplexityStandard
)

// Valid reports whether the level is in {1,2,3,4}.
func (c ComplexityLevel) Valid() bool {
	return c >= ComplexityTrivial && c <= ComplexityCritical
}

// RequiredMaturity maps a complexity level to the minimum maturity band
// allowed to execute it unattended: 1->STUDENT, 2->INTERN, 3->SUPERVISED,
// 4->AUTONOMOUS. Out-of-range levels map to AUTONOMOUS so a malformed
// level can never widen access.
func (c ComplexityLevel) RequiredMaturity() Maturity {
	switch c {
	case ComplexityTrivial:
		return MaturityStudent
	case ComplexityStandard:
		return MaturityIntern
	case ComplexityElevated:
		return MaturitySupervised
	default:
		return MaturityAutonomous
	}
}

// ActionRequest is a single action an agent wants to take. Each request is
// evaluated exactly once and produces exactly one TriggerDecision.
type ActionRequest struct {
	AgentID  string         `json:"agent_id"`
	ActionID string         `json:"action_id"`
	Source   TriggerSource  `json:"source"`
	UserID   string         `json:"user_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}
