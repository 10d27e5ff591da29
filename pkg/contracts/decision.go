package contracts

import "time"

// PermissionDecision is the outcome of a governance permission check.
// It is immutable once produced and cached by (agent id, action id).
type PermissionDecision struct {
	Allowed               bool            `json:"allowed"`
	Reason                string          `json:"reason"`
	AgentMaturity         Maturity        `json:"agent_maturity"`
	ActionComplexity      ComplexityLevel `json:"action_complexity"`
	RequiredMaturity      Maturity        `json:"required_maturity"`
	RequiresHumanApproval bool            `json:"requires_human_approval"`
	Confidence            float64         `json:"confidence"`
	DecidedAt             time.Time       `json:"decided_at"`
}

// RouteOutcome is the terminal routing state for one action request.
// There are no cross-state transitions within a single decision.
type RouteOutcome string

const (
	RouteExecution   RouteOutcome = "EXECUTION"
	RouteSupervision RouteOutcome = "SUPERVISION"
	RouteProposal    RouteOutcome = "PROPOSAL"
	RouteTraining    RouteOutcome = "TRAINING"
)

// TriggerDecision is the routing outcome for one ActionRequest.
type TriggerDecision struct {
	Outcome RouteOutcome `json:"outcome"`
	Execute bool         `json:"execute"`
	Reason  string       `json:"reason"`

	// Blocked carries the audit record for non-executing paths.
	Blocked *BlockedTrigger `json:"blocked,omitempty"`

	// SessionID is set when a real-time monitoring session was opened
	// for a SUPERVISION outcome.
	SessionID string `json:"session_id,omitempty"`

	// Queued is set when a SUPERVISED agent had no available supervisor
	// and the request was queued for retry.
	Queued bool `json:"queued,omitempty"`

	// Dispatched is set when an approved execution was handed to the
	// sandbox pool. It stays false when the request names no skill or the
	// router has no execution wiring.
	Dispatched bool `json:"dispatched,omitempty"`
}

// BlockedTrigger is the auditable record of a trigger that was not executed.
type BlockedTrigger struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	ActionID  string         `json:"action_id,omitempty"`
	Source    TriggerSource  `json:"source"`
	Maturity  Maturity       `json:"maturity"`
	Outcome   RouteOutcome   `json:"outcome"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
	BlockedAt time.Time      `json:"blocked_at"`
}
