package contracts

import "time"

// Deterministic violation codes for sandbox limit breaches.
const (
	SandboxViolationTimeout = "SANDBOX_TIMEOUT"
	SandboxViolationMemory  = "SANDBOX_MEMORY_EXHAUSTED"
	SandboxViolationOutput  = "SANDBOX_OUTPUT_EXHAUSTED"
	SandboxViolationTrap    = "SANDBOX_TRAP"
	SandboxViolationAborted = "SANDBOX_ABORTED"
)

// SandboxExecutionResult is the immutable record of one isolated skill run.
// A terminated run is never reported as success; partial output from a
// timed-out run is discarded.
type SandboxExecutionResult struct {
	Success    bool          `json:"success"`
	Score      float64       `json:"score"` // 0-100
	Compliant  bool          `json:"compliant"`
	Violations []string      `json:"violations,omitempty"`
	Output     []byte        `json:"output,omitempty"`
	Duration   time.Duration `json:"duration"`
}
