package contracts

import "time"

// EpisodeType categorizes how an episode was produced.
type EpisodeType string

const (
	EpisodeTypeExecution   EpisodeType = "EXECUTION"
	EpisodeTypeSupervision EpisodeType = "SUPERVISION"
	EpisodeTypeExam        EpisodeType = "EXAM"
)

// EpisodeRecord is the activity record emitted after every sandboxed or
// approved execution. Graduation scoring is computed from these records;
// omitting the emission breaks scoring, so it is treated as a hard
// side effect of execution, not telemetry.
type EpisodeRecord struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	SkillName  string        `json:"skill_name"`
	Source     TriggerSource `json:"source"`
	Type       EpisodeType   `json:"type"`
	Sandboxed  bool          `json:"sandboxed"`
	Duration   time.Duration `json:"duration"`
	Intervened bool          `json:"intervened"`
	Compliance float64       `json:"compliance"` // [0,1]
	RecordedAt time.Time     `json:"recorded_at"`
}
