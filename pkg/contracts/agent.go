// Package contracts defines the shared record types of the governance core.
// Decision records are immutable once emitted.
package contracts

import "time"

// Maturity is the closed, ordered autonomy classification of an agent.
// STUDENT < INTERN < SUPERVISED < AUTONOMOUS.
type Maturity string

const (
	MaturityStudent    Maturity = "STUDENT"
	MaturityIntern     Maturity = "INTERN"
	MaturitySupervised Maturity = "SUPERVISED"
	MaturityAutonomous Maturity = "AUTONOMOUS"
)

var maturityRank = map[Maturity]int{
	MaturityStudent:    0,
	MaturityIntern:     1,
	MaturitySupervised: 2,
	MaturityAutonomous: 3,
}

// Rank returns the ordinal position of the maturity, or -1 for unknown values.
func (m Maturity) Rank() int {
	r, ok := maturityRank[m]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether m is one of the four defined bands.
func (m Maturity) Valid() bool {
	_, ok := maturityRank[m]
	return ok
}

// AtLeast reports whether m meets or exceeds the required band.
func (m Maturity) AtLeast(required Maturity) bool {
	return m.Valid() && m.Rank() >= required.Rank()
}

// Next returns the band one above m. The second return is false when m is
// already AUTONOMOUS or unknown.
func (m Maturity) Next() (Maturity, bool) {
	switch m {
	case MaturityStudent:
		return MaturityIntern, true
	case MaturityIntern:
		return MaturitySupervised, true
	case MaturitySupervised:
		return MaturityAutonomous, true
	default:
		return "", false
	}
}

// ParseMaturity converts a stored string into a Maturity.
// Unknown values are rejected rather than defaulted.
func ParseMaturity(s string) (Maturity, bool) {
	m := Maturity(s)
	return m, m.Valid()
}

// ConfidenceBand returns the maturity band consistent with a confidence
// score. Boundaries are inclusive on the lower edge: STUDENT <0.5,
// INTERN [0.5,0.7), SUPERVISED [0.7,0.9), AUTONOMOUS >=0.9.
func ConfidenceBand(score float64) Maturity {
	switch {
	case score >= 0.9:
		return MaturityAutonomous
	case score >= 0.7:
		return MaturitySupervised
	case score >= 0.5:
		return MaturityIntern
	default:
		return MaturityStudent
	}
}

// Agent is the persisted governance state of an autonomous agent.
// Maturity changes only through GraduationService.Promote.
type Agent struct {
	ID         string   `json:"id"`
	Maturity   Maturity `json:"maturity"`
	Confidence float64  `json:"confidence"` // [0,1]

	// BandStartedAt marks when the agent entered its current band.
	// Episode coverage for graduation is counted from this instant.
	BandStartedAt time.Time `json:"band_started_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConsistentConfidence reports whether the agent's confidence score falls
// inside the band its maturity requires.
func (a *Agent) ConsistentConfidence() bool {
	return ConfidenceBand(a.Confidence) == a.Maturity
}
