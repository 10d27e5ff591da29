//go:build property
// +build property

package classify

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestClassifyRangeProperty verifies classification is total and bounded.
// Property: for any identifier, Classify(id) is in {1,2,3,4}.
func TestClassifyRangeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("classification is always in 1..4", prop.ForAll(
		func(id string) bool {
			level := Classify(id)
			return level.Valid()
		},
		gen.AnyString(),
	))

	properties.Property("classification is deterministic", prop.ForAll(
		func(id string) bool {
			return Classify(id) == Classify(id)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
