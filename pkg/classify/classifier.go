// Package classify maps action identifiers to complexity levels.
//
// Classification is pure and deterministic: identifiers are normalized
// (NFKC + lower-case) before lookup, exact table matches win outright, and
// when several table keys could match the longest (most specific) key wins.
// Naive substring iteration is deliberately avoided — it lets a generic
// key like "get" shadow "device_get_location".
package classify

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// complexityTable is the static action-risk table. Keys are normalized.
var complexityTable = map[string]contracts.ComplexityLevel{
	// Level 1: read-only, reversible.
	"get":                 contracts.ComplexityTrivial,
	"list":                contracts.ComplexityTrivial,
	"read":                contracts.ComplexityTrivial,
	"search":              contracts.ComplexityTrivial,
	"view":                contracts.ComplexityTrivial,
	"status":              contracts.ComplexityTrivial,
	"fetch_report":        contracts.ComplexityTrivial,
	"device_get_location": contracts.ComplexityTrivial,

	// Level 2: additive writes, easily reversible.
	"draft":     contracts.ComplexityStandard,
	"comment":   contracts.ComplexityStandard,
	"tag":       contracts.ComplexityStandard,
	"log":       contracts.ComplexityStandard,
	"notify":    contracts.ComplexityStandard,
	"schedule":  contracts.ComplexityStandard,
	"sync_pull": contracts.ComplexityStandard,

	// Level 3: mutating writes and outward-facing effects.
	"create":       contracts.ComplexityElevated,
	"update":       contracts.ComplexityElevated,
	"send_email":   contracts.ComplexityElevated,
	"send_message": contracts.ComplexityElevated,
	"publish":      contracts.ComplexityElevated,
	"assign":       contracts.ComplexityElevated,
	"sync_push":    contracts.ComplexityElevated,
	"invite_user":  contracts.ComplexityElevated,

	// Level 4: destructive or financially binding.
	"delete":          contracts.ComplexityCritical,
	"purge":           contracts.ComplexityCritical,
	"payment":         contracts.ComplexityCritical,
	"refund":          contracts.ComplexityCritical,
	"transfer_funds":  contracts.ComplexityCritical,
	"grant_access":    contracts.ComplexityCritical,
	"revoke_access":   contracts.ComplexityCritical,
	"deploy":          contracts.ComplexityCritical,
	"bulk_delete":     contracts.ComplexityCritical,
	"export_all_data": contracts.ComplexityCritical,
}

// tableKeys holds the table keys sorted longest-first so the most specific
// key always wins containment ties regardless of map iteration order.
var tableKeys = func() []string {
	keys := make([]string, 0, len(complexityTable))
	for k := range complexityTable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Normalize canonicalizes an action identifier for table lookup:
// NFKC normalization, lower-casing, and surrounding-space trimming.
func Normalize(actionID string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(actionID)))
}

// Classify returns the complexity level for an action identifier.
// The result is always in {1,2,3,4}; unmapped identifiers default to 2.
func Classify(actionID string) contracts.ComplexityLevel {
	id := Normalize(actionID)
	if id == "" {
		return contracts.DefaultComplexity
	}

	// Exact match first.
	if level, ok := complexityTable[id]; ok {
		return level
	}

	// Longest-key containment: "device_get_location" must resolve via its
	// own key (or the longest matching one), never via a shorter generic
	// key that happens to be checked first.
	for _, key := range tableKeys {
		if strings.Contains(id, key) {
			return complexityTable[key]
		}
	}

	return contracts.DefaultComplexity
}
