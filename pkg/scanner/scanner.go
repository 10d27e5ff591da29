// Package scanner vets skill code before it is eligible to run anywhere.
//
// Scanning is two-phase: a fixed static blocklist first, then — only when
// the blocklist is clean — semantic rules over extracted code features that
// catch obfuscated or novel payloads. Results are cached by content hash so
// identical submissions are never rescanned.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Verdict is the outcome of a scan.
type Verdict string

const (
	// VerdictPass clears the submission for registration.
	VerdictPass Verdict = "PASS"
	// VerdictFlagged registers the skill quarantined: sandbox execution
	// only, never unattended.
	VerdictFlagged Verdict = "FLAGGED"
	// VerdictRejected permanently blocks the content hash. There is no
	// retry-without-fix path.
	VerdictRejected Verdict = "REJECTED"
)

// Violation is one matched rule.
type Violation struct {
	Rule     string            `json:"rule"`
	Category ViolationCategory `json:"category"`
	Detail   string            `json:"detail,omitempty"`
}

// ScanResult is the immutable outcome for one content hash.
type ScanResult struct {
	Verdict     Verdict     `json:"verdict"`
	Violations  []Violation `json:"violations,omitempty"`
	ContentHash string      `json:"content_hash"`
	ScannedAt   time.Time   `json:"scanned_at"`
}

// SemanticRule is a CEL expression over the extracted feature map. When the
// expression evaluates true the rule fires with its verdict.
type SemanticRule struct {
	Name    string
	Expr    string
	Verdict Verdict
}

// Default semantic rules. Thresholds are tuned against ordinary source
// text, which sits near 4.2-4.8 bits/byte of entropy with negligible
// encoded-blob density.
var defaultSemanticRules = []SemanticRule{
	{"high-entropy-payload", `features.entropy > 5.5 && features.size > 512`, VerdictFlagged},
	{"packed-payload", `features.entropy > 6.5 && features.size > 256`, VerdictRejected},
	{"hex-blob", `features.hex_density > 0.30`, VerdictFlagged},
	{"base64-blob", `features.base64_density > 0.35`, VerdictFlagged},
	{"obfuscated-identifiers", `features.ident_obfuscation > 0.40`, VerdictFlagged},
	{"minified-single-line", `features.longest_line > 4000 && features.entropy > 5.0`, VerdictFlagged},
}

// Scanner runs both phases and caches results by content hash.
type Scanner struct {
	env    *cel.Env
	rules  []SemanticRule
	logger *slog.Logger
	clock  func() time.Time

	progMu   sync.RWMutex
	programs map[string]cel.Program

	cacheMu sync.RWMutex
	results map[string]*ScanResult
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) ScannerOption {
	return func(s *Scanner) { s.clock = clock }
}

// WithSemanticRules replaces the default semantic rule set.
func WithSemanticRules(rules []SemanticRule) ScannerOption {
	return func(s *Scanner) { s.rules = rules }
}

// NewScanner builds a scanner with the default blocklist and semantic rules.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	env, err := cel.NewEnv(
		cel.Variable("features", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("scanner: create CEL environment: %w", err)
	}

	s := &Scanner{
		env:      env,
		rules:    defaultSemanticRules,
		logger:   slog.Default(),
		clock:    time.Now,
		programs: make(map[string]cel.Program),
		results:  make(map[string]*ScanResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ContentHash returns the hex SHA-256 of the submission, the key under which
// scan results (and registry rejections) are recorded.
func ContentHash(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// Scan vets one submission. Identical content returns the cached result.
func (s *Scanner) Scan(ctx context.Context, code []byte) (*ScanResult, error) {
	hash := ContentHash(code)

	s.cacheMu.RLock()
	cached, ok := s.results[hash]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err := s.scan(ctx, string(code), hash)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.results[hash] = result
	s.cacheMu.Unlock()

	if result.Verdict != VerdictPass {
		s.logger.Info("scan verdict",
			"content_hash", hash, "verdict", result.Verdict,
			"violations", len(result.Violations))
	}
	return result, nil
}

func (s *Scanner) scan(ctx context.Context, code, hash string) (*ScanResult, error) {
	result := &ScanResult{
		Verdict:     VerdictPass,
		ContentHash: hash,
		ScannedAt:   s.clock().UTC(),
	}

	// Phase 1: fixed blocklist. Any match rejects.
	for _, rule := range staticRules {
		if loc := rule.re.FindStringIndex(code); loc != nil {
			result.Violations = append(result.Violations, Violation{
				Rule:     rule.name,
				Category: rule.category,
				Detail:   excerpt(code, loc[0], loc[1]),
			})
		}
	}
	if len(result.Violations) > 0 {
		result.Verdict = VerdictRejected
		return result, nil
	}

	// Phase 2: semantic rules over extracted features. Only reached when
	// the blocklist is clean.
	input := map[string]any{"features": extractFeatures(code)}
	for _, rule := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fired, err := s.evaluate(rule.Expr, input)
		if err != nil {
			return nil, fmt.Errorf("scanner: semantic rule %s: %w", rule.Name, err)
		}
		if !fired {
			continue
		}
		result.Violations = append(result.Violations, Violation{
			Rule:     rule.Name,
			Category: CategoryObfuscation,
		})
		if rule.Verdict == VerdictRejected {
			result.Verdict = VerdictRejected
		} else if result.Verdict == VerdictPass {
			result.Verdict = VerdictFlagged
		}
	}

	return result, nil
}

// evaluate compiles (once, cached) and runs a CEL expression. Cost-limited
// so a pathological rule cannot stall scanning.
func (s *Scanner) evaluate(expr string, input map[string]any) (bool, error) {
	s.progMu.RLock()
	prg, hit := s.programs[expr]
	s.progMu.RUnlock()

	if !hit {
		s.progMu.Lock()
		if prg, hit = s.programs[expr]; !hit {
			ast, issues := s.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				s.progMu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := s.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				s.progMu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			s.programs[expr] = p
			prg = p
		}
		s.progMu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	fired, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return fired, nil
}

// excerpt returns a short context window around a match for the violation
// record. Never more than 80 bytes.
func excerpt(code string, start, end int) string {
	lo := start - 20
	if lo < 0 {
		lo = 0
	}
	hi := end + 20
	if hi > len(code) {
		hi = len(code)
	}
	if hi-lo > 80 {
		hi = lo + 80
	}
	return code[lo:hi]
}
