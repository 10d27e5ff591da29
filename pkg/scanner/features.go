package scanner

import (
	"math"
	"regexp"
	"strings"
)

var (
	hexRunRe    = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}|0x[0-9a-fA-F]{4,}|[0-9a-fA-F]{32,})`)
	base64RunRe = regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`)
	identRe     = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]{0,63}\b`)
	digitRe     = regexp.MustCompile(`\d`)
)

// extractFeatures derives the numeric signals the semantic rules evaluate.
// Keys are stable; rules reference them by name.
func extractFeatures(code string) map[string]any {
	size := len(code)

	hexBytes := 0
	for _, m := range hexRunRe.FindAllString(code, -1) {
		hexBytes += len(m)
	}
	base64Bytes := 0
	for _, m := range base64RunRe.FindAllString(code, -1) {
		base64Bytes += len(m)
	}

	longest := 0
	for _, line := range strings.Split(code, "\n") {
		if len(line) > longest {
			longest = len(line)
		}
	}

	return map[string]any{
		"size":              size,
		"entropy":           shannonEntropy(code),
		"hex_density":       density(hexBytes, size),
		"base64_density":    density(base64Bytes, size),
		"ident_obfuscation": identifierObfuscation(code),
		"longest_line":      longest,
	}
}

func density(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

// shannonEntropy returns the byte-level entropy in bits per byte. Plain
// source text sits around 4.2–4.8; packed or encrypted payloads exceed 5.5.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	total := float64(len(s))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// identifierObfuscation is the fraction of identifiers that look machine
// generated: single letters with digit suffixes, long digit-heavy names, or
// hex-looking names.
func identifierObfuscation(code string) float64 {
	idents := identRe.FindAllString(code, -1)
	if len(idents) == 0 {
		return 0
	}
	suspect := 0
	for _, id := range idents {
		digits := len(digitRe.FindAllString(id, -1))
		switch {
		case len(id) >= 8 && digits*2 >= len(id):
			suspect++
		case len(id) >= 16 && isHexName(id):
			suspect++
		case len(id) <= 2 && digits > 0:
			suspect++
		}
	}
	return float64(suspect) / float64(len(idents))
}

func isHexName(s string) bool {
	s = strings.TrimPrefix(strings.ToLower(s), "_")
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return len(s) > 0
}
