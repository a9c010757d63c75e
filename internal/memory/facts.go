package memory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// NoFactsMarker is the extraction reply meaning "nothing to remember".
const NoFactsMarker = "None"

// DefaultMaxFactLength bounds a single extracted fact, in bytes.
const DefaultMaxFactLength = 200

// ErrMalformedExtraction indicates extraction output that does not follow the
// one-fact-per-line contract. Callers treat it as zero facts.
var ErrMalformedExtraction = errors.New("malformed fact extraction output")

var numberedBullet = regexp.MustCompile(`^\d+[.)]\s*`)

// ParseFacts parses fact extraction output: one fact per line, or the
// NoFactsMarker. Leading bullet punctuation ("-", "*", "•", "1." and "1)") is stripped and
// blank lines dropped. Output that is not line-shaped (code fences, JSON,
// or a line longer than maxLen) is rejected as a whole.
func ParseFacts(output string, maxLen int) ([]string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFactLength
	}

	trimmed := strings.TrimSpace(output)
	if trimmed == "" || isNoFacts(trimmed) {
		return nil, nil
	}
	if strings.Contains(trimmed, "```") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: structured output", ErrMalformedExtraction)
	}

	var facts []string
	for line := range strings.Lines(trimmed) {
		fact := stripBullet(strings.TrimSpace(line))
		if fact == "" || isNoFacts(fact) {
			continue
		}
		if len(fact) > maxLen {
			return nil, fmt.Errorf("%w: line of %d bytes exceeds %d", ErrMalformedExtraction, len(fact), maxLen)
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func isNoFacts(s string) bool {
	return strings.EqualFold(strings.TrimRight(s, "."), NoFactsMarker)
}

func stripBullet(line string) string {
	if rest := strings.TrimLeft(line, "-*• \t"); rest != line {
		return strings.TrimSpace(rest)
	}
	if loc := numberedBullet.FindStringIndex(line); loc != nil {
		return strings.TrimSpace(line[loc[1]:])
	}
	return line
}

// DedupeFacts drops repeated facts, comparing case-insensitively, and keeps
// the first occurrence of each.
func DedupeFacts(facts []string) []string {
	seen := make(map[string]bool, len(facts))
	out := facts[:0:0]
	for _, f := range facts {
		key := strings.ToLower(strings.TrimSpace(f))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
