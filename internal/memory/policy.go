package memory

import "strings"

// DefaultMinWords is the shortest text, in whitespace-separated words, worth embedding.
const DefaultMinWords = 3

// DefaultIgnorePhrases are low-information phrases that disqualify a text
// from being remembered.
var DefaultIgnorePhrases = []string{"thank you", "hi", "ok", "sure", "bye"}

// Policy decides which conversation texts are worth remembering. It trades
// recall for precision: short meaningful messages are skipped so memory is
// not flooded with greetings and acknowledgements.
type Policy struct {
	MinWords int
	// IgnorePhrases are matched case-insensitively as substrings.
	IgnorePhrases []string
}

// DefaultPolicy returns the default write policy.
func DefaultPolicy() Policy {
	return Policy{MinWords: DefaultMinWords, IgnorePhrases: DefaultIgnorePhrases}
}

// ShouldEmbed reports whether text should be stored.
func (p Policy) ShouldEmbed(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range p.IgnorePhrases {
		if phrase != "" && strings.Contains(lowered, strings.ToLower(phrase)) {
			return false
		}
	}
	return len(strings.Fields(text)) >= p.MinWords
}
