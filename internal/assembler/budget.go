package assembler

import (
	"strings"
	"unicode"
)

// Default reply caps, in tokens.
const (
	DefaultBaseTokens      = 50
	DefaultElaborateTokens = 200
)

// Budget picks the completion length for a message.
type Budget struct {
	Base      int
	Elaborate int
}

// DefaultBudget returns the default caps.
func DefaultBudget() Budget {
	return Budget{Base: DefaultBaseTokens, Elaborate: DefaultElaborateTokens}
}

// MaxTokens returns the elaborate cap when the message asks for an
// explanation, the base cap otherwise. A coarse word heuristic, not token
// accounting.
func (b Budget) MaxTokens(message string) int {
	base, elaborate := b.Base, b.Elaborate
	if base <= 0 {
		base = DefaultBaseTokens
	}
	if elaborate <= 0 {
		elaborate = DefaultElaborateTokens
	}
	if WantsElaboration(message) {
		return max(base, elaborate)
	}
	return base
}

// WantsElaboration reports whether message contains the whole word "why" or
// "how", or a word starting with "explain".
func WantsElaboration(message string) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if w == "why" || w == "how" || strings.HasPrefix(w, "explain") {
			return true
		}
	}
	return false
}
