// Package safety assesses the emotional state of a message and derives the
// safety annotation appended to it before generation.
package safety

import "strings"

// CrisisPhrases are matched case-insensitively as substrings.
var CrisisPhrases = []string{
	"kill myself",
	"end it all",
	"suicidal",
	"i want to die",
	"self-harm",
	"can't go on",
	"hurt myself",
}

// DetectCrisis reports whether text contains a crisis phrase.
func DetectCrisis(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range CrisisPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
