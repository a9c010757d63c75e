package safety

import (
	"fmt"
	"strings"
)

// MinAnnotateWords is the shortest message that can receive an annotation.
const MinAnnotateWords = 3

// CrisisNote is appended to messages flagged as a crisis.
const CrisisNote = "It sounds like you're really struggling. You're not alone.\n" +
	"Please consider talking to someone:\n" +
	"- https://findahelpline.com/\n" +
	"- 113 Zelfmoordpreventie (NL): 0800-0113"

// empathyEmotions receive an empathy note.
var empathyEmotions = map[string]bool{"sadness": true, "fear": true}

// Annotate returns the note to append to message, or "". Short messages are
// never annotated. A crisis overrides any emotion note.
func Annotate(message string, a Assessment) string {
	if len(strings.Fields(message)) < MinAnnotateWords {
		return ""
	}
	if a.Crisis {
		return CrisisNote
	}
	if empathyEmotions[a.Emotion] {
		return fmt.Sprintf("I hear you're feeling %s. I'm here for you.", a.Emotion)
	}
	return ""
}
