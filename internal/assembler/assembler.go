// Package assembler turns retrieved memory, facts, corpus material and the
// recent session window into the message list sent to the completion model.
package assembler

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// DefaultPersona is the first system message of every prompt.
const DefaultPersona = "You are a gentle psychological assistant. Use context and memory to help the user calmly."

// DefaultWindowTurns is the number of recent session turns replayed verbatim.
const DefaultWindowTurns = 6

// NoBackground replaces an empty corpus section.
const NoBackground = "No background material."

// Input is everything known about a turn before generation.
type Input struct {
	Persona     string
	Facts       []string
	FactSummary string
	Memory      []string
	Corpus      []string
	Window      []models.Turn
	WindowTurns int
	Message     string
	Annotation  string
}

// Assemble builds the prompt in a single pass. Sections without content are
// omitted, except the corpus section which is always present.
func Assemble(in Input) []models.Message {
	persona := in.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	msgs := []models.Message{system(persona)}

	if facts := factsSection(in.Facts, in.FactSummary); facts != "" {
		msgs = append(msgs, system(facts))
	}
	if len(in.Memory) > 0 {
		msgs = append(msgs, system("Relevant memory from earlier conversations:\n"+strings.Join(in.Memory, "\n\n")))
	}

	background := NoBackground
	if len(in.Corpus) > 0 {
		background = strings.Join(in.Corpus, "\n\n")
	}
	msgs = append(msgs, system("Relevant psychological info:\n"+background))

	for _, t := range window(in.Window, in.WindowTurns) {
		msgs = append(msgs,
			models.Message{Role: models.RoleUser, Content: t.User},
			models.Message{Role: models.RoleAssistant, Content: t.Bot},
		)
	}

	content := in.Message
	if in.Annotation != "" {
		content += "\n\n" + in.Annotation
	}
	return append(msgs, models.Message{Role: models.RoleUser, Content: content})
}

func system(content string) models.Message {
	return models.Message{Role: models.RoleSystem, Content: content}
}

func factsSection(facts []string, summary string) string {
	if len(facts) == 0 && summary == "" {
		return ""
	}
	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("Known facts about the user:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if summary != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Summary: " + summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// window keeps the last n turns, oldest first.
func window(turns []models.Turn, n int) []models.Turn {
	if n <= 0 {
		n = DefaultWindowTurns
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}
