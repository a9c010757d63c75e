package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldEmbed(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"feeling low", false},
		{"I feel sad", true},
		{"I feel very anxious about my exam tomorrow", true},
		{"Thank you so much for listening", false},
		{"THANK YOU for everything today", false},
		{"Hi there, how are you", false},
		{"ok that makes sense now", false},
		{"Sure, I will try breathing", false},
		{"bye for now my friend", false},
		// Phrases match as substrings, so "this" contains "hi".
		{"this week was rough", false},
		{"  spaced   out   words  ", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ShouldEmbed(tt.text), "%q", tt.text)
	}
}

func TestShouldEmbed_Custom(t *testing.T) {
	p := Policy{MinWords: 1, IgnorePhrases: []string{"lol"}}
	assert.True(t, p.ShouldEmbed("insomnia"))
	assert.False(t, p.ShouldEmbed("LOL right"))
}
