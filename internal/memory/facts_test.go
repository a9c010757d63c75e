package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"none marker", "None", nil},
		{"none with period", "none.", nil},
		{"empty", "  \n ", nil},
		{"dash bullets", "- likes tea\n- has a dog", []string{"likes tea", "has a dog"}},
		{"star and dot bullets", "* works nights\n• has two kids", []string{"works nights", "has two kids"}},
		{"numbered", "1. likes tea\n2) has a dog", []string{"likes tea", "has a dog"}},
		{"plain lines", "User likes tea\n\nUser has a dog\n", []string{"User likes tea", "User has a dog"}},
		{"marker line dropped", "- likes tea\nNone", []string{"likes tea"}},
		{"bullets without space", "-likes tea\n•has a dog\n*works nights", []string{"likes tea", "has a dog", "works nights"}},
		{"doubled bullet", "-- likes tea\n- • has a dog", []string{"likes tea", "has a dog"}},
		{"bare bullet dropped", "-\n- likes tea", []string{"likes tea"}},
		{"crlf", "- likes tea\r\n- has a dog\r\n", []string{"likes tea", "has a dog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFacts(tt.output, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFacts_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"json object", `{"facts": ["likes tea"]}`},
		{"json array", `["likes tea", "has a dog"]`},
		{"code fence", "```\nlikes tea\n```"},
		{"prose paragraph", strings.Repeat("The user mentioned many things at length. ", 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFacts(tt.output, 120)
			assert.ErrorIs(t, err, ErrMalformedExtraction)
			assert.Empty(t, got)
		})
	}
}

func TestDedupeFacts(t *testing.T) {
	got := DedupeFacts([]string{"Likes tea", "has a dog", "likes tea ", "", "Has a dog"})
	assert.Equal(t, []string{"Likes tea", "has a dog"}, got)
	assert.Empty(t, DedupeFacts(nil))
}
