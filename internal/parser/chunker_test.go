package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lenCounter counts one token per byte, which makes budgets easy to reason about.
type lenCounter struct{}

func (lenCounter) Count(word string) int { return len(word) }

// unitCounter counts one token per word.
type unitCounter struct{}

func (unitCounter) Count(string) int { return 1 }

func TestSplit_Empty(t *testing.T) {
	c := NewChunker(unitCounter{}, DefaultChunkConfig())

	for _, in := range []string{"", "   ", "\n\t  \n"} {
		assert.Empty(t, c.Split(in, 10), "input %q", in)
	}
}

func TestSplit_Boundaries(t *testing.T) {
	tests := []struct {
		name      string
		counter   TokenCounter
		text      string
		maxTokens int
		want      []string
	}{
		{
			name:      "fits in one chunk",
			counter:   unitCounter{},
			text:      "I feel a bit anxious today",
			maxTokens: 10,
			want:      []string{"I feel a bit anxious today"},
		},
		{
			name:      "exact budget closes chunk",
			counter:   unitCounter{},
			text:      "one two three four five six",
			maxTokens: 3,
			want:      []string{"one two three", "four five six"},
		},
		{
			name:      "partial final chunk",
			counter:   unitCounter{},
			text:      "a b c d e",
			maxTokens: 2,
			want:      []string{"a b", "c d", "e"},
		},
		{
			name:      "flush before overflow",
			counter:   lenCounter{},
			text:      "aaa bbbb cc",
			maxTokens: 6,
			want:      []string{"aaa", "bbbb cc"},
		},
		{
			name:      "oversized word stands alone",
			counter:   lenCounter{},
			text:      "hi supercalifragilistic ok",
			maxTokens: 5,
			want:      []string{"hi", "supercalifragilistic", "ok"},
		},
		{
			name:      "whitespace normalized",
			counter:   unitCounter{},
			text:      "  spaced\t\tout\n\nwords  ",
			maxTokens: 10,
			want:      []string{"spaced out words"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunker(tt.counter, DefaultChunkConfig())
			chunks := c.Split(tt.text, tt.maxTokens)

			got := make([]string, len(chunks))
			for i, ch := range chunks {
				got[i] = ch.Text
				assert.Equal(t, i, ch.Index)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Properties(t *testing.T) {
	text := strings.Repeat("Grounding helps when thoughts race. Name five things you can see, four you can touch. ", 40)
	c := NewChunker(lenCounter{}, DefaultChunkConfig())

	for _, maxTokens := range []int{1, 7, 25, 300} {
		chunks := c.Split(text, maxTokens)
		require.NotEmpty(t, chunks)

		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
			words := strings.Fields(ch.Text)
			if len(words) > 1 {
				assert.LessOrEqual(t, ch.Tokens, maxTokens, "chunk %d over budget", i)
			}
		}
		assert.Equal(t, strings.Join(strings.Fields(text), " "), strings.Join(texts, " "))
	}
}

func TestSplit_DefaultBudget(t *testing.T) {
	c := NewChunker(unitCounter{}, ChunkConfig{})
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens())

	chunks := c.Chunk(strings.Repeat("word ", 650))
	require.Len(t, chunks, 3)
	assert.Equal(t, 300, chunks[0].Tokens)
	assert.Equal(t, 300, chunks[1].Tokens)
	assert.Equal(t, 50, chunks[2].Tokens)
}

func TestApproxCounter(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"calm", 1},
		{"breathe", 2},
		{"overwhelmed!", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ApproxCounter{}.Count(tt.word), tt.word)
	}
}

func TestTiktokenCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that downloads BPE ranks in short mode")
	}

	counter, err := NewTiktokenCounter("")
	require.NoError(t, err)

	assert.Equal(t, 1, counter.Count("hello"))
	assert.Greater(t, counter.Count("antidisestablishmentarianism"), 1)

	c := NewChunker(counter, DefaultChunkConfig())
	chunks := c.Split(strings.Repeat("therapy ", 1000), 300)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.Tokens, 300)
	}
}
