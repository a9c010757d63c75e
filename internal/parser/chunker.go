package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// DefaultMaxTokens is the default chunk budget.
const DefaultMaxTokens = 300

// DefaultEncoding is the BPE used for token counting.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts subword tokens of a single word.
type TokenCounter interface {
	Count(word string) int
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. The BPE ranks are fetched on
// first use and cached by tiktoken-go (TIKTOKEN_CACHE_DIR).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the number of BPE tokens in word.
func (c *TiktokenCounter) Count(word string) int {
	return len(c.enc.Encode(word, nil, nil))
}

// ApproxCounter estimates four bytes per token, at least one per word.
// Used when no BPE encoding can be loaded.
type ApproxCounter struct{}

// Count returns the estimated token count of word.
func (ApproxCounter) Count(word string) int {
	n := (len(word) + 3) / 4
	if n == 0 && utf8.RuneCountInString(word) > 0 {
		n = 1
	}
	return n
}

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// MaxTokens bounds every chunk except one holding a single oversized word.
	MaxTokens int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxTokens: DefaultMaxTokens}
}

// Chunker splits text into contiguous token-bounded chunks.
type Chunker struct {
	counter TokenCounter
	cfg     ChunkConfig
}

// NewChunker creates a chunker. A nil counter falls back to ApproxCounter.
func NewChunker(counter TokenCounter, cfg ChunkConfig) *Chunker {
	if counter == nil {
		counter = ApproxCounter{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Chunker{counter: counter, cfg: cfg}
}

// MaxTokens returns the configured chunk budget.
func (c *Chunker) MaxTokens() int {
	return c.cfg.MaxTokens
}

// Chunk splits text using the configured budget.
func (c *Chunker) Chunk(text string) []models.Chunk {
	return c.Split(text, c.cfg.MaxTokens)
}

// Split walks the whitespace-separated words of text and groups them into
// chunks of at most maxTokens tokens. A word that alone exceeds the budget
// forms its own chunk. Joining the chunk texts with single spaces yields the
// words of text joined by single spaces.
func (c *Chunker) Split(text string, maxTokens int) []models.Chunk {
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []models.Chunk
	var current []string
	count := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, models.Chunk{
			Text:   strings.Join(current, " "),
			Tokens: count,
			Index:  len(chunks),
		})
		current = current[:0]
		count = 0
	}

	for _, word := range words {
		n := c.counter.Count(word)
		if len(current) > 0 && count+n > maxTokens {
			flush()
		}
		current = append(current, word)
		count += n
		if count >= maxTokens {
			flush()
		}
	}
	flush()

	return chunks
}
