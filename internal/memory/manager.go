// Package memory implements long-term semantic memory: deciding what is worth
// remembering, writing it under the owning user's namespace, retrieving
// relevant memories and facts, and summarizing what is known about a user.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/mindmate/internal/embedding"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/store"
)

// Defaults for Config.
const (
	DefaultTopK          = 3
	DefaultFactLimit     = 100
	DefaultSummaryTokens = 150
	DefaultExtractTokens = 150
	DefaultWriteTimeout  = 30 * time.Second
)

// Generator produces text for a system and user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Config tunes the manager.
type Config struct {
	Policy Policy
	// TopK bounds relevant-memory retrieval.
	TopK int
	// FactLimit bounds fact retrieval. Facts are read with a full namespace
	// scan, so this is also the ceiling on how much a user profile can grow
	// before older facts stop being considered.
	FactLimit     int
	MaxFactLength int
	SummaryTokens int
	ExtractTokens int
	// WriteTimeout bounds one deferred turn write-back.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Policy.MinWords <= 0 && c.Policy.IgnorePhrases == nil {
		c.Policy = DefaultPolicy()
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.FactLimit <= 0 {
		c.FactLimit = DefaultFactLimit
	}
	if c.MaxFactLength <= 0 {
		c.MaxFactLength = DefaultMaxFactLength
	}
	if c.SummaryTokens <= 0 {
		c.SummaryTokens = DefaultSummaryTokens
	}
	if c.ExtractTokens <= 0 {
		c.ExtractTokens = DefaultExtractTokens
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Entry is a text to remember.
type Entry struct {
	Text      string
	Namespace string
	SessionID string
	Kind      models.Kind
	Emotion   string
}

// FactQuery filters fact retrieval.
type FactQuery struct {
	// ExcludeSession leaves out facts learned in this session.
	ExcludeSession string
}

// TurnWrite is a completed turn to be written back to memory.
type TurnWrite struct {
	Namespace string
	SessionID string
	User      string
	Bot       string
	Emotion   string
}

// Outcome classifies the result of an optional generative step.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeEmpty means there was nothing to produce.
	OutcomeEmpty
	// OutcomeFailed means the step failed; Err holds the cause.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// SummaryResult is the outcome of summarization. Text is empty unless the
// outcome is OutcomeOK.
type SummaryResult struct {
	Text    string
	Outcome Outcome
	Err     error
}

// ExtractionResult is the outcome of fact extraction. Facts is empty when
// Err is set.
type ExtractionResult struct {
	Facts []string
	Err   error
}

// Manager orchestrates memory writes and reads.
type Manager struct {
	embedder embedding.Embedder
	store    store.Store
	gen      Generator
	cfg      Config
	queue    *writeQueue
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewManager creates a memory manager. gen may be nil, which disables
// summarization and fact extraction.
func NewManager(embedder embedding.Embedder, st store.Store, gen Generator, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		embedder: embedder,
		store:    st,
		gen:      gen,
		cfg:      cfg,
		queue:    newWriteQueue(logger),
		metrics:  collector,
		logger:   logger,
	}
}

// Policy returns the write policy in effect.
func (m *Manager) Policy() Policy {
	return m.cfg.Policy
}

// Remember embeds and stores e. Facts bypass the write policy since the
// extractor already filtered them. It reports whether a record was stored.
func (m *Manager) Remember(ctx context.Context, e Entry) (bool, error) {
	if err := models.ValidateNamespace(e.Namespace); err != nil {
		return false, err
	}
	if !e.Kind.Valid() || e.Kind == models.KindCorpus {
		return false, fmt.Errorf("cannot remember kind %q", e.Kind)
	}
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return false, nil
	}
	if e.Kind != models.KindFact && !m.cfg.Policy.ShouldEmbed(text) {
		m.logger.Debug("skipping low-information text", "namespace", e.Namespace, "kind", e.Kind)
		return false, nil
	}

	vec, err := m.embed(ctx, text)
	if err != nil {
		return false, err
	}

	rec := models.MemoryRecord{
		ID:        models.NewRecordID(),
		Namespace: e.Namespace,
		SessionID: e.SessionID,
		Kind:      e.Kind,
		Text:      text,
		Vector:    vec,
		Emotion:   e.Emotion,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Upsert(ctx, e.Namespace, rec); err != nil {
		return false, fmt.Errorf("store %s: %w", e.Kind, err)
	}
	return true, nil
}

// RetrieveRelevant returns the texts of the utterances and replies nearest to
// query, across all of the user's sessions.
func (m *Manager) RetrieveRelevant(ctx context.Context, namespace, query string) ([]string, error) {
	if err := models.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := m.Wait(ctx, namespace); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vec, err := m.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := m.store.Query(ctx, namespace, vec, m.cfg.TopK, models.ConversationKinds...)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	texts := make([]string, len(matches))
	for i, match := range matches {
		texts[i] = match.Record.Text
	}
	return texts, nil
}

// RetrieveFacts returns the user's facts, oldest first, deduplicated. At
// most FactLimit of the most recent facts are considered.
func (m *Manager) RetrieveFacts(ctx context.Context, namespace string, q FactQuery) ([]string, error) {
	if err := models.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := m.Wait(ctx, namespace); err != nil {
		return nil, err
	}

	records, err := m.store.List(ctx, namespace, store.ListOptions{
		Kinds:          []models.Kind{models.KindFact},
		ExcludeSession: q.ExcludeSession,
		Limit:          m.cfg.FactLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}

	facts := make([]string, len(records))
	for i, r := range records {
		facts[i] = r.Text
	}
	return DedupeFacts(facts), nil
}

// Summarize produces a short digest of facts. It never fails the caller:
// failures are reported through the result and leave Text empty.
func (m *Manager) Summarize(ctx context.Context, facts []string) SummaryResult {
	facts = DedupeFacts(facts)
	if len(facts) == 0 {
		return SummaryResult{Outcome: OutcomeEmpty}
	}
	if m.gen == nil {
		return SummaryResult{Outcome: OutcomeEmpty}
	}

	track := m.metrics.Track(metrics.OpSummarize)
	out, err := m.gen.GenerateWithSystem(ctx, summarySystemPrompt, "Facts:\n- "+strings.Join(facts, "\n- "), m.cfg.SummaryTokens)
	track(err)
	if err != nil {
		m.logger.Warn("fact summarization failed", "facts", len(facts), "error", err)
		return SummaryResult{Outcome: OutcomeFailed, Err: err}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return SummaryResult{Outcome: OutcomeEmpty}
	}
	return SummaryResult{Text: out, Outcome: OutcomeOK}
}

// SummarizeFacts retrieves the user's facts, excluding excludeSession, and
// summarizes them.
func (m *Manager) SummarizeFacts(ctx context.Context, namespace, excludeSession string) SummaryResult {
	facts, err := m.RetrieveFacts(ctx, namespace, FactQuery{ExcludeSession: excludeSession})
	if err != nil {
		m.logger.Warn("fact retrieval for summary failed", "namespace", namespace, "error", err)
		return SummaryResult{Outcome: OutcomeFailed, Err: err}
	}
	return m.Summarize(ctx, facts)
}

// ExtractFacts asks the generator for atomic facts in utterance. Generation
// failures and malformed output both yield zero facts with Err set.
func (m *Manager) ExtractFacts(ctx context.Context, utterance string) ExtractionResult {
	if m.gen == nil || strings.TrimSpace(utterance) == "" {
		return ExtractionResult{}
	}

	track := m.metrics.Track(metrics.OpExtractFacts)
	out, err := m.gen.GenerateWithSystem(ctx, extractSystemPrompt, utterance, m.cfg.ExtractTokens)
	if err != nil {
		track(err)
		return ExtractionResult{Err: err}
	}

	facts, err := ParseFacts(out, m.cfg.MaxFactLength)
	track(err)
	if err != nil {
		return ExtractionResult{Err: err}
	}
	return ExtractionResult{Facts: facts}
}

// RecordTurn schedules the write-back of a completed turn: the utterance, the
// reply and the facts extracted from the utterance. Writes for one namespace
// run in submission order; failures are logged, never returned.
func (m *Manager) RecordTurn(t TurnWrite) {
	prom := m.metrics.Prometheus()
	prom.WriteBackStarted()

	err := m.queue.Enqueue(t.Namespace, func() {
		defer prom.WriteBackDone()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
		defer cancel()
		m.writeTurn(ctx, t)
	})
	if err != nil {
		prom.WriteBackDone()
		m.logger.Warn("turn write-back dropped", "namespace", t.Namespace, "error", err)
	}
}

func (m *Manager) writeTurn(ctx context.Context, t TurnWrite) {
	log := m.logger.With("namespace", t.Namespace, "session", t.SessionID)

	writes := []Entry{
		{Text: "User: " + t.User, Kind: models.KindUtterance},
		{Text: "Bot: " + t.Bot, Kind: models.KindReply},
	}
	for _, e := range writes {
		e.Namespace, e.SessionID, e.Emotion = t.Namespace, t.SessionID, t.Emotion
		if _, err := m.Remember(ctx, e); err != nil {
			log.Warn("memory write failed", "kind", e.Kind, "error", err)
		}
	}

	res := m.ExtractFacts(ctx, t.User)
	switch {
	case errors.Is(res.Err, ErrMalformedExtraction):
		log.Info("discarding malformed fact extraction", "error", res.Err)
	case res.Err != nil:
		log.Warn("fact extraction failed", "error", res.Err)
	}
	for _, fact := range res.Facts {
		if _, err := m.Remember(ctx, Entry{Text: fact, Namespace: t.Namespace, SessionID: t.SessionID, Kind: models.KindFact}); err != nil {
			log.Warn("fact write failed", "error", err)
		}
	}
	if len(res.Facts) > 0 {
		log.Debug("facts stored", "count", len(res.Facts))
	}
}

// Wait blocks until writes already scheduled for namespace have completed.
func (m *Manager) Wait(ctx context.Context, namespace string) error {
	return m.queue.Wait(ctx, namespace)
}

// Close stops accepting write-backs and drains the pending ones.
func (m *Manager) Close(ctx context.Context) error {
	return m.queue.Close(ctx)
}

func (m *Manager) embed(ctx context.Context, text string) ([]float32, error) {
	track := m.metrics.Track(metrics.OpEmbedding)
	vec, err := m.embedder.Embed(ctx, text)
	track(err)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) != m.embedder.Dimension() {
		return nil, fmt.Errorf("%w: %w", embedding.ErrDimensionMismatch, &models.DimensionError{Want: m.embedder.Dimension(), Got: len(vec)})
	}
	return vec, nil
}
