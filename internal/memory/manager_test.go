package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindmate/internal/embedding"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/store"
)

const dim = 64

// fakeGenerator answers extraction and summary prompts from fixed values.
type fakeGenerator struct {
	mu         sync.Mutex
	extract    func(utterance string) (string, error)
	summary    string
	summaryErr error
	calls      []string
}

func (g *fakeGenerator) GenerateWithSystem(ctx context.Context, system, user string, _ int) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, user)
	g.mu.Unlock()

	if system == extractSystemPrompt {
		if g.extract == nil {
			return NoFactsMarker, nil
		}
		return g.extract(user)
	}
	return g.summary, g.summaryErr
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.Join(embedding.ErrService, context.DeadlineExceeded)
}

func newTestManager(t *testing.T, e embedding.Embedder, gen Generator) (*Manager, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "memory.db"),
		store.Config{Metric: store.MetricCosine, Dimension: dim}, nil)
	require.NoError(t, err)
	if e == nil {
		e = embedding.NewHash(dim)
	}
	m := NewManager(e, st, gen, Config{}, nil, nil)
	t.Cleanup(func() {
		_ = m.Close(context.Background())
		_ = st.Close()
	})
	return m, st
}

func TestRemember(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		entry  Entry
		stored bool
	}{
		{"meaningful utterance", Entry{Text: "User: I have been feeling down lately", Kind: models.KindUtterance}, true},
		{"greeting", Entry{Text: "User: hi", Kind: models.KindUtterance}, false},
		{"acknowledgement", Entry{Text: "Thank you, that helps a lot", Kind: models.KindReply}, false},
		{"short fact bypasses policy", Entry{Text: "likes tea", Kind: models.KindFact}, true},
		{"blank", Entry{Text: "   ", Kind: models.KindFact}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Namespace = "alice"
			tt.entry.SessionID = "s1"
			stored, err := m.Remember(ctx, tt.entry)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, stored)
		})
	}

	recs, err := st.List(ctx, "alice", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	for _, r := range recs {
		assert.Equal(t, "s1", r.SessionID)
		assert.Len(t, r.Vector, dim)
	}
}

func TestRemember_Rejects(t *testing.T) {
	m, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	_, err := m.Remember(ctx, Entry{Text: "a perfectly fine sentence", Namespace: "_corpus", Kind: models.KindUtterance})
	assert.ErrorIs(t, err, models.ErrInvalidNamespace)

	_, err = m.Remember(ctx, Entry{Text: "a perfectly fine sentence", Namespace: "alice", Kind: models.KindCorpus})
	assert.Error(t, err)
}

func TestRemember_EmbeddingFailureStoresNothing(t *testing.T) {
	m, st := newTestManager(t, failingEmbedder{embedding.NewHash(dim)}, nil)
	ctx := context.Background()

	stored, err := m.Remember(ctx, Entry{Text: "User: my sister is visiting next week", Namespace: "alice", Kind: models.KindUtterance})
	assert.False(t, stored)
	assert.ErrorIs(t, err, embedding.ErrService)

	recs, err := st.List(ctx, "alice", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRetrieveRelevant(t *testing.T) {
	m, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	for _, e := range []Entry{
		{Text: "User: my dog Rex loves the park", SessionID: "s1", Kind: models.KindUtterance},
		{Text: "Bot: a walk in the park with your dog sounds lovely", SessionID: "s2", Kind: models.KindReply},
		{Text: "User has a dog named Rex", SessionID: "s1", Kind: models.KindFact},
	} {
		e.Namespace = "alice"
		_, err := m.Remember(ctx, e)
		require.NoError(t, err)
	}

	got, err := m.RetrieveRelevant(ctx, "alice", "dog park")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"User: my dog Rex loves the park",
		"Bot: a walk in the park with your dog sounds lovely",
	}, got)

	other, err := m.RetrieveRelevant(ctx, "bob", "dog park")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRetrieveFacts_NamespaceScenario(t *testing.T) {
	m, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	_, err := m.Remember(ctx, Entry{Text: "likes tea", Namespace: "alice", SessionID: "s1", Kind: models.KindFact})
	require.NoError(t, err)

	alice, err := m.RetrieveFacts(ctx, "alice", FactQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"likes tea"}, alice)

	bob, err := m.RetrieveFacts(ctx, "bob", FactQuery{})
	require.NoError(t, err)
	assert.Empty(t, bob)

	excluded, err := m.RetrieveFacts(ctx, "alice", FactQuery{ExcludeSession: "s1"})
	require.NoError(t, err)
	assert.Empty(t, excluded)
}

func TestSummarize(t *testing.T) {
	boom := errors.New("model unavailable")

	tests := []struct {
		name    string
		facts   []string
		gen     *fakeGenerator
		want    Outcome
		text    string
		wantErr error
	}{
		{"no facts", nil, &fakeGenerator{summary: "unused"}, OutcomeEmpty, "", nil},
		{"ok", []string{"likes tea", "has a dog"}, &fakeGenerator{summary: " Alice likes tea and has a dog. "}, OutcomeOK, "Alice likes tea and has a dog.", nil},
		{"blank reply", []string{"likes tea"}, &fakeGenerator{summary: "  "}, OutcomeEmpty, "", nil},
		{"failure", []string{"likes tea"}, &fakeGenerator{summaryErr: boom}, OutcomeFailed, "", boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, nil, tt.gen)
			res := m.Summarize(context.Background(), tt.facts)
			assert.Equal(t, tt.want, res.Outcome, res.Outcome.String())
			assert.Equal(t, tt.text, res.Text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestSummarizeFacts_ExcludesSession(t *testing.T) {
	gen := &fakeGenerator{summary: "Alice likes tea."}
	m, _ := newTestManager(t, nil, gen)
	ctx := context.Background()

	_, err := m.Remember(ctx, Entry{Text: "likes tea", Namespace: "alice", SessionID: "old", Kind: models.KindFact})
	require.NoError(t, err)
	_, err = m.Remember(ctx, Entry{Text: "has a new job", Namespace: "alice", SessionID: "now", Kind: models.KindFact})
	require.NoError(t, err)

	res := m.SummarizeFacts(ctx, "alice", "now")
	require.Equal(t, OutcomeOK, res.Outcome)
	require.Len(t, gen.calls, 1)
	assert.Contains(t, gen.calls[0], "likes tea")
	assert.NotContains(t, gen.calls[0], "has a new job")

	bad := m.SummarizeFacts(ctx, "not a namespace!", "")
	assert.Equal(t, OutcomeFailed, bad.Outcome)
}

func TestExtractFacts(t *testing.T) {
	boom := errors.New("quota exceeded")

	tests := []struct {
		name    string
		reply   string
		err     error
		want    []string
		wantErr error
	}{
		{"bullets", "- likes tea\n- has a dog", nil, []string{"likes tea", "has a dog"}, nil},
		{"none", "None", nil, nil, nil},
		{"malformed", `{"facts": []}`, nil, nil, ErrMalformedExtraction},
		{"generation failure", "", boom, nil, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{extract: func(string) (string, error) { return tt.reply, tt.err }}
			m, _ := newTestManager(t, nil, gen)

			res := m.ExtractFacts(context.Background(), "I like tea and I have a dog")
			assert.Equal(t, tt.want, res.Facts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestRecordTurn_LaterReadsObserveWrites(t *testing.T) {
	gen := &fakeGenerator{extract: func(u string) (string, error) {
		if strings.Contains(u, "Rex") {
			return "- User has a dog named Rex", nil
		}
		return NoFactsMarker, nil
	}}
	m, st := newTestManager(t, nil, gen)
	ctx := context.Background()

	m.RecordTurn(TurnWrite{
		Namespace: "alice",
		SessionID: "s1",
		User:      "I have a dog named Rex and he keeps me going",
		Bot:       "Rex sounds like a wonderful companion",
		Emotion:   "joy",
	})

	facts, err := m.RetrieveFacts(ctx, "alice", FactQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"User has a dog named Rex"}, facts)

	recs, err := st.List(ctx, "alice", store.ListOptions{Kinds: models.ConversationKinds})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	texts := []string{recs[0].Text, recs[1].Text}
	assert.Contains(t, texts, "User: I have a dog named Rex and he keeps me going")
	assert.Contains(t, texts, "Bot: Rex sounds like a wonderful companion")
	assert.Equal(t, "joy", recs[0].Emotion)
}

func TestRecordTurn_FailuresAreSwallowed(t *testing.T) {
	gen := &fakeGenerator{extract: func(string) (string, error) { return "", errors.New("boom") }}
	m, _ := newTestManager(t, failingEmbedder{embedding.NewHash(dim)}, gen)

	m.RecordTurn(TurnWrite{Namespace: "alice", SessionID: "s1", User: "my mother is in hospital", Bot: "I am sorry to hear that"})
	require.NoError(t, m.Wait(context.Background(), "alice"))
}

func TestRecordTurn_NamespacesDoNotWaitOnEachOther(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{extract: func(u string) (string, error) {
		if strings.Contains(u, "slow") {
			<-release
		}
		return NoFactsMarker, nil
	}}
	m, _ := newTestManager(t, nil, gen)
	defer close(release)

	m.RecordTurn(TurnWrite{Namespace: "alice", SessionID: "s1", User: "a slow message to process", Bot: "noted"})
	m.RecordTurn(TurnWrite{Namespace: "bob", SessionID: "s2", User: "a quick message to process", Bot: "noted"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx, "bob"))

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, m.Wait(short, "alice"), context.DeadlineExceeded)
}

func TestClose_DrainsAndRejects(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()

	for range 5 {
		m.RecordTurn(TurnWrite{Namespace: "alice", SessionID: "s1", User: "I went running in the rain today", Bot: "Running can clear the mind"})
	}
	require.NoError(t, m.Close(ctx))

	recs, err := st.List(ctx, "alice", store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	m.RecordTurn(TurnWrite{Namespace: "alice", SessionID: "s1", User: "written after close", Bot: "dropped"})
	assert.Equal(t, 0, m.queue.Pending())
}
