// Package storetest holds the behaviour every store backend must share.
// Backend tests call Run with an opener bound to a fresh location.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/store"
)

// Dim is the vector dimension used by the suite.
const Dim = 4

// Opener opens a store at a location fixed by the caller. Opening twice must
// reach the same persisted data.
type Opener func(cfg store.Config) (store.Store, error)

// Options tune the suite to backend capabilities.
type Options struct {
	// SupportsL2 enables the Euclidean metric cases.
	SupportsL2 bool
}

// Run executes the conformance suite. fresh is called once per case and
// must return an opener for an empty location.
func Run(t *testing.T, fresh func(t *testing.T) Opener, opts Options) {
	cosine := store.Config{Metric: store.MetricCosine, Dimension: Dim}

	open := func(t *testing.T) store.Store {
		t.Helper()
		s, err := fresh(t)(cosine)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("namespace isolation", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, "alice", record("a1", "alice", models.KindFact, "User likes dogs", vec(1, 0, 0, 0), 0)))
		require.NoError(t, s.Upsert(ctx, "bob", record("b1", "bob", models.KindFact, "User likes cats", vec(1, 0, 0, 0), 0)))

		matches, err := s.Query(ctx, "alice", vec(1, 0, 0, 0), 10)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "alice", matches[0].Record.Namespace)
		assert.Equal(t, "User likes dogs", matches[0].Record.Text)

		list, err := s.List(ctx, "bob", store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "User likes cats", list[0].Text)

		empty, err := s.Query(ctx, "carol", vec(1, 0, 0, 0), 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		in := record("r1", "alice", models.KindUtterance, "User: I feel anxious", vec(0.6, 0.8, 0, 0), 0)
		in.SessionID = "sess0001"
		in.Emotion = "fear"
		require.NoError(t, s.Upsert(ctx, "alice", in))

		matches, err := s.Query(ctx, "alice", in.Vector, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)

		got := matches[0]
		assert.InDelta(t, 0, got.Distance, 1e-5)
		assert.Equal(t, in.ID, got.Record.ID)
		assert.Equal(t, in.Text, got.Record.Text)
		assert.Equal(t, in.Kind, got.Record.Kind)
		assert.Equal(t, in.SessionID, got.Record.SessionID)
		assert.Equal(t, in.Emotion, got.Record.Emotion)
		assert.InDeltaSlice(t, in.Vector, got.Record.Vector, 1e-5)
		assert.WithinDuration(t, in.CreatedAt, got.Record.CreatedAt, time.Millisecond)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, "alice", record("same", "alice", models.KindFact, "old", vec(1, 0, 0, 0), 0)))
		require.NoError(t, s.Upsert(ctx, "alice", record("same", "alice", models.KindFact, "new", vec(0, 1, 0, 0), 1)))

		list, err := s.List(ctx, "alice", store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "new", list[0].Text)
		assert.InDeltaSlice(t, []float32{0, 1, 0, 0}, list[0].Vector, 1e-5)
	})

	t.Run("nearest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		vectors := map[string][]float32{
			"exact": vec(1, 0, 0, 0),
			"close": vec(0.9, 0.1, 0, 0),
			"mid":   vec(0.5, 0.5, 0, 0),
			"far":   vec(0, 1, 0, 0),
			"away":  vec(-1, 0, 0, 0),
		}
		i := 0
		for id, v := range vectors {
			require.NoError(t, s.Upsert(ctx, "alice", record(id, "alice", models.KindReply, "Bot: "+id, v, i)))
			i++
		}

		matches, err := s.Query(ctx, "alice", vec(1, 0, 0, 0), 3)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, []string{"exact", "close", "mid"}, ids(matches))
		for j := 1; j < len(matches); j++ {
			assert.LessOrEqual(t, matches[j-1].Distance, matches[j].Distance)
		}

		none, err := s.Query(ctx, "alice", vec(1, 0, 0, 0), 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("kind filter", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, "alice", record("u", "alice", models.KindUtterance, "User: hello there friend", vec(1, 0, 0, 0), 0)))
		require.NoError(t, s.Upsert(ctx, "alice", record("r", "alice", models.KindReply, "Bot: hello to you", vec(0.9, 0.1, 0, 0), 1)))
		require.NoError(t, s.Upsert(ctx, "alice", record("f", "alice", models.KindFact, "User has a dog", vec(1, 0.01, 0, 0), 2)))

		matches, err := s.Query(ctx, "alice", vec(1, 0, 0, 0), 5, models.KindUtterance, models.KindReply)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u", "r"}, ids(matches))

		facts, err := s.Query(ctx, "alice", vec(1, 0, 0, 0), 5, models.KindFact)
		require.NoError(t, err)
		assert.Equal(t, []string{"f"}, ids(facts))
	})

	t.Run("list order and filters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := range 6 {
			rec := record(fmt.Sprintf("f%d", i), "alice", models.KindFact, fmt.Sprintf("fact %d", i), vec(1, float32(i), 0, 0), i)
			rec.SessionID = "old"
			if i >= 4 {
				rec.SessionID = "current"
			}
			require.NoError(t, s.Upsert(ctx, "alice", rec))
		}
		require.NoError(t, s.Upsert(ctx, "alice", record("u", "alice", models.KindUtterance, "User: not a fact", vec(0, 1, 0, 0), 10)))

		all, err := s.List(ctx, "alice", store.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 7)

		facts, err := s.List(ctx, "alice", store.ListOptions{Kinds: []models.Kind{models.KindFact}})
		require.NoError(t, err)
		assert.Equal(t, []string{"f0", "f1", "f2", "f3", "f4", "f5"}, recordIDs(facts))

		excluded, err := s.List(ctx, "alice", store.ListOptions{Kinds: []models.Kind{models.KindFact}, ExcludeSession: "current"})
		require.NoError(t, err)
		assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, recordIDs(excluded))

		recent, err := s.List(ctx, "alice", store.ListOptions{Kinds: []models.Kind{models.KindFact}, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"f4", "f5"}, recordIDs(recent))

		none, err := s.List(ctx, "nobody", store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("drop namespace", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, models.CorpusNamespace, record("c1", models.CorpusNamespace, models.KindCorpus, "chunk", vec(1, 0, 0, 0), 0)))
		require.NoError(t, s.Upsert(ctx, "alice", record("a1", "alice", models.KindFact, "keep me", vec(1, 0, 0, 0), 0)))

		require.NoError(t, s.DropNamespace(ctx, models.CorpusNamespace))

		corpus, err := s.List(ctx, models.CorpusNamespace, store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, corpus)

		alice, err := s.List(ctx, "alice", store.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, alice, 1)

		// Dropping is repeatable and the namespace is usable afterwards.
		require.NoError(t, s.DropNamespace(ctx, models.CorpusNamespace))
		require.NoError(t, s.Upsert(ctx, models.CorpusNamespace, record("c2", models.CorpusNamespace, models.KindCorpus, "rebuilt", vec(0, 1, 0, 0), 1)))
		corpus, err = s.List(ctx, models.CorpusNamespace, store.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, recordIDs(corpus))
	})

	t.Run("invalid input", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		err := s.Upsert(ctx, "alice", record("x", "alice", models.KindFact, "short", []float32{1, 0, 0}, 0))
		require.ErrorIs(t, err, store.ErrDimensionMismatch)
		require.ErrorIs(t, err, store.ErrVectorStore)

		_, err = s.Query(ctx, "alice", []float32{1, 0}, 3)
		require.ErrorIs(t, err, store.ErrDimensionMismatch)

		_, err = s.Query(ctx, "alice", vec(0, 0, 0, 0), 3)
		require.ErrorIs(t, err, store.ErrInvalidVector)

		err = s.Upsert(ctx, "alice", record("x", "bob", models.KindFact, "wrong owner", vec(1, 0, 0, 0), 0))
		require.ErrorIs(t, err, store.ErrInvalidRecord)

		err = s.Upsert(ctx, "alice", record("x", "alice", models.KindFact, "", vec(1, 0, 0, 0), 0))
		require.ErrorIs(t, err, store.ErrInvalidRecord)

		list, err := s.List(ctx, "alice", store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list, "rejected records must not be stored")
	})

	t.Run("config pinned on reopen", func(t *testing.T) {
		opener := fresh(t)
		s, err := opener(cosine)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(context.Background(), "alice", record("a", "alice", models.KindFact, "persisted", vec(1, 0, 0, 0), 0)))
		require.NoError(t, s.Close())

		_, err = opener(store.Config{Metric: store.MetricCosine, Dimension: Dim + 4})
		require.ErrorIs(t, err, store.ErrConfigMismatch)

		if opts.SupportsL2 {
			_, err = opener(store.Config{Metric: store.MetricL2, Dimension: Dim})
			require.ErrorIs(t, err, store.ErrConfigMismatch)
		}

		s, err = opener(cosine)
		require.NoError(t, err)
		defer s.Close()
		list, err := s.List(context.Background(), "alice", store.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, recordIDs(list))
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for w := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ns := fmt.Sprintf("user%d", w%2)
				for i := range 10 {
					id := fmt.Sprintf("w%d-%d", w, i)
					assert.NoError(t, s.Upsert(ctx, ns, record(id, ns, models.KindFact, id, vec(1, float32(i), 0, 0), i)))
				}
				for i := range 5 {
					assert.NoError(t, s.Upsert(ctx, ns, record("shared", ns, models.KindFact, fmt.Sprintf("w%d", w), vec(0, 1, float32(i), 0), i)))
				}
			}()
		}
		wg.Wait()

		for _, ns := range []string{"user0", "user1"} {
			list, err := s.List(ctx, ns, store.ListOptions{})
			require.NoError(t, err)
			assert.Len(t, list, 21, ns)
		}
	})

	if opts.SupportsL2 {
		t.Run("euclidean metric", func(t *testing.T) {
			s, err := fresh(t)(store.Config{Metric: store.MetricL2, Dimension: Dim})
			require.NoError(t, err)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Upsert(ctx, "alice", record("p", "alice", models.KindFact, "point", vec(3, 0, 0, 0), 0)))
			require.NoError(t, s.Upsert(ctx, "alice", record("q", "alice", models.KindFact, "other", vec(0, 1, 0, 0), 1)))

			matches, err := s.Query(ctx, "alice", vec(0, 4, 0, 0), 2)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "q", matches[0].Record.ID)
			assert.InDelta(t, 3.0, matches[0].Distance, 1e-4)
			assert.InDelta(t, 5.0, matches[1].Distance, 1e-4)

			// The zero vector is a valid point in Euclidean space.
			zero, err := s.Query(ctx, "alice", vec(0, 0, 0, 0), 1)
			require.NoError(t, err)
			require.Len(t, zero, 1)
			assert.Equal(t, "q", zero[0].Record.ID)
		})
	}
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id, ns string, kind models.Kind, text string, v []float32, offset int) models.MemoryRecord {
	return models.MemoryRecord{
		ID:        id,
		Namespace: ns,
		Kind:      kind,
		Text:      text,
		Vector:    v,
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

func vec(xs ...float32) []float32 { return xs }

func ids(matches []store.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Record.ID
	}
	return out
}

func recordIDs(records []models.MemoryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
