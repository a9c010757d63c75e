// Package corpus builds and searches the shared knowledge corpus that
// supplies background material to every conversation.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/mindmate/internal/embedding"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/parser"
	"github.com/raphaelgruber/mindmate/internal/store"
)

// DefaultBatchSize is the number of chunks embedded per request.
const DefaultBatchSize = 64

// ErrEmptyCorpus is returned when the source yields no text.
var ErrEmptyCorpus = errors.New("corpus source contains no text")

// ProgressFunc receives the number of embedded chunks out of total.
type ProgressFunc func(done, total int)

// BuildOptions configures a corpus build.
type BuildOptions struct {
	// BatchSize bounds every embedding request (default 64).
	BatchSize int
	// Concurrency sets the number of batches embedded in parallel (default 4).
	Concurrency int
}

// BuildResult summarizes a build.
type BuildResult struct {
	Files    int
	Sections int
	Chunks   int
	Duration time.Duration
}

// Builder turns text or Markdown sources into corpus records.
type Builder struct {
	chunker  *parser.Chunker
	embedder embedding.Embedder
	store    store.Store
	metrics  *metrics.Collector
	opts     BuildOptions
	logger   *slog.Logger
}

// NewBuilder creates a corpus builder.
func NewBuilder(chunker *parser.Chunker, embedder embedding.Embedder, st store.Store, opts BuildOptions, collector *metrics.Collector, logger *slog.Logger) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		chunker:  chunker,
		embedder: embedder,
		store:    st,
		metrics:  collector,
		opts:     opts,
		logger:   logger,
	}
}

// Build rebuilds the corpus from path, a file or a directory of .md, .markdown
// and .txt files. All chunks are embedded before the existing corpus is
// dropped, and a failed write restores it, so a failed build leaves the
// previous corpus in place.
func (b *Builder) Build(ctx context.Context, path string, progress ProgressFunc) (*BuildResult, error) {
	start := time.Now()

	files, err := CollectFiles(path)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{Files: len(files)}
	var records []models.CorpusRecord
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		recs, sections, err := b.split(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		result.Sections += sections
		for _, r := range recs {
			r.Position = len(records)
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		return nil, ErrEmptyCorpus
	}

	b.logger.Info("embedding corpus", "files", len(files), "chunks", len(records), "batch_size", b.opts.BatchSize)
	if err := b.embed(ctx, records, progress); err != nil {
		return nil, err
	}

	if err := b.replace(ctx, records); err != nil {
		return nil, err
	}

	result.Chunks = len(records)
	result.Duration = time.Since(start)
	b.logger.Info("corpus built", "files", result.Files, "chunks", result.Chunks, "duration", result.Duration)
	return result, nil
}

// replace swaps the stored corpus for records. If a write fails, the
// previous records are written back.
func (b *Builder) replace(ctx context.Context, records []models.CorpusRecord) error {
	previous, err := b.store.List(ctx, models.CorpusNamespace, store.ListOptions{Kinds: []models.Kind{models.KindCorpus}})
	if err != nil {
		return fmt.Errorf("snapshot corpus: %w", err)
	}
	if err := b.store.DropNamespace(ctx, models.CorpusNamespace); err != nil {
		return fmt.Errorf("drop corpus: %w", err)
	}

	createdAt := time.Now().UTC()
	for _, r := range records {
		if err := b.store.Upsert(ctx, models.CorpusNamespace, r.MemoryRecord(createdAt)); err != nil {
			err = fmt.Errorf("store chunk %d: %w", r.Position, err)
			if rerr := b.restore(context.WithoutCancel(ctx), previous); rerr != nil {
				b.logger.Error("restoring previous corpus failed", "records", len(previous), "error", rerr)
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	return nil
}

func (b *Builder) restore(ctx context.Context, previous []models.MemoryRecord) error {
	if err := b.store.DropNamespace(ctx, models.CorpusNamespace); err != nil {
		return fmt.Errorf("drop partial corpus: %w", err)
	}
	for _, r := range previous {
		if err := b.store.Upsert(ctx, models.CorpusNamespace, r); err != nil {
			return fmt.Errorf("restore chunk %s: %w", r.ID, err)
		}
	}
	b.logger.Warn("corpus build failed, previous corpus restored", "records", len(previous))
	return nil
}

// split chunks one source. Markdown is chunked per section and each chunk
// carries its section path as a header line.
func (b *Builder) split(file, content string) ([]models.CorpusRecord, int, error) {
	source := filepath.Base(file)
	ext := strings.ToLower(filepath.Ext(file))

	if ext != ".md" && ext != ".markdown" {
		var recs []models.CorpusRecord
		for _, c := range b.chunker.Chunk(content) {
			recs = append(recs, models.CorpusRecord{ID: models.NewRecordID(), Text: c.Text, Source: source})
		}
		return recs, 1, nil
	}

	doc, err := parser.ParseMarkdown(content)
	if err != nil {
		return nil, 0, fmt.Errorf("parse markdown: %w", err)
	}
	// A frontmatter title roots every section path of the document.
	title := doc.GetFrontmatterString("title")
	parts := doc.Parts()
	var recs []models.CorpusRecord
	for _, part := range parts {
		path := part.Path
		if title != "" && path != title {
			path = strings.TrimSuffix(title+" > "+path, " > ")
		}
		for _, c := range b.chunker.Chunk(part.Content) {
			text := c.Text
			if path != "" {
				text = path + "\n" + text
			}
			recs = append(recs, models.CorpusRecord{
				ID:      models.NewRecordID(),
				Text:    text,
				Source:  source,
				Section: path,
			})
		}
	}
	return recs, len(parts), nil
}

func (b *Builder) embed(ctx context.Context, records []models.CorpusRecord, progress ProgressFunc) error {
	total := len(records)
	var done atomic.Int64
	if progress != nil {
		progress(0, total)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for lo := 0; lo < total; lo += b.opts.BatchSize {
		hi := min(lo+b.opts.BatchSize, total)
		g.Go(func() error {
			batch := records[lo:hi]
			texts := make([]string, len(batch))
			for i, r := range batch {
				texts[i] = r.Text
			}

			track := b.metrics.Track(metrics.OpEmbedding)
			vectors, err := b.embedder.EmbedBatch(ctx, texts)
			track(err)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", lo, hi-1, err)
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}

			n := done.Add(int64(len(batch)))
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
	}
	return g.Wait()
}

// CollectFiles returns path itself when it is a file, or the corpus sources
// below it when it is a directory, in lexical order.
func CollectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat corpus source: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	walkFn := func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".md", ".markdown", ".txt":
			files = append(files, p)
		}
		return nil
	}
	if err := filepath.WalkDir(path, walkFn); err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}
	slices.Sort(files)
	return files, nil
}
