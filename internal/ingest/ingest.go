package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"rag-assistant/internal/embedding"
	"rag-assistant/internal/models"
	"rag-assistant/internal/parser"
	"rag-assistant/internal/store"
)

var tracer = otel.Tracer("rag-assistant/internal/ingest")

// Embedder is satisfied by *embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Stats summarizes one ingestion run.
type Stats struct {
	Files      int64 `json:"files"`
	FileErrors int64 `json:"file_errors"`
	Chunks     int64 `json:"chunks"`
	Batches    int64 `json:"batches"`
	Stored     int64 `json:"stored"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

// Orchestrator reads documents, splits them into chunks and embeds and
// stores the chunks in concurrent batches with a pause between batches.
type Orchestrator struct {
	chunker   *parser.Chunker
	embedder  Embedder
	store     store.Store
	batchSize int
	pause     time.Duration
	model     string
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) { o.batchSize = n }
}

func WithBatchPause(d time.Duration) Option {
	return func(o *Orchestrator) { o.pause = d }
}

// WithEmbeddingModel sets the model name recorded in each record's metadata.
func WithEmbeddingModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(chunker *parser.Chunker, embedder Embedder, s store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chunker:   chunker,
		embedder:  embedder,
		store:     s,
		batchSize: models.DefaultBatchSize,
		pause:     models.DefaultBatchPause,
		model:     models.DefaultEmbeddingModel,
		sleep:     embedding.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.batchSize < 1 {
		o.batchSize = 1
	}
	return o
}

type counters struct {
	files, fileErrors, chunks, batches, stored, skipped, failed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Files:      c.files.Load(),
		FileErrors: c.fileErrors.Load(),
		Chunks:     c.chunks.Load(),
		Batches:    c.batches.Load(),
		Stored:     c.stored.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
	}
}

// run carries the state of one ingestion call; the pause applies between
// any two consecutive batches of the run, also across files.
type run struct {
	o     *Orchestrator
	stats counters
}

// Ingest processes every regular file directly under dir. Per file and per
// chunk failures are logged and counted, never returned.
func (o *Orchestrator) Ingest(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	r := &run{o: o}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("Error reading file info")
			r.stats.fileErrors.Add(1)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := r.file(ctx, path); err != nil {
			return r.stats.snapshot(), err
		}
	}

	stats := r.stats.snapshot()
	log.Info().Interface("stats", stats).Str("dir", dir).Msg("Ingestion completed")
	return stats, nil
}

// IngestFile processes a single document.
func (o *Orchestrator) IngestFile(ctx context.Context, path string) (Stats, error) {
	r := &run{o: o}
	err := r.file(ctx, path)
	return r.stats.snapshot(), err
}

// ReplaceFile drops every stored chunk of the document before ingesting it
// again, so chunks the new content no longer produces do not linger.
func (o *Orchestrator) ReplaceFile(ctx context.Context, path string) (Stats, error) {
	name := filepath.Base(path)
	if err := o.store.DeleteFile(ctx, name); err != nil {
		return Stats{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	log.Info().Str("file", name).Msg("Removed previous chunks")
	return o.IngestFile(ctx, path)
}

// Reprocess clears the store and ingests dir from scratch.
func (o *Orchestrator) Reprocess(ctx context.Context, dir string) (Stats, error) {
	if err := o.store.ClearAll(ctx); err != nil {
		return Stats{}, fmt.Errorf("clear store: %w", err)
	}
	log.Info().Msg("Cleared existing embeddings")
	return o.Ingest(ctx, dir)
}

// file only returns an error when ctx is done.
func (r *run) file(ctx context.Context, path string) error {
	name := filepath.Base(path)
	ctx, span := tracer.Start(ctx, "ingest.File")
	span.SetAttributes(attribute.String("file", name))
	defer span.End()

	log.Info().Str("file", name).Msg("Processing file")
	content, err := parser.ReadDocument(path)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Error reading file")
		r.stats.fileErrors.Add(1)
		return nil
	}
	r.stats.files.Add(1)

	all := r.o.chunker.Chunks(name, content)
	r.stats.chunks.Add(int64(len(all)))
	span.SetAttributes(attribute.Int("chunks", len(all)))
	chunks := uniqueChunks(all)
	if dups := len(all) - len(chunks); dups > 0 {
		log.Debug().Str("file", name).Int("duplicates", dups).Msg("Skipping repeated chunks")
		r.stats.skipped.Add(int64(dups))
	}
	if len(chunks) == 0 {
		log.Info().Str("file", name).Msg("No chunks generated from content")
		return nil
	}
	log.Info().
		Str("file", name).
		Int("chunks", len(chunks)).
		Int("avg_chunk_chars", averageChars(chunks)).
		Msg("Split into chunks")

	for start := 0; start < len(chunks); start += r.o.batchSize {
		end := min(start+r.o.batchSize, len(chunks))
		if err := r.batch(ctx, name, chunks, start, end); err != nil {
			return err
		}
	}

	log.Info().Str("file", name).Msg("Completed processing file")
	return nil
}

// batch waits out the pause when another batch ran before it, then runs
// one embed and store task per chunk and waits for all of them.
func (r *run) batch(ctx context.Context, name string, chunks []string, start, end int) error {
	if r.stats.batches.Load() > 0 {
		if err := r.o.sleep(ctx, r.o.pause); err != nil {
			return err
		}
	}
	r.stats.batches.Add(1)

	var g errgroup.Group
	for i := start; i < end; i++ {
		g.Go(func() error {
			r.chunk(ctx, name, i+1, len(chunks), chunks[i])
			return nil
		})
	}
	return g.Wait()
}

func (r *run) chunk(ctx context.Context, name string, num, total int, content string) {
	logger := log.With().Str("file", name).Int("chunk", num).Int("total", total).Logger()
	logger.Debug().Int("chars", utf8.RuneCountInString(content)).Msg("Processing chunk")

	vec, err := r.o.embedder.Embed(ctx, content)
	if err != nil {
		logger.Error().Err(err).Msg("Error embedding chunk")
		r.stats.failed.Add(1)
		return
	}

	rec := &models.EmbeddingRecord{
		Content:   content,
		Embedding: vec,
		Filename:  name,
		Metadata: models.Metadata{
			ChunkLength:    utf8.RuneCountInString(content),
			CreatedAt:      r.o.now().UTC(),
			EmbeddingModel: r.o.model,
		},
	}
	stored, err := store.Save(ctx, r.o.store, rec)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Error storing chunk")
		r.stats.failed.Add(1)
	case stored:
		logger.Debug().Msg("Chunk processed successfully")
		r.stats.stored.Add(1)
	default:
		logger.Debug().Msg("Chunk already stored, skipping")
		r.stats.skipped.Add(1)
	}
}

// uniqueChunks keeps the first occurrence of each chunk, in order. Identical
// chunks of one file share a record, so embedding them twice would only race
// on the same key.
func uniqueChunks(chunks []string) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0:0]
	for _, c := range chunks {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func averageChars(chunks []string) int {
	total := 0
	for _, c := range chunks {
		total += utf8.RuneCountInString(c)
	}
	return total / len(chunks)
}
