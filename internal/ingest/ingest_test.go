package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
	"rag-assistant/internal/parser"
)

type fakeEmbedder struct {
	inflight    atomic.Int64
	maxInflight atomic.Int64
	calls       atomic.Int64
	fail        func(text string) bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxInflight.Load()
		if n <= seen || f.maxInflight.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if f.fail != nil && f.fail(text) {
		return nil, errors.New("provider unavailable")
	}
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{1, sum, float32(len(text))}, nil
}

type pauseRecorder struct {
	mu       sync.Mutex
	pauses   []time.Duration
	inflight []int64
	embedder *fakeEmbedder
}

func (p *pauseRecorder) Sleep(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
	p.inflight = append(p.inflight, p.embedder.inflight.Load())
	return nil
}

type recordingStore struct {
	*chromemdb.VectorDBManager
	mu      sync.Mutex
	records []models.EmbeddingRecord
}

func (s *recordingStore) Insert(ctx context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	s.mu.Lock()
	s.records = append(s.records, *rec)
	s.mu.Unlock()
	return s.VectorDBManager.Insert(ctx, rec)
}

func newStore(t *testing.T) *recordingStore {
	t.Helper()
	m, err := chromemdb.NewVectorDBManager(&config.ChromemConfig{InMemory: true, Collection: "ingest"})
	require.NoError(t, err)
	return &recordingStore{VectorDBManager: m}
}

// subscriberDir writes n distinct four character lines to a list-style file.
func subscriberDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%04d", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subscriber-list.txt"), []byte(strings.Join(lines, "\n")), 0o644))
	return dir
}

func newTestOrchestrator(emb *fakeEmbedder, st *recordingStore, rec *pauseRecorder) *Orchestrator {
	return NewOrchestrator(parser.NewChunker(nil, 1), emb, st,
		WithSleeper(rec.Sleep),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func TestIngest_BatchesOfTenWithPauses(t *testing.T) {
	dir := subscriberDir(t, 25)
	emb := &fakeEmbedder{}
	rec := &pauseRecorder{embedder: emb}
	st := newStore(t)

	stats, err := newTestOrchestrator(emb, st, rec).Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, Stats{Files: 1, Chunks: 25, Batches: 3, Stored: 25}, stats)
	assert.LessOrEqual(t, emb.maxInflight.Load(), int64(10))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.pauses)
	assert.Equal(t, []int64{0, 0}, rec.inflight, "pause starts only after the batch settled")
	assert.Equal(t, 25, st.Count())
}

func TestIngest_RecordMetadata(t *testing.T) {
	dir := subscriberDir(t, 1)
	emb := &fakeEmbedder{}
	st := newStore(t)

	_, err := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb}).Ingest(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, st.records, 1)
	got := st.records[0]
	assert.Equal(t, "0000", got.Content)
	assert.Equal(t, "subscriber-list.txt", got.Filename)
	assert.Equal(t, 4, got.Metadata.ChunkLength)
	assert.Equal(t, models.DefaultEmbeddingModel, got.Metadata.EmbeddingModel)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), got.Metadata.CreatedAt)
}

func TestIngest_ChunkFailureIsIsolated(t *testing.T) {
	dir := subscriberDir(t, 25)
	emb := &fakeEmbedder{fail: func(text string) bool { return text == "0003" }}
	rec := &pauseRecorder{embedder: emb}
	st := newStore(t)

	stats, err := newTestOrchestrator(emb, st, rec).Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(24), stats.Stored)
	assert.Equal(t, int64(3), stats.Batches)
	assert.Equal(t, 24, st.Count())
}

func TestIngest_Idempotent(t *testing.T) {
	dir := subscriberDir(t, 12)
	emb := &fakeEmbedder{}
	st := newStore(t)
	o := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb})

	_, err := o.Ingest(context.Background(), dir)
	require.NoError(t, err)
	stats, err := o.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.Stored)
	assert.Equal(t, int64(12), stats.Skipped)
	assert.Equal(t, 12, st.Count())
}

func TestIngest_PauseSpansFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first document"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second document"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	emb := &fakeEmbedder{}
	rec := &pauseRecorder{embedder: emb}

	o := NewOrchestrator(parser.NewChunker(nil, 4000), emb, newStore(t), WithSleeper(rec.Sleep))
	stats, err := o.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Files)
	assert.Equal(t, int64(2), stats.Batches)
	assert.Equal(t, []time.Duration{time.Second}, rec.pauses)
}

func TestIngest_EmptyFileYieldsNoChunks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))
	emb := &fakeEmbedder{}

	o := NewOrchestrator(parser.NewChunker(nil, 4000), emb, newStore(t), WithSleeper((&pauseRecorder{embedder: emb}).Sleep))
	stats, err := o.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, Stats{Files: 1}, stats)
	assert.Zero(t, emb.calls.Load())
}

func TestIngest_UnreadableSource(t *testing.T) {
	o := NewOrchestrator(parser.NewChunker(nil, 4000), &fakeEmbedder{}, newStore(t))

	_, err := o.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.ErrorIs(t, err, ErrSourceUnreadable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReprocess_ClearsFirst(t *testing.T) {
	dir := subscriberDir(t, 3)
	emb := &fakeEmbedder{}
	st := newStore(t)
	o := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb})

	_, err := st.Insert(context.Background(), &models.EmbeddingRecord{Content: "stale", Filename: "old.txt", Embedding: []float32{1, 1, 1}})
	require.NoError(t, err)

	stats, err := o.Reprocess(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Stored)
	assert.Equal(t, 3, st.Count())
	exists, err := st.Exists(context.Background(), "stale", "old.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIngestFile(t *testing.T) {
	dir := subscriberDir(t, 2)
	emb := &fakeEmbedder{}
	st := newStore(t)

	stats, err := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb}).
		IngestFile(context.Background(), filepath.Join(dir, "subscriber-list.txt"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Stored)
}

func TestIngest_RepeatedChunksEmbeddedOnce(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{"0001", "0001", "0002", "0001", "0002"}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subscriber-list.txt"), []byte(content), 0o644))
	emb := &fakeEmbedder{}
	st := newStore(t)

	stats, err := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb}).Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, Stats{Files: 1, Chunks: 5, Batches: 1, Stored: 2, Skipped: 3}, stats)
	assert.Equal(t, int64(2), emb.calls.Load())
	assert.Len(t, st.records, 2)
	assert.Equal(t, 2, st.Count())
}

func TestReplaceFile_DropsStaleChunks(t *testing.T) {
	dir := subscriberDir(t, 2)
	emb := &fakeEmbedder{}
	st := newStore(t)
	ctx := context.Background()

	for _, rec := range []*models.EmbeddingRecord{
		{Content: "removed line", Filename: "subscriber-list.txt", Embedding: []float32{1, 1, 1}},
		{Content: "kept", Filename: "other.txt", Embedding: []float32{1, 2, 1}},
	} {
		_, err := st.Insert(ctx, rec)
		require.NoError(t, err)
	}

	stats, err := newTestOrchestrator(emb, st, &pauseRecorder{embedder: emb}).
		ReplaceFile(ctx, filepath.Join(dir, "subscriber-list.txt"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Stored)
	assert.Equal(t, 3, st.Count())
	exists, err := st.Exists(ctx, "removed line", "subscriber-list.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = st.Exists(ctx, "kept", "other.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
