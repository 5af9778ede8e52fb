// Package watcher re-ingests documents as they are created or changed in
// the source directory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/ingest"
)

// FileIngester is satisfied by *ingest.Orchestrator.
type FileIngester interface {
	ReplaceFile(ctx context.Context, path string) (ingest.Stats, error)
}

type Watcher struct {
	watcher  *fsnotify.Watcher
	ingester FileIngester
	debounce time.Duration
}

func New(ingester FileIngester, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{watcher: w, ingester: ingester, debounce: debounce}, nil
}

// Run blocks until ctx is done. Bursts of events on one file collapse into
// a single ingestion once the file has been quiet for the debounce period.
// Files are ingested one at a time.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Dur("debounce", w.debounce).Msg("Watching for document changes")

	var (
		mu     sync.Mutex
		timers = map[string]*time.Timer{}
	)
	ready := make(chan string, 16)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			path := event.Name
			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Reset(w.debounce)
			} else {
				timers[path] = time.AfterFunc(w.debounce, func() {
					mu.Lock()
					delete(timers, path)
					mu.Unlock()
					select {
					case ready <- path:
					case <-ctx.Done():
					}
				})
			}
			mu.Unlock()
		case path := <-ready:
			w.ingest(ctx, path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	stats, err := w.ingester.ReplaceFile(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Error ingesting changed file")
		return
	}
	log.Info().Str("file", filepath.Base(path)).Interface("stats", stats).Msg("Ingested changed file")
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
