package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/db"
	"rag-assistant/internal/qdrantdb"
)

var (
	_ Store = (*db.Store)(nil)
	_ Store = (*chromemdb.VectorDBManager)(nil)
	_ Store = (*qdrantdb.Store)(nil)
)

// New opens the backend selected by cfg.Store.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	log.Debug().Str("backend", cfg.Store.Backend).Msg("Opening vector store")
	switch cfg.Store.Backend {
	case config.BackendSupabase:
		return db.New(&cfg.Database)
	case config.BackendChromem:
		return chromemdb.NewVectorDBManager(&cfg.Chromem)
	case config.BackendQdrant:
		return qdrantdb.New(ctx, &cfg.Qdrant, cfg.Database.VectorSize)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Store.Backend)
	}
}
