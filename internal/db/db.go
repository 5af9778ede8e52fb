package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

// Embedding is a row of the embeddings table.
type Embedding struct {
	bun.BaseModel `bun:"table:embeddings,alias:e"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	Filename      string          `bun:"filename,notnull"`
	Metadata      models.Metadata `bun:"metadata,type:jsonb"`
}

type matchRow struct {
	Content    string  `bun:"content"`
	Filename   string  `bun:"filename"`
	Similarity float64 `bun:"similarity"`
}

// Store keeps embedding records in a supabase (postgres + pgvector) table
// and searches them through the match_documents function.
type Store struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver, pgdriver or lib/pq.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "postgres", "pq":
		return sql.Open("postgres", cfg.URL)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func New(cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewStore(NewDB(sqldb, cfg.Debug)), nil
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}

// InitSchema creates the vector extension, the embeddings table and the
// match_documents search function.
func (s *Store) InitSchema(ctx context.Context, dimensions int) error {
	for _, stmt := range schemaStatements(dimensions) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	log.Info().Int("dimensions", dimensions).Msg("Database schema ready")
	return nil
}

func schemaStatements(dimensions int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
	id bigserial PRIMARY KEY,
	content text NOT NULL,
	embedding vector(%d),
	filename text NOT NULL,
	metadata jsonb
)`, dimensions),
		`CREATE INDEX IF NOT EXISTS embeddings_filename_idx ON embeddings (filename)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS embeddings_natural_key ON embeddings (filename, md5(content))`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION match_documents(
	query_embedding vector(%d),
	match_threshold float,
	match_count int
)
RETURNS TABLE (id bigint, content text, filename text, similarity float)
LANGUAGE sql STABLE
AS $$
	SELECT e.id, e.content, e.filename, 1 - (e.embedding <=> query_embedding) AS similarity
	FROM embeddings e
	WHERE 1 - (e.embedding <=> query_embedding) > match_threshold
	ORDER BY e.embedding <=> query_embedding
	LIMIT match_count;
$$`, dimensions),
	}
}

func (s *Store) Exists(ctx context.Context, content, filename string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*Embedding)(nil)).
		Where("content = ?", content).
		Where("filename = ?", filename).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check existing embedding: %w", err)
	}
	return exists, nil
}

// Insert returns nil and no error when the unique natural key index already
// holds the record, which happens when concurrent writers race past Exists.
func (s *Store) Insert(ctx context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	row := &Embedding{
		Content:   rec.Content,
		Embedding: pgvector.NewVector(rec.Embedding),
		Filename:  rec.Filename,
		Metadata:  rec.Metadata,
	}
	if _, err := s.insertQuery(row).Exec(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert embedding: %w", err)
	}
	if row.ID == 0 {
		log.Debug().Str("filename", rec.Filename).Msg("Embedding already stored, insert skipped")
		return nil, nil
	}
	rec.ID = strconv.FormatInt(row.ID, 10)
	return rec, nil
}

func (s *Store) insertQuery(row *Embedding) *bun.InsertQuery {
	return s.db.NewInsert().Model(row).On("CONFLICT DO NOTHING").Returning("id")
}

// DeleteFile removes every record of filename.
func (s *Store) DeleteFile(ctx context.Context, filename string) error {
	if _, err := s.deleteFileQuery(filename).Exec(ctx); err != nil {
		return fmt.Errorf("delete embeddings of %s: %w", filename, err)
	}
	return nil
}

func (s *Store) deleteFileQuery(filename string) *bun.DeleteQuery {
	return s.db.NewDelete().Model((*Embedding)(nil)).Where("filename = ?", filename)
}

func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.NewDelete().Model((*Embedding)(nil)).Where("id IS NOT NULL").Exec(ctx); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

func (s *Store) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, topK int) ([]models.Match, error) {
	var rows []matchRow
	err := s.db.NewRaw(
		"SELECT content, filename, similarity FROM match_documents(?::vector, ?, ?)",
		pgvector.NewVector(vec), threshold, topK,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}

	matches := make([]models.Match, len(rows))
	for i, r := range rows {
		matches[i] = models.Match{Content: r.Content, Filename: r.Filename, Similarity: r.Similarity}
	}
	return matches, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
