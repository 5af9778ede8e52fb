package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/config"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

const (
	metaFilename       = "filename"
	metaChunkLength    = "chunk_length"
	metaCreatedAt      = "created_at"
	metaEmbeddingModel = "embedding_model"
)

// VectorDBManager keeps embedding records in one chromem-go collection,
// either in memory or persisted under dbPath.
type VectorDBManager struct {
	db             *chromem.DB
	mu             sync.RWMutex
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	compress       bool
	encryptionKey  string
	filePath       string
}

// NewVectorDBManager opens the database and its collection
func NewVectorDBManager(cfg *config.ChromemConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		dbPath:         cfg.Path,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// vectors are always supplied by the caller, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.mu.Lock()
	m.collection = c
	m.collectionName = collectionName
	m.mu.Unlock()
	return c, nil
}

func (m *VectorDBManager) current() *chromem.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection
}

// Exists looks the record up by the id derived from its natural key. Only
// a missing document reports false without an error.
func (m *VectorDBManager) Exists(ctx context.Context, content, filename string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := m.current().GetByID(ctx, helper.RecordID(content, filename))
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to get document: %w", err)
	}
}

// chromem reports a missing id only through its message
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}

func (m *VectorDBManager) Insert(ctx context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	if rec.ID == "" {
		rec.ID = helper.RecordID(rec.Content, rec.Filename)
	}
	doc := chromem.Document{
		ID:      rec.ID,
		Content: rec.Content,
		Metadata: map[string]string{
			metaFilename:       rec.Filename,
			metaChunkLength:    strconv.Itoa(rec.Metadata.ChunkLength),
			metaCreatedAt:      rec.Metadata.CreatedAt.Format(time.RFC3339),
			metaEmbeddingModel: rec.Metadata.EmbeddingModel,
		},
		Embedding: rec.Embedding,
	}
	if err := m.current().AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to add document: %w", err)
	}
	return rec, nil
}

// DeleteFile removes every document whose filename metadata matches.
func (m *VectorDBManager) DeleteFile(ctx context.Context, filename string) error {
	if err := m.current().Delete(ctx, map[string]string{metaFilename: filename}, nil); err != nil {
		return fmt.Errorf("failed to delete documents of %s: %w", filename, err)
	}
	return nil
}

// ClearAll drops the collection and starts an empty one under the same name.
func (m *VectorDBManager) ClearAll(ctx context.Context) error {
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}

func (m *VectorDBManager) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, topK int) ([]models.Match, error) {
	if len(vec) == 0 {
		return nil, errors.New("query embedding is required")
	}
	c := m.current()
	// chromem rejects nResults above the document count
	n := min(topK, c.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) <= threshold {
			continue
		}
		matches = append(matches, models.Match{
			Content:    r.Content,
			Filename:   r.Metadata[metaFilename],
			Similarity: float64(r.Similarity),
		})
	}
	return matches, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	m.mu.RLock()
	name := m.collectionName
	m.mu.RUnlock()
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Count reports the number of stored records.
func (m *VectorDBManager) Count() int {
	return m.current().Count()
}

func (m *VectorDBManager) Close() error {
	return nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) (string, error) {
	if m.encryptionKey == "" {
		return "", fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return "", fmt.Errorf("db path is required")
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return "", fmt.Errorf("failed to export database: %w", err)
	}
	return m.filePath, nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context, filePath string) error {
	if filePath == "" {
		filePath = m.filePath
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}
