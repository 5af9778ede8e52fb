package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

type stubStore struct {
	exists    bool
	existsErr error
	insertErr error
	conflict  bool
	searchErr error
	inserted  []*models.EmbeddingRecord
}

func (s *stubStore) Exists(context.Context, string, string) (bool, error) {
	return s.exists, s.existsErr
}

func (s *stubStore) Insert(_ context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	if s.conflict {
		return nil, nil
	}
	s.inserted = append(s.inserted, rec)
	return rec, nil
}

func (s *stubStore) DeleteFile(context.Context, string) error { return nil }

func (s *stubStore) ClearAll(context.Context) error { return nil }

func (s *stubStore) SimilaritySearch(context.Context, []float32, float64, int) ([]models.Match, error) {
	return nil, s.searchErr
}

func (s *stubStore) Close() error { return nil }

func TestSave(t *testing.T) {
	rec := &models.EmbeddingRecord{Content: "c", Filename: "f"}
	boom := errors.New("boom")

	tests := []struct {
		name       string
		store      *stubStore
		wantStored bool
		wantErr    bool
	}{
		{name: "new record", store: &stubStore{}, wantStored: true},
		{name: "duplicate is skipped", store: &stubStore{exists: true}},
		{name: "insert lost a race to a duplicate", store: &stubStore{conflict: true}},
		{name: "existence check fails", store: &stubStore{existsErr: boom}, wantErr: true},
		{name: "insert fails", store: &stubStore{insertErr: boom}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := Save(context.Background(), tt.store, rec)
			assert.Equal(t, tt.wantStored, stored)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWrite)
				assert.ErrorIs(t, err, boom)
				return
			}
			require.NoError(t, err)
			if tt.wantStored {
				assert.Len(t, tt.store.inserted, 1)
			} else {
				assert.Empty(t, tt.store.inserted)
			}
		})
	}
}

func TestSearch_WrapsReadErrors(t *testing.T) {
	boom := errors.New("connection reset")

	_, err := Search(context.Background(), &stubStore{searchErr: boom}, []float32{1}, 0.75, 10)

	assert.ErrorIs(t, err, ErrRead)
	assert.ErrorIs(t, err, boom)
}

func TestNew_Chromem(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: config.BackendChromem}}
	cfg.ApplyDefaults()
	cfg.Chromem.InMemory = true

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "mongo"}})
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}
