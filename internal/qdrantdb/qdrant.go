package qdrantdb

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"rag-assistant/internal/config"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

const (
	fieldContent        = "content"
	fieldFilename       = "filename"
	fieldChunkLength    = "chunk_length"
	fieldCreatedAt      = "created_at"
	fieldEmbeddingModel = "embedding_model"
)

// Store keeps embedding records as points of a qdrant collection, using
// the uuid derived from (content, filename) as point id.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	vectorSize  uint64
}

// New connects over grpc and creates the collection when it is missing.
func New(ctx context.Context, cfg *config.QdrantConfig, vectorSize int) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := NewStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, vectorSize)
	s.conn = conn
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func NewStore(points pb.PointsClient, collections pb.CollectionsClient, collection string, vectorSize int) *Store {
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		vectorSize:  uint64(vectorSize),
	}
}

func (s *Store) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	log.Info().Str("collection", s.collection).Uint64("size", s.vectorSize).Msg("Creating qdrant collection")
	return s.createCollection(ctx)
}

func (s *Store) createCollection(ctx context.Context) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: s.vectorSize, Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func pointID(content, filename string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: helper.RecordID(content, filename)}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func (s *Store) Exists(ctx context.Context, content, filename string) (bool, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(content, filename)},
	})
	if err != nil {
		return false, fmt.Errorf("qdrant get: %w", err)
	}
	return len(resp.GetResult()) > 0, nil
}

func (s *Store) Insert(ctx context.Context, rec *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	rec.ID = helper.RecordID(rec.Content, rec.Filename)
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pointID(rec.Content, rec.Filename),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Embedding}}},
			Payload: map[string]*pb.Value{
				fieldContent:        stringValue(rec.Content),
				fieldFilename:       stringValue(rec.Filename),
				fieldChunkLength:    {Kind: &pb.Value_IntegerValue{IntegerValue: int64(rec.Metadata.ChunkLength)}},
				fieldCreatedAt:      stringValue(rec.Metadata.CreatedAt.Format(time.RFC3339)),
				fieldEmbeddingModel: stringValue(rec.Metadata.EmbeddingModel),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return rec, nil
}

// DeleteFile removes every point whose filename payload matches.
func (s *Store) DeleteFile(ctx context.Context, filename string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{
			Must: []*pb.Condition{{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   fieldFilename,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: filename}},
			}}}},
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete points: %w", err)
	}
	return nil
}

// ClearAll recreates the collection.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		return fmt.Errorf("qdrant delete collection: %w", err)
	}
	return s.createCollection(ctx)
}

func (s *Store) SimilaritySearch(ctx context.Context, vec []float32, threshold float64, topK int) ([]models.Match, error) {
	scoreThreshold := float32(threshold)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	matches := make([]models.Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		// qdrant's threshold is inclusive, match_documents is not
		if float64(pt.GetScore()) <= threshold {
			continue
		}
		matches = append(matches, models.Match{
			Content:    pt.GetPayload()[fieldContent].GetStringValue(),
			Filename:   pt.GetPayload()[fieldFilename].GetStringValue(),
			Similarity: float64(pt.GetScore()),
		})
	}
	return matches, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
