package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/ingest"
	"rag-assistant/internal/models"
	"rag-assistant/internal/rag"
)

// Querier answers a question from the stored documents.
type Querier interface {
	Query(ctx context.Context, question string) (*models.PromptResponse, error)
}

// Reprocessor clears the store and ingests a directory again.
type Reprocessor interface {
	Reprocess(ctx context.Context, dir string) (ingest.Stats, error)
}

// Clearer removes every stored record.
type Clearer interface {
	ClearAll(ctx context.Context) error
}

type Config struct {
	Querier      Querier
	Reprocessor  Reprocessor
	Clearer      Clearer
	DocumentsDir string
	JWTSecret    string
}

type Server struct {
	cfg Config
}

func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api")
	api.GET("/health", s.health)

	protected := api.Group("")
	protected.Use(RequireAuth([]byte(s.cfg.JWTSecret)))
	protected.POST("/chat", s.chat)

	admin := protected.Group("")
	admin.Use(RequireRole(RoleAdmin))
	admin.POST("/reprocess", s.reprocess)
	admin.POST("/clear-embeddings", s.clearEmbeddings)

	return router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// GET /api/health
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	Message string `json:"message"`
}

// POST /api/chat
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.cfg.Querier.Query(c.Request.Context(), req.Message)
	if err != nil {
		status, code := queryError(err)
		log.Error().Err(err).Str("code", code).Msg("Error processing question")
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": res.Answer, "sources": res.Sources})
}

func queryError(err error) (int, string) {
	var genErr *rag.GenerationError
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion):
		return http.StatusBadRequest, "message_required"
	case errors.Is(err, rag.ErrEmbedQuestion):
		return http.StatusInternalServerError, "embedding_failed"
	case errors.Is(err, rag.ErrSearch):
		return http.StatusInternalServerError, "search_failed"
	case errors.As(err, &genErr):
		return http.StatusInternalServerError, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// POST /api/reprocess
func (s *Server) reprocess(c *gin.Context) {
	// The store is cleared first, so a client hanging up must not stop the
	// run halfway and leave the index partial.
	ctx := context.WithoutCancel(c.Request.Context())
	stats, err := s.cfg.Reprocessor.Reprocess(ctx, s.cfg.DocumentsDir)
	if err != nil {
		log.Error().Err(err).Msg("Error reprocessing documents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reprocess documents: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Documents reprocessed successfully",
		"directory": s.cfg.DocumentsDir,
		"stats":     stats,
	})
}

// POST /api/clear-embeddings
func (s *Server) clearEmbeddings(c *gin.Context) {
	if err := s.cfg.Clearer.ClearAll(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Error clearing embeddings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear embeddings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Embeddings cleared successfully"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}
