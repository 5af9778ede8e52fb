package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/db"
	"rag-assistant/internal/embedding"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/ingest"
	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/parser"
	"rag-assistant/internal/rag"
	"rag-assistant/internal/server"
	"rag-assistant/internal/store"
	"rag-assistant/internal/tracing"
	"rag-assistant/internal/watcher"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rag-assistant",
		Short:         "Retrieval-augmented question answering over a document folder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Chunk, embed and store every document in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				stats, err := a.orchestrator.Ingest(ctx, a.dir(args))
				helper.PrettyPrint(stats)
				return err
			})
		},
	}

	reprocessCmd := &cobra.Command{
		Use:   "reprocess [dir]",
		Short: "Clear the store and ingest the directory again",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				stats, err := a.orchestrator.Reprocess(ctx, a.dir(args))
				helper.PrettyPrint(stats)
				return err
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored embedding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				if err := a.store.ClearAll(ctx); err != nil {
					return err
				}
				log.Info().Msg("Embeddings cleared successfully")
				return nil
			})
		},
	}

	var maxTokens int
	chunkCmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Print the chunks a document splits into without embedding them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printChunks(configPath, args[0], maxTokens)
		},
	}
	chunkCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Override rag.max_tokens")

	searchCmd := &cobra.Command{
		Use:   "search <question>",
		Short: "List the stored chunks most similar to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				matches, err := a.rag.Retrieve(ctx, args[0])
				if err != nil {
					return err
				}
				helper.PrettyPrint(matches)
				return nil
			})
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the stored documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				res, err := a.rag.Query(ctx, args[0])
				if err != nil {
					return err
				}
				printResponse(res.Query, res.Answer, res.Sources)
				return nil
			})
		},
	}

	var initial bool
	var debounce time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Ingest documents as they are added or changed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				dir := a.dir(args)
				if err := helper.CreateFolder(dir); err != nil {
					return err
				}
				if initial {
					stats, err := a.orchestrator.Ingest(ctx, dir)
					if err != nil {
						return err
					}
					log.Info().Interface("stats", stats).Msg("Initial ingestion finished")
				}
				w, err := watcher.New(a.orchestrator, debounce)
				if err != nil {
					return err
				}
				defer w.Close()
				return w.Run(ctx, dir)
			})
		},
	}
	watchCmd.Flags().BoolVar(&initial, "initial", false, "Ingest the whole directory before watching")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "Quiet period before a changed file is ingested")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				if a.cfg.Server.JWTSecret == "" {
					return errors.New("server.jwt_secret is required")
				}
				srv := server.New(server.Config{
					Querier:      a.rag,
					Reprocessor:  a.orchestrator,
					Clearer:      a.store,
					DocumentsDir: a.cfg.RAG.DocumentsDir,
					JWTSecret:    a.cfg.Server.JWTSecret,
				})
				return srv.Run(ctx, a.cfg.Server.Addr)
			})
		},
	}

	initDBCmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the embeddings table, index and match_documents function",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				pg, ok := a.store.(*db.Store)
				if !ok {
					return fmt.Errorf("init-db needs the %s backend, configured %s", config.BackendSupabase, a.cfg.Store.Backend)
				}
				return pg.InitSchema(ctx, a.cfg.Database.VectorSize)
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the chromem collection to an encrypted file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				m, err := chromemStore(a)
				if err != nil {
					return err
				}
				path, err := m.Export(ctx)
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a chromem collection export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, func(ctx context.Context, a *app) error {
				m, err := chromemStore(a)
				if err != nil {
					return err
				}
				if err := m.Import(ctx, args[0]); err != nil {
					return err
				}
				log.Info().Int("count", m.Count()).Msg("Imported collection")
				return nil
			})
		},
	}

	rootCmd.AddCommand(ingestCmd, reprocessCmd, clearCmd, chunkCmd, searchCmd, askCmd, watchCmd, serveCmd, initDBCmd, exportCmd, importCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg          *config.Config
	store        store.Store
	orchestrator *ingest.Orchestrator
	rag          *rag.RAG
	closers      []func() error
}

func (a *app) dir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.RAG.DocumentsDir
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

func withApp(ctx context.Context, configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	shutdown, err := tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Error shutting down tracing")
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	s, err := store.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	provider, err := embedding.NewProvider(&cfg.Embedding)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	var opts []embedding.Option
	if cfg.Redis.Addr != "" {
		rdb := embedding.NewRedisClient(&cfg.Redis)
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, embedding.WithCache(embedding.NewCache(rdb, cfg.Embedding.Model, cfg.Redis.TTL)))
	}
	embedder := embedding.NewClientFromConfig(provider, &cfg.Embedding, opts...)

	classifier, err := parser.NewClassifier(cfg.RAG.Formats)
	if err != nil {
		a.close()
		return nil, err
	}
	a.orchestrator = ingest.NewOrchestrator(
		parser.NewChunker(classifier, cfg.RAG.MaxTokens),
		embedder,
		s,
		ingest.WithBatchSize(cfg.RAG.BatchSize),
		ingest.WithBatchPause(cfg.RAG.BatchPause),
		ingest.WithEmbeddingModel(cfg.Embedding.Model),
	)

	llm, err := llmservice.NewGenerator(&cfg.Inference)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init llm: %w", err)
	}
	a.rag = rag.NewRAG(
		rag.NewRetriever(embedder, s, cfg.RAG.Threshold, cfg.RAG.TopK),
		rag.NewSynthesizer(llm, &cfg.Inference),
	)
	return a, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	setupLogger(&cfg.Log)
	log.Debug().Str("backend", cfg.Store.Backend).Str("embedding_model", cfg.Embedding.Model).
		Str("inference_model", cfg.Inference.Model).Msg("Loaded config")
	return cfg, nil
}

func setupLogger(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func chromemStore(a *app) (*chromemdb.VectorDBManager, error) {
	m, ok := a.store.(*chromemdb.VectorDBManager)
	if !ok {
		return nil, fmt.Errorf("needs the %s backend, configured %s", config.BackendChromem, a.cfg.Store.Backend)
	}
	return m, nil
}

// printChunks runs only the read and split stages, so it needs no store or
// embedding provider.
func printChunks(configPath, path string, maxTokens int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if maxTokens <= 0 {
		maxTokens = cfg.RAG.MaxTokens
	}
	classifier, err := parser.NewClassifier(cfg.RAG.Formats)
	if err != nil {
		return err
	}
	content, err := parser.ReadDocument(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	chunks := parser.NewChunker(classifier, maxTokens).Chunks(name, content)
	log.Info().Str("file", name).Str("format", classifier.Classify(name).String()).Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
	return nil
}

func printResponse(query, answer string, sources any) {
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(sources)
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer)
}
