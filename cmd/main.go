package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"session-rag/internal/chromemdb"
	"session-rag/internal/config"
	"session-rag/internal/db"
	"session-rag/internal/embedding"
	"session-rag/internal/helper"
	"session-rag/internal/llmservice"
	"session-rag/internal/models"
	"session-rag/internal/opensearch"
	"session-rag/internal/rag"
	"session-rag/internal/server"
	"session-rag/internal/session"
	"session-rag/internal/vectorstore"
)

const (
	configFilePath = "./configs/config.yaml"
	defaultSession = "default"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a document to index")
	indexDefault := flag.Bool("index-default", false, "Index rag.document_file_path before anything else")
	query := flag.String("query", "", "Question to answer from the session index")
	sessionToken := flag.String("session", defaultSession, "Session token used with -file and -query")
	resetSessions := flag.Bool("reset-sessions", false, "Drop and recreate the sessions table before starting")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(&cfg.Log)
	log.Debug().Str("store", cfg.Store.Backend).Str("embedder", cfg.EmbedLLM.Provider).Str("llm", cfg.LLM.Provider).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, registry, cleanup := buildService(ctx, cfg, *resetSessions)
	defer cleanup()

	path := *filePath
	if path == "" && *indexDefault {
		path = cfg.RAG.DocumentFilePath
	}

	switch {
	case path != "":
		ingest(ctx, svc, *sessionToken, path)
		if *query != "" {
			answer(ctx, svc, *sessionToken, *query)
		}
	case *query != "":
		answer(ctx, svc, *sessionToken, *query)
	default:
		serve(ctx, cfg, svc, registry)
	}
}

func setupLogger(cfg *config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using debug")
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
}

// buildService creates the shared providers once. The returned cleanup closes
// whatever needs closing.
func buildService(ctx context.Context, cfg *config.Config, resetSessions bool) (*rag.RAG, session.Registry, func()) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	llm, err := llmservice.NewLLM(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing llm")
	}

	store, err := newStore(cfg, embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing vector store")
	}

	cleanup := func() {}
	if resetSessions && cfg.Database.DSN == "" {
		log.Warn().Msg("-reset-sessions has no effect without database.dsn")
	}
	var registry session.Registry = session.NewMemoryRegistry()
	if cfg.Database.DSN != "" {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
		if resetSessions {
			if err := db.DropSessions(ctx, dbInstance); err != nil {
				log.Fatal().Err(err).Msg("Error dropping sessions table")
			}
			log.Info().Msg("Dropped sessions table")
		}
		if err := db.InitDB(ctx, dbInstance); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		registry = db.NewSessionRegistry(dbInstance)
		cleanup = func() { dbInstance.Close() }
	}

	return rag.NewRAG(store, llm, registry, &cfg.RAG), registry, cleanup
}

func newStore(cfg *config.Config, embedder embeddings.Embedder) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreChromem:
		return chromemdb.NewVectorDBManager(cfg.Store.ChromemPath, embedder)
	case config.StoreOpenSearch:
		client, err := opensearch.NewClient(&cfg.OpenSearch)
		if err != nil {
			return nil, err
		}
		return opensearch.New(client, embedder, cfg.EmbedLLM.Dimension)
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s", cfg.Store.Backend)
	}
}

func ingest(ctx context.Context, svc *rag.RAG, token, path string) {
	res, err := svc.AddFile(ctx, token, path, "")
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Error indexing document")
	}
	helper.PrettyPrint(res)
}

func answer(ctx context.Context, svc *rag.RAG, token, query string) {
	message, err := svc.InvokeLLM(ctx, token, query, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering query")
	}
	helper.PrettyPrint(models.PromptResponse{Query: query, Source: token, Content: message})
}

func serve(ctx context.Context, cfg *config.Config, svc *rag.RAG, registry session.Registry) {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewRouter(svc),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	if ttl := cfg.Sessions.TTL(); ttl > 0 {
		sweeper := session.NewSweeper(registry, svc.DeleteSession, ttl, cfg.Sessions.SweepInterval())
		go sweeper.Run(ctx)
		log.Info().Dur("ttl", ttl).Msg("Session expiry enabled")
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
