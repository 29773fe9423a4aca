// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package newswire assembles the news processing pipeline and dialogue
// engine into one HTTP service: provider clients, stores, the stage
// orchestrator, the retrieval-augmented chat manager, and the routes
// that expose them.
package newswire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/cards"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/dialogue"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/handlers"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/middleware"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/pipeline"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/retrieval"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/routes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/search"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/sentiment"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/store"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/trends"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/ttl"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ===== Configuration =====

// Config holds service configuration. Zero values select the defaults
// noted per field; optional integrations stay disabled when their
// fields are empty.
type Config struct {
	// Port is the HTTP server port. Default 12310.
	Port int

	// LLMBackend selects the provider: "openai", "claude"/"anthropic",
	// "gemini", "ollama", or "local". Default "local".
	LLMBackend string

	// WeaviateURL is the vector database URL. Required; Weaviate holds
	// the article, chunk, and session classes.
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default "aleutian-otel-collector:4317".
	OTelEndpoint string

	// MemoryDBPath and RunDBPath are the embedded BadgerDB
	// directories. Defaults "./data/memory" and "./data/runs".
	MemoryDBPath string
	RunDBPath    string

	// RunTTL bounds run-record retention. Default 7 days.
	RunTTL time.Duration

	// SessionTTL and TTLInterval tune the idle-session cleaner.
	// Defaults 7 d and 1 h.
	SessionTTL  time.Duration
	TTLInterval time.Duration

	// InfluxURL, InfluxToken, InfluxOrg, InfluxBucket configure the
	// topic-trend recorder. All four must be set to enable it.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// ArchiveBucket is the GCS bucket for long-term run archival.
	// Empty disables archival.
	ArchiveBucket string

	// LexiconPath points at a sentiment lexicon file to hot-reload.
	// Empty keeps the built-in lexicon.
	LexiconPath string

	// AllowedOrigins is the CORS allowlist, comma-separated. "*"
	// allows any origin; empty disables CORS headers.
	AllowedOrigins string

	// ContextWindowTokens overrides the assumed model context window
	// for dialogue budgeting. Default 8192.
	ContextWindowTokens int

	// LLMConcurrency caps concurrent generations across dialogue
	// turns. Default 4.
	LLMConcurrency int

	// GinMode sets the gin mode; empty defers to GIN_MODE.
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "local"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.MemoryDBPath == "" {
		cfg.MemoryDBPath = "./data/memory"
	}
	if cfg.RunDBPath == "" {
		cfg.RunDBPath = "./data/runs"
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = runs.DefaultTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.TTLInterval <= 0 {
		cfg.TTLInterval = time.Hour
	}
	if cfg.LLMConcurrency <= 0 {
		cfg.LLMConcurrency = 4
	}
	return cfg
}

// ===== Service =====

// Service is the newswire lifecycle: construct with New, then Run
// until shutdown.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
	// fatal server error. Resources are released before it returns.
	Run() error

	// Router exposes the configured engine for integration tests.
	Router() *gin.Engine
}

type service struct {
	config Config
	router *gin.Engine

	weaviateClient *weaviate.Client
	llmClient      llm.LLMClient
	embedder       llm.EmbeddingClient

	memDB  *badger.DB
	runDB  *badger.DB
	trends *trends.Recorder

	archiver *runs.Archiver
	watcher  *sentiment.LexiconWatcher
	cleaner  *ttl.Cleaner

	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New assembles the service: tracing, metrics, provider clients,
// stores, the pipeline orchestrator, the dialogue manager, and the
// HTTP router. Optional integrations (trends, archival, lexicon
// reload) initialize only when configured; their failures log a
// warning instead of aborting startup.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("tracer init: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, err
	}
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("llm init: %w", err)
	}
	s.embedder, err = llm.NewSidecarEmbeddingClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("embedding init: %w", err)
	}

	searchProvider, err := search.NewSerpAPIProvider()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("search init: %w", err)
	}

	s.memDB, err = badger.Open(badger.DefaultOptions(s.config.MemoryDBPath))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("memory db open: %w", err)
	}
	s.runDB, err = badger.Open(badger.DefaultOptions(s.config.RunDBPath))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("run db open: %w", err)
	}

	memStore := memory.NewBadgerMemory(s.memDB, s.embedder, memory.Config{})
	runStore := runs.NewBadgerRunStore(s.runDB, s.config.RunTTL)
	articleStore := store.NewWeaviateStore(s.weaviateClient, 0)
	chunkIndex := index.NewWeaviateIndex(s.weaviateClient, s.embedder, 0, 0)

	scorer := sentiment.NewLexiconScorer()
	if s.config.LexiconPath != "" {
		watcher, err := sentiment.NewLexiconWatcher(s.config.LexiconPath, scorer)
		if err != nil {
			slog.Warn("Lexicon watcher unavailable, using built-in lexicon",
				"path", s.config.LexiconPath, "error", err)
		} else {
			s.watcher = watcher
			watcher.Start(context.Background())
		}
	}

	if s.config.InfluxURL != "" && s.config.InfluxToken != "" &&
		s.config.InfluxOrg != "" && s.config.InfluxBucket != "" {
		s.trends = trends.New(trends.Config{
			URL:    s.config.InfluxURL,
			Token:  s.config.InfluxToken,
			Org:    s.config.InfluxOrg,
			Bucket: s.config.InfluxBucket,
		})
		slog.Info("Topic-trend recording enabled", "bucket", s.config.InfluxBucket)
	}

	if s.config.ArchiveBucket != "" {
		s.archiver, err = runs.NewArchiver(context.Background(), s.config.ArchiveBucket)
		if err != nil {
			slog.Warn("Run archiver unavailable, runs stay local only",
				"bucket", s.config.ArchiveBucket, "error", err)
		} else {
			slog.Info("Run archival enabled", "bucket", s.config.ArchiveBucket)
		}
	}

	deps := pipeline.Deps{
		Search: searchProvider,
		Store:  articleStore,
		Index:  chunkIndex,
		Scorer: scorer,
		Cards:  cards.NewSynthesizer(s.llmClient, 0, 0),
		LLM:    s.llmClient,
		Memory: memStore,
		Runs:   runStore,
	}
	if s.trends != nil {
		deps.Trends = s.trends
	}
	if s.archiver != nil {
		deps.Archiver = s.archiver
	}
	orchestrator := pipeline.New(deps, pipeline.Config{})

	engine := retrieval.NewEngine(chunkIndex, articleStore, s.embedder, memStore)
	sessionStore := dialogue.NewWeaviateSessionStore(s.weaviateClient, 0)
	manager := dialogue.NewManager(sessionStore, engine, s.llmClient, memStore, runStore, dialogue.Config{
		ContextWindowTokens: s.config.ContextWindowTokens,
		LLMSemaphore:        make(chan struct{}, s.config.LLMConcurrency),
	})

	s.cleaner = ttl.NewCleaner(
		func(ctx context.Context, limit int) ([]datatypes.SessionInfo, error) {
			return sessionStore.List(ctx, "", limit)
		},
		manager.Delete,
		ttl.Config{Interval: s.config.TTLInterval, SessionTTL: s.config.SessionTTL},
	)
	if err := s.cleaner.Start(context.Background()); err != nil {
		slog.Warn("Session TTL cleaner failed to start", "error", err)
	}

	s.initRouter(orchestrator, manager, runStore, memStore)
	return s, nil
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests and
// releases every resource, including mlocked reply buffers.
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting newswire server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Forced shutdown after drain timeout", "error", err)
		return err
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// ===== Initialization =====

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("newswire-service")))
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("OTLP exporter shutdown failed", "error", err)
		}
	}, nil
}

// initWeaviate connects to the article/session store. Unlike the
// optional integrations, Weaviate is load-bearing: articles, chunks,
// and dialogue sessions all live there.
func (s *service) initWeaviate() error {
	raw := strings.Trim(s.config.WeaviateURL, "\"' ")
	if raw == "" {
		return fmt.Errorf("WEAVIATE_SERVICE_URL is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", raw)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return fmt.Errorf("weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", raw)
	return nil
}

func (s *service) initLLMClient() error {
	var err error
	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "claude", "anthropic":
		s.llmClient, err = llm.NewAnthropicClient()
		slog.Info("Using Anthropic (Claude) LLM backend")
	case "gemini":
		s.llmClient, err = llm.NewGeminiClient(context.Background())
		slog.Info("Using Gemini LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "local":
		s.llmClient, err = llm.NewLocalLlamaCppClient()
		slog.Info("Using Local Llama.cpp LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to local", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewLocalLlamaCppClient()
	}
	return err
}

func (s *service) initRouter(orchestrator *pipeline.Orchestrator, manager *dialogue.Manager,
	runStore runs.Store, memStore memory.Store) {

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware("newswire-service"))
	s.router.Use(middleware.CORSMiddleware(s.config.AllowedOrigins))
	s.router.Use(middleware.AuthMiddleware(&middleware.NopAuthProvider{}))

	targets := handlers.HealthTargets{
		Weaviate: func(ctx context.Context) error {
			ready, err := s.weaviateClient.Misc().ReadyChecker().Do(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return fmt.Errorf("weaviate not ready")
			}
			return nil
		},
		Memory: func(context.Context) error {
			if s.memDB.IsClosed() {
				return fmt.Errorf("memory db closed")
			}
			return nil
		},
	}
	if s.trends != nil {
		targets.Trends = s.trends.Health
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Orchestrator: orchestrator,
		Dialogue:     manager,
		Runs:         runStore,
		Memory:       memStore,
		Trends:       s.trends,
		Health:       targets,
	})
}

// ===== Cleanup =====

func (s *service) cleanup() {
	if s.cleaner != nil {
		s.cleaner.Stop()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.trends != nil {
		s.trends.Close()
	}
	if s.archiver != nil {
		if err := s.archiver.Close(); err != nil {
			slog.Warn("Archiver close error", "error", err)
		}
	}
	if s.memDB != nil {
		if err := s.memDB.Close(); err != nil {
			slog.Warn("Memory db close error", "error", err)
		}
	}
	if s.runDB != nil {
		if err := s.runDB.Close(); err != nil {
			slog.Warn("Run db close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	handlers.PurgeAllSecureMemory()
	slog.Info("Newswire service stopped")
}
