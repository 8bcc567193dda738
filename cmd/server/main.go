// Command server wires together the Search Index (C1), Local Model Pool
// (C2), External Model Client (C3), Rate/Budget Gate (C4), Query Pipeline
// (C5), Auto-Investigator (C6), Conversation Store (C7), and Stream
// Dispatcher (C8) and serves them over HTTP. Grounded on the teacher's
// own cmd/server/main.go (getPort/run/main signal-driven graceful
// shutdown idiom) and on other_examples/a876983c_ashita-ai-akashi's
// main.go (structured slog setup, provider-selection-at-startup style,
// run(ctx) returning an int-friendly error for os.Exit).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	vertexai "cloud.google.com/go/vertexai/genai"

	"github.com/connexus-ai/docengine-backend/internal/admission"
	"github.com/connexus-ai/docengine-backend/internal/autoinvestigate"
	"github.com/connexus-ai/docengine-backend/internal/cache"
	"github.com/connexus-ai/docengine-backend/internal/config"
	"github.com/connexus-ai/docengine-backend/internal/convo"
	"github.com/connexus-ai/docengine-backend/internal/externalmodel"
	"github.com/connexus-ai/docengine-backend/internal/handler"
	"github.com/connexus-ai/docengine-backend/internal/localmodel"
	"github.com/connexus-ai/docengine-backend/internal/middleware"
	"github.com/connexus-ai/docengine-backend/internal/pipeline"
	"github.com/connexus-ai/docengine-backend/internal/repository"
	"github.com/connexus-ai/docengine-backend/internal/router"
	"github.com/connexus-ai/docengine-backend/internal/search"
	"github.com/connexus-ai/docengine-backend/internal/sse"
	"github.com/connexus-ai/docengine-backend/migrations"
)

// Version is the build version reported by /health.
const Version = "0.1.0"

// searchCacheTTL governs how long a (terms, limit) search result is
// served from cache before re-hitting the index (§4.1).
const searchCacheTTL = 30 * time.Second

// depthGaugeInterval is how often a process publishes local model pool
// saturation to Redis when REDIS_URL is configured.
const depthGaugeInterval = 5 * time.Second

func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// buildExternalCompleter selects the External Model Client's (C3) backend
// per cfg.ExternalModelProvider. Returns (nil, nil) when no API key/project
// is configured, in which case the pipeline runs local-model-only (a valid
// degraded deployment per pipeline.New's doc comment).
func buildExternalCompleter(ctx context.Context, cfg *config.Config) (externalmodel.Completer, error) {
	switch cfg.ExternalModelProvider {
	case "anthropic":
		if cfg.ExternalAPIKey == "" {
			return nil, nil
		}
		return externalmodel.NewAnthropicCompleter(cfg.ExternalAPIKey, cfg.ExternalModel), nil
	case "openai":
		if cfg.ExternalAPIKey == "" {
			return nil, nil
		}
		return externalmodel.NewOpenAICompleter(cfg.ExternalAPIKey, "", cfg.ExternalModel), nil
	case "vertex":
		if cfg.GCPProject == "" {
			return nil, nil
		}
		client, err := vertexai.NewClient(ctx, cfg.GCPProject, cfg.VertexAILocation)
		if err != nil {
			return nil, fmt.Errorf("vertex client: %w", err)
		}
		return externalmodel.NewVertexCompleter(client, cfg.ExternalModel), nil
	default:
		return nil, fmt.Errorf("unknown EXTERNAL_MODEL_PROVIDER %q", cfg.ExternalModelProvider)
	}
}

// deps bundles everything run() needs to tear down cleanly alongside the
// router.Dependencies the handlers are actually wired against.
type deps struct {
	routerDeps  *router.Dependencies
	depthGauge  *localmodel.DepthPublisher
	localPool   *localmodel.Pool
	queryCache  *cache.QueryCache
	rateLimiter *middleware.RateLimiter
}

func newConversationID() string {
	return uuid.New().String()
}

func buildDeps(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*deps, error) {
	searchRepo := repository.NewSearchRepository(pool)
	searchSvc := search.NewService(searchRepo, search.DefaultWeights)
	cachedSearch := cache.New(searchSvc, searchCacheTTL)

	if cfg.LocalModelPath != "" && !localmodel.Reachable(cfg.LocalModelPath) {
		slog.Warn("local model server unreachable at startup; requests will fail until it comes up", "url", cfg.LocalModelPath)
	}
	localPool, err := localmodel.New(cfg.LocalPoolSize, cfg.LocalQueueCapacity, localmodel.NewOllamaModel(cfg.LocalModelPath, cfg.LocalModelName))
	if err != nil {
		return nil, fmt.Errorf("local model pool: %w", err)
	}

	var depthGauge *localmodel.DepthPublisher
	if cfg.RedisURL != "" {
		dg, err := localmodel.NewDepthPublisher(cfg.RedisURL, "docengine", localPool)
		if err != nil {
			slog.Warn("redis depth gauge disabled", "error", err)
		} else {
			depthGauge = dg
			go depthGauge.Run(depthGaugeInterval)
		}
	}

	admissionRepo := repository.NewAdmissionRepository(pool)
	gate := admission.New(admissionRepo, admission.Config{
		MaxPerIPPerDay:   uint32(cfg.MaxPerIPPerDay),
		ExternalDailyCap: uint32(cfg.ExternalDailyCap),
		CostCapMicroUSD:  cfg.CostCapMicroUSD,
		IPHashSecret:     cfg.IPHashSecret,
	})

	completer, err := buildExternalCompleter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("external model client: %w", err)
	}
	var externalClient *externalmodel.Client
	if completer != nil {
		externalClient = externalmodel.New(completer, cfg.ExternalModel, externalmodel.DefaultCostTable, admissionRepo, gate)
	} else {
		slog.Warn("no external model credentials configured; every query routes through the local model fallback")
	}

	convoRepo := repository.NewConversationRepository(pool)
	convoStore := convo.New(convoRepo)

	timeouts := pipeline.Timeouts{
		IntentParse: time.Duration(cfg.IntentParseTimeoutSeconds) * time.Second,
		Search:      time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
		Analyze:     time.Duration(cfg.AnalyzeTimeoutSeconds) * time.Second,
		Format:      time.Duration(cfg.FormatTimeoutSeconds) * time.Second,
	}

	// pipeline.New accepts nil external/budget collaborators for the
	// local-only degraded mode; a nil *externalmodel.Client passed as the
	// ExternalModel interface would be a non-nil interface wrapping a nil
	// pointer, so pass the interface value explicitly as nil when unset.
	var externalForPipeline pipeline.ExternalModel
	var budgetForPipeline pipeline.BudgetGate
	if externalClient != nil {
		externalForPipeline = externalClient
		budgetForPipeline = gate
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	pipe := pipeline.New(cachedSearch, localPool, externalForPipeline, budgetForPipeline, convoStore, metrics, timeouts)

	autoSessionRepo := repository.NewAutoSessionRepository(pool)
	investigator := autoinvestigate.New(autoSessionRepo, convoStore, pipe)

	dispatcher := sse.New(gate)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests:     120,
		Window:          1 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	})

	routerDeps := &router.Dependencies{
		DB:          pool,
		FrontendURL: os.Getenv("FRONTEND_URL"),
		Version:     Version,
		Metrics:     metrics,
		MetricsReg:  reg,
		AskDeps: handler.AskDeps{
			Pipeline:          pipe,
			Dispatcher:        dispatcher,
			ConversationStore: convoStore,
			NewID:             newConversationID,
		},
		AutoDeps: handler.AutoDeps{
			Investigator: investigator,
			Dispatcher:   dispatcher,
		},
		ConversationDeps: handler.ConversationDeps{
			Store: convoStore,
			NewID: newConversationID,
		},
		Searcher:           cachedSearch,
		StatsReader:        gate,
		GeneralRateLimiter: rateLimiter,
	}

	return &deps{
		routerDeps:  routerDeps,
		depthGauge:  depthGauge,
		localPool:   localPool,
		queryCache:  cachedSearch,
		rateLimiter: rateLimiter,
	}, nil
}

func (d *deps) Close() {
	d.rateLimiter.Stop()
	d.queryCache.Stop()
	d.depthGauge.Stop()
	d.localPool.Close()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	d, err := buildDeps(ctx, cfg, pool)
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}
	defer d.Close()

	mux := router.New(d.routerDeps)

	srv := &http.Server{
		Addr:        cfg.BindAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout is intentionally unset: /ask and /auto/start are
		// long-lived SSE streams bounded by the Stream Dispatcher's own
		// 120s root deadline, not by the HTTP server's write deadline.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.BindAddr, "version", Version, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
