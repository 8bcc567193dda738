// Package router assembles the chi.Mux exposing spec.md §6's HTTP
// surface. Grounded on the teacher's router.go (global middleware chain,
// r.Group for a shared sub-chain, internalAuthOnly-style wrapping), trimmed
// to the eight SPEC_FULL.md endpoints (no document/folder/forge/audit/voice
// CRUD — those product surfaces have no analog in the 8 components).
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/docengine-backend/internal/handler"
	"github.com/connexus-ai/docengine-backend/internal/middleware"
)

// Dependencies holds every injected collaborator the router wires into a
// route.
type Dependencies struct {
	DB          handler.DBPinger
	FrontendURL string
	Version     string
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry

	AskDeps          handler.AskDeps
	AutoDeps         handler.AutoDeps
	ConversationDeps handler.ConversationDeps
	Searcher         handler.Searcher
	StatsReader      handler.StatsReader

	// GeneralRateLimiter throttles all routes; nil disables it.
	GeneralRateLimiter *middleware.RateLimiter
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}
	if deps.GeneralRateLimiter != nil {
		r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
	}

	r.Get("/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Ask and auto/start are long-lived SSE streams: no write timeout, since
	// the Stream Dispatcher (C8) owns the invocation's own 120s root
	// deadline (§5) and http.TimeoutHandler would truncate a legitimately
	// slow-but-still-progressing analyze stage.
	r.Get("/ask", handler.Ask(deps.AskDeps))
	r.Post("/auto/start", handler.AutoStart(deps.AutoDeps))

	timeout30s := middleware.Timeout(30 * time.Second)
	r.With(timeout30s).Post("/auto/stop", handler.AutoStop(deps.AutoDeps))
	r.With(timeout30s).Post("/conversations", handler.CreateConversation(deps.ConversationDeps))
	r.With(timeout30s).Get("/conversations", handler.ListConversations(deps.ConversationDeps))
	r.With(timeout30s).Get("/conversations/{id}/messages", handler.GetConversationMessages(deps.ConversationDeps))
	r.With(timeout30s).Delete("/conversations/{id}", handler.DeleteConversation(deps.ConversationDeps))
	r.With(timeout30s).Get("/search", handler.Search(deps.Searcher))
	r.With(timeout30s).Get("/stats", handler.Stats(deps.StatsReader))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
