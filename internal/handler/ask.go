package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/pipeline"
	"github.com/connexus-ai/docengine-backend/internal/sse"
)

// rootDeadline is the whole-invocation ceiling (§5): 120s default.
const rootDeadline = 120 * time.Second

// PipelineRunner is the C5 collaborator the ask handler drives.
type PipelineRunner interface {
	Run(ctx context.Context, conversationID, query string, isAuto bool, emit pipeline.Emit) error
}

// AskDeps bundles the ask handler's dependencies. ConversationStore and
// NewID back the optional conversation_id path: when the caller omits it, a
// fresh conversation is created the same way CreateConversation does.
type AskDeps struct {
	Pipeline          PipelineRunner
	Dispatcher        *sse.Dispatcher
	ConversationStore ConversationStore
	NewID             func() string
}

// Ask implements GET /ask: runs one Query Pipeline invocation and streams
// its events as SSE (§6). conversation_id is optional — when absent, a new
// conversation is created for this query.
func Ask(deps AskDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, `{"error":"q is required"}`, http.StatusBadRequest)
			return
		}

		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			conversationID = deps.NewID()
			if err := deps.ConversationStore.CreateConversation(r.Context(), conversationID, ""); err != nil {
				http.Error(w, `{"error":"failed to create conversation"}`, http.StatusInternalServerError)
				return
			}
		}

		deps.Dispatcher.Stream(w, r, rootDeadline, func(ctx context.Context, emit pipeline.Emit) error {
			return deps.Pipeline.Run(ctx, conversationID, query, false, emit)
		})
	}
}

// AutoInvestigator is the C6 collaborator the auto handlers drive.
type AutoInvestigator interface {
	Start(ctx context.Context, conversationID string, maxQueries uint32) (model.AutoSession, error)
	Stop(ctx context.Context, conversationID string) error
	Run(ctx context.Context, clientIP string, session model.AutoSession, emit pipeline.Emit) error
}

// AutoDeps bundles the auto-investigation handlers' dependencies.
type AutoDeps struct {
	Investigator AutoInvestigator
	Dispatcher   *sse.Dispatcher
}

type autoStartRequest struct {
	ConversationID string `json:"conversation_id"`
	MaxQueries     uint32 `json:"max_queries"`
}

// AutoStart implements POST /auto/start: creates a running AutoSession and
// streams the investigator's events over SSE until it stops or completes.
func AutoStart(deps AutoDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autoStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ConversationID == "" {
			http.Error(w, `{"error":"conversation_id is required"}`, http.StatusBadRequest)
			return
		}
		if req.MaxQueries == 0 {
			req.MaxQueries = 10
		}

		session, err := deps.Investigator.Start(r.Context(), req.ConversationID, req.MaxQueries)
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
			return
		}

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		deps.Dispatcher.Stream(w, r, rootDeadline, func(ctx context.Context, emit pipeline.Emit) error {
			return deps.Investigator.Run(ctx, clientIP, session, emit)
		})
	}
}

type autoStopRequest struct {
	ConversationID string `json:"conversation_id"`
}

// AutoStop implements POST /auto/stop: signals a running session to halt
// at its next loop boundary.
func AutoStop(deps AutoDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autoStopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if err := deps.Investigator.Stop(r.Context(), req.ConversationID); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
	}
}

func parseConversationID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
