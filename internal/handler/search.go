package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/search"
)

// Searcher is the C1 collaborator the search handler exposes directly,
// for callers (or a UI) that want raw ranked hits without a pipeline
// invocation.
type Searcher interface {
	Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error)
}

// Search implements GET /search?q=...&limit=....
func Search(searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		terms := r.URL.Query().Get("q")
		limit := parseLimit(r, 10)

		hits, err := searcher.Search(r.Context(), terms, limit)
		if err != nil {
			if errors.Is(err, search.ErrInvalidQuery) {
				http.Error(w, `{"error":"invalid query"}`, http.StatusBadRequest)
				return
			}
			http.Error(w, `{"error":"search unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hits)
	}
}

// StatsReader peeks today's budget counters without mutating them.
type StatsReader interface {
	PeekBudgetStats(ctx context.Context) (externalCalls uint32, costMicroUSD uint64, err error)
}

// Stats implements GET /stats.
func Stats(reader StatsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls, cost, err := reader.PeekBudgetStats(r.Context())
		if err != nil {
			http.Error(w, `{"error":"stats unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"external_calls_today": calls,
			"cost_micro_usd_today": cost,
		})
	}
}
