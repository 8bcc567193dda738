package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/docengine-backend/internal/handler"
	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/sse"
)

type fakeDB struct{ err error }

func (f *fakeDB) Ping(ctx context.Context) error { return f.err }

type fakeSearcher struct{}

func (fakeSearcher) Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error) {
	return nil, nil
}

type fakeStats struct{}

func (fakeStats) PeekBudgetStats(ctx context.Context) (uint32, uint64, error) { return 0, 0, nil }

type fakeConvoStore struct{}

func (fakeConvoStore) CreateConversation(ctx context.Context, id, title string) error { return nil }
func (fakeConvoStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return nil, nil
}
func (fakeConvoStore) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return nil, nil
}
func (fakeConvoStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return nil
}

func newTestDeps() *Dependencies {
	return &Dependencies{
		DB:          &fakeDB{},
		FrontendURL: "https://app.example.com",
		Version:     "test",
		ConversationDeps: handler.ConversationDeps{
			Store: fakeConvoStore{},
			NewID: func() string { return "conv-1" },
		},
		Searcher:    fakeSearcher{},
		StatsReader: fakeStats{},
		AskDeps: handler.AskDeps{
			Dispatcher:        sse.New(nil),
			ConversationStore: fakeConvoStore{},
			NewID:             func() string { return "conv-1" },
		},
		AutoDeps: handler.AutoDeps{
			Dispatcher: sse.New(nil),
		},
	}
}

func TestNew_HealthRoute(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNew_NotFoundFallback(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", rec.Header().Get("Content-Type"))
	}
}

func TestNew_ConversationsRoutesRegistered(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNew_SearchRouteRegistered(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/search?q=revenue", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNew_StatsRouteRegistered(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
