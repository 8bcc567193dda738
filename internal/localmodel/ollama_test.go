package localmodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaModel_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3.1" {
			t.Errorf("model = %q, want llama3.1", req.Model)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "hello there", Done: true})
	}))
	defer srv.Close()

	factory := NewOllamaModel(srv.URL, "llama3.1")
	model, err := factory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := model.Complete(context.Background(), "hi", 128, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello there" {
		t.Errorf("Complete() = %q, want %q", out, "hello there")
	}
}

func TestOllamaModel_Complete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	factory := NewOllamaModel(srv.URL, "llama3.1")
	model, _ := factory()

	_, err := model.Complete(context.Background(), "hi", 128, 0.2)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !Reachable(srv.URL) {
		t.Error("expected reachable server to report true")
	}
	if Reachable("http://127.0.0.1:1") {
		t.Error("expected unreachable address to report false")
	}
}
