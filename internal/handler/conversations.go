package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/connexus-ai/docengine-backend/internal/convo"
	"github.com/connexus-ai/docengine-backend/internal/model"
)

// ConversationStore is the C7 collaborator the conversation handlers use.
type ConversationStore interface {
	CreateConversation(ctx context.Context, id, title string) error
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationDeps bundles the conversation handlers' dependencies.
type ConversationDeps struct {
	Store ConversationStore
	NewID func() string
}

type createConversationRequest struct {
	Title string `json:"title"`
}

// CreateConversation implements POST /conversations.
func CreateConversation(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		id := deps.NewID()
		if err := deps.Store.CreateConversation(r.Context(), id, req.Title); err != nil {
			http.Error(w, `{"error":"failed to create conversation"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

// ListConversations implements GET /conversations.
func ListConversations(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convos, err := deps.Store.ListConversations(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list conversations"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(convos)
	}
}

// GetConversationMessages implements GET /conversations/{id}/messages.
func GetConversationMessages(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := parseConversationID(r)
		messages, err := deps.Store.GetMessages(r.Context(), id)
		if err != nil {
			if errors.Is(err, convo.ErrNotFound) {
				http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to get messages"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messages)
	}
}

// DeleteConversation implements DELETE /conversations/{id}.
func DeleteConversation(deps ConversationDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := parseConversationID(r)
		if err := deps.Store.DeleteConversation(r.Context(), id); err != nil {
			if errors.Is(err, convo.ErrNotFound) {
				http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to delete conversation"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
