// Package convo implements the Conversation Store (C7): conversations and
// their messages. It does not persist AutoSession rows or the rate/budget
// counters; internal/repository stores those behind
// autoinvestigate.Repository and admission.Repository. Grounded on the teacher's
// repository/thread.go (GetOrCreateThread/SaveMessage two-row touch
// pattern), generalized from a single-thread-per-user model to explicit
// conversation_id-addressed CRUD.
package convo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// ErrNotFound is returned when a conversation_id has no matching row.
var ErrNotFound = errors.New("convo: not found")

// Repository is the persistence boundary implemented by
// internal/repository.
type Repository interface {
	CreateConversation(ctx context.Context, id, title string, createdAt time.Time) error
	// AppendMessage inserts a message and touches the parent conversation's
	// updated_at under a single transaction (§4.5's "two messages under a
	// single logical transaction" persistence rule applies at the caller,
	// which invokes AppendMessage twice — once per message — since each
	// call is independently transactional).
	AppendMessage(ctx context.Context, msg model.Message) (uint64, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ConversationExists(ctx context.Context, conversationID string) (bool, error)
}

// Store implements the C7 contract over a Repository.
type Store struct {
	repo Repository
	now  func() time.Time
}

// New creates a Store.
func New(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// CreateConversation creates a new, empty conversation under the
// caller-supplied id; an empty title is stored as "Untitled conversation".
func (s *Store) CreateConversation(ctx context.Context, id, title string) error {
	if title == "" {
		title = "Untitled conversation"
	}
	if err := s.repo.CreateConversation(ctx, id, title, s.now().UTC()); err != nil {
		return fmt.Errorf("convo: create conversation: %w", err)
	}
	return nil
}

// AppendUserMessage records a user turn.
func (s *Store) AppendUserMessage(ctx context.Context, conversationID, content string) (uint64, error) {
	return s.append(ctx, conversationID, model.RoleUser, content, nil, nil, false)
}

// AppendAssistantMessage records an assistant turn with its grounding
// sources (§3: "assistant messages carry the source set that grounded
// them") and the pipeline's follow-up suggestions for that turn, so a
// later auto-investigation can seed itself from them instead of re-asking
// the question it follows. isAuto marks a turn produced by the
// auto-investigator (C6) rather than a direct user query.
func (s *Store) AppendAssistantMessage(ctx context.Context, conversationID, content string, sources []uint64, suggestedQueries []string, isAuto bool) (uint64, error) {
	return s.append(ctx, conversationID, model.RoleAssistant, content, sources, suggestedQueries, isAuto)
}

func (s *Store) append(ctx context.Context, conversationID string, role model.Role, content string, sources []uint64, suggestedQueries []string, isAuto bool) (uint64, error) {
	if sources == nil {
		sources = []uint64{}
	}
	if suggestedQueries == nil {
		suggestedQueries = []string{}
	}
	id, err := s.repo.AppendMessage(ctx, model.Message{
		ConversationID:   conversationID,
		Role:             role,
		Content:          content,
		Sources:          sources,
		SuggestedQueries: suggestedQueries,
		IsAuto:           isAuto,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("convo: append message: %w", err)
	}
	return id, nil
}

// ListConversations returns all conversations ordered by updated_at
// descending (most recently active first).
func (s *Store) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	convos, err := s.repo.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("convo: list conversations: %w", err)
	}
	return convos, nil
}

// GetMessages returns a conversation's messages ordered by created_at
// ascending (§3 invariant: strictly increasing sequence).
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	exists, err := s.repo.ConversationExists(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("convo: get messages: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	msgs, err := s.repo.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("convo: get messages: %w", err)
	}
	return msgs, nil
}

// DeleteConversation cascades the delete to all of its messages and any
// auto_sessions rows (enforced by the schema's ON DELETE CASCADE).
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	exists, err := s.repo.ConversationExists(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("convo: delete conversation: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("convo: delete conversation: %w", err)
	}
	return nil
}
