package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// ConversationRepository implements convo.Repository. Grounded on the
// teacher's ThreadRepo.GetOrCreateThread/SaveMessage, split into explicit
// CRUD addressed by conversation_id rather than an implicit
// most-recent-thread lookup.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, id, title string, createdAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, id, title, createdAt)
	if err != nil {
		return fmt.Errorf("repository.CreateConversation: %w", err)
	}
	return nil
}

// AppendMessage inserts a message and touches the parent conversation's
// updated_at inside one transaction, mirroring ThreadRepo.SaveMessage's
// insert-then-touch pattern.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg model.Message) (uint64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository.AppendMessage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uint64
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, sources, suggested_queries, is_auto, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, msg.ConversationID, msg.Role, msg.Content, msg.Sources, msg.SuggestedQueries, msg.IsAuto, msg.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repository.AppendMessage: insert: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("repository.AppendMessage: touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("repository.AppendMessage: commit: %w", err)
	}
	return id, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("repository.ListConversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListConversations: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, suggested_queries, is_auto, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("repository.GetMessages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Sources, &m.SuggestedQueries, &m.IsAuto, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.GetMessages: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("repository.DeleteConversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("repository.ConversationExists: %w", err)
	}
	return exists, nil
}
