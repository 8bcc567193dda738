package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// AutoSessionRepository implements autoinvestigate.Repository. Grounded on
// repository/session.go's LearningSession CRUD (Create/GetActive/Update
// shape), generalized from per-user to per-conversation AutoSessions.
type AutoSessionRepository struct {
	pool *pgxpool.Pool
}

// NewAutoSessionRepository creates an AutoSessionRepository.
func NewAutoSessionRepository(pool *pgxpool.Pool) *AutoSessionRepository {
	return &AutoSessionRepository{pool: pool}
}

// CreateSession inserts a new running AutoSession. The partial unique
// index on (conversation_id) WHERE status = 'running' (see migrations)
// makes a concurrent double-start a constraint violation rather than a
// silent duplicate; the caller is expected to have already checked
// GetRunningSession, so this should not race in practice.
func (r *AutoSessionRepository) CreateSession(ctx context.Context, s model.AutoSession) (uint64, error) {
	var id uint64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO auto_sessions (conversation_id, status, query_count, max_queries, started_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, s.ConversationID, s.Status, s.QueryCount, s.MaxQueries).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repository.CreateSession: %w", err)
	}
	return id, nil
}

// GetRunningSession returns the conversation's currently running session,
// or nil if none exists.
func (r *AutoSessionRepository) GetRunningSession(ctx context.Context, conversationID string) (*model.AutoSession, error) {
	var s model.AutoSession
	err := r.pool.QueryRow(ctx, `
		SELECT id, conversation_id, status, query_count, max_queries, started_at, stopped_at
		FROM auto_sessions
		WHERE conversation_id = $1 AND status = $2
	`, conversationID, model.AutoSessionRunning).Scan(
		&s.ID, &s.ConversationID, &s.Status, &s.QueryCount, &s.MaxQueries, &s.StartedAt, &s.StoppedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetRunningSession: %w", err)
	}
	return &s, nil
}

// UpdateSession persists a session's mutable fields (status, query_count,
// stopped_at).
func (r *AutoSessionRepository) UpdateSession(ctx context.Context, s model.AutoSession) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE auto_sessions
		SET status = $1, query_count = $2, stopped_at = CASE WHEN $1 <> $3 THEN now() ELSE stopped_at END
		WHERE id = $4
	`, s.Status, s.QueryCount, model.AutoSessionRunning, s.ID)
	if err != nil {
		return fmt.Errorf("repository.UpdateSession: %w", err)
	}
	return nil
}
