package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/search"
)

// SearchRepository implements search.Index using PostgreSQL full-text
// search over the `documents` table. Grounded on the teacher's
// BM25Repository, generalized from a per-user chunk search to the
// spec's flat, immutable document corpus (no user scoping, no chunks).
type SearchRepository struct {
	pool *pgxpool.Pool
}

// NewSearchRepository creates a SearchRepository.
func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{pool: pool}
}

var _ search.Index = (*SearchRepository)(nil)

// LexicalSearch returns candidates ranked by PostgreSQL's ts_rank_cd over
// the GIN index on documents(title, body). The returned lexical score is
// combined with the recency/kind weighting in internal/search.
func (r *SearchRepository) LexicalSearch(ctx context.Context, terms string, limit int) ([]search.Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, body, kind, sender, timestamp, created_at,
		       ts_rank_cd(
		           setweight(to_tsvector('english', title), 'A') ||
		           setweight(to_tsvector('english', body), 'B'),
		           plainto_tsquery('english', $1)
		       ) AS lexical_score
		FROM documents
		WHERE (
		    setweight(to_tsvector('english', title), 'A') ||
		    setweight(to_tsvector('english', body), 'B')
		) @@ plainto_tsquery('english', $1)
		ORDER BY lexical_score DESC
		LIMIT $2
	`, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.LexicalSearch: %w", err)
	}
	defer rows.Close()

	var candidates []search.Candidate
	for rows.Next() {
		var c search.Candidate
		var doc model.Document
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Body, &doc.Kind, &doc.Sender,
			&doc.Timestamp, &doc.CreatedAt, &c.LexicalScore,
		); err != nil {
			return nil, fmt.Errorf("repository.LexicalSearch: scan: %w", err)
		}
		c.Document = doc
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.LexicalSearch: %w", err)
	}

	return candidates, nil
}
