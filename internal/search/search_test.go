package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

type fakeIndex struct {
	candidates []Candidate
	err        error
}

func (f *fakeIndex) LexicalSearch(ctx context.Context, terms string, limit int) ([]Candidate, error) {
	return f.candidates, f.err
}

func ts(daysAgo int) *time.Time {
	t := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return &t
}

func TestSearch_InvalidQuery(t *testing.T) {
	s := NewService(&fakeIndex{}, DefaultWeights)

	_, err := s.Search(context.Background(), "   ", 10)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = s.Search(context.Background(), "flight", 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = s.Search(context.Background(), "flight", 101)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearch_EmptyResultsNeverErrors(t *testing.T) {
	s := NewService(&fakeIndex{candidates: nil}, DefaultWeights)

	hits, err := s.Search(context.Background(), "quantum tunneling", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_IndexUnavailable(t *testing.T) {
	s := NewService(&fakeIndex{err: assertError{}}, DefaultWeights)

	_, err := s.Search(context.Background(), "flight", 10)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestSearch_RankingPrefersKindAndRecency(t *testing.T) {
	deposition := model.Document{ID: 11, Title: "Deposition of A", Body: "Met B on island.", Kind: model.KindDeposition, Timestamp: ts(1)}
	oldLog := model.Document{ID: 99, Title: "Old flight log", Body: "Met B once.", Kind: model.KindLog, Timestamp: ts(3000)}

	idx := &fakeIndex{candidates: []Candidate{
		{Document: oldLog, LexicalScore: 0.5},
		{Document: deposition, LexicalScore: 0.5},
	}}
	s := NewService(idx, DefaultWeights)

	hits, err := s.Search(context.Background(), "met B", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(11), hits[0].DocID, "deposition should outrank an old log at equal lexical score")
}

func TestSearch_TieBreakLowerDocIDWins(t *testing.T) {
	a := model.Document{ID: 20, Title: "A", Body: "shared text", Kind: model.KindOther}
	b := model.Document{ID: 10, Title: "B", Body: "shared text", Kind: model.KindOther}

	idx := &fakeIndex{candidates: []Candidate{
		{Document: a, LexicalScore: 0.4},
		{Document: b, LexicalScore: 0.4},
	}}
	s := NewService(idx, DefaultWeights)

	hits, err := s.Search(context.Background(), "shared text", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(10), hits[0].DocID)
}

func TestSearch_SnippetHighlightsMatches(t *testing.T) {
	doc := model.Document{ID: 1, Title: "T", Body: "The quick brown fox jumps over the lazy dog near the island.", Kind: model.KindEmail}
	idx := &fakeIndex{candidates: []Candidate{{Document: doc, LexicalScore: 1.0}}}
	s := NewService(idx, DefaultWeights)

	hits, err := s.Search(context.Background(), "fox island", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Snippet, "«fox»")
	assert.Contains(t, hits[0].Snippet, "«island»")
	assert.LessOrEqual(t, len(hits[0].Snippet), snippetMaxChars+20) // highlight markers add a few bytes
}

func TestSearch_LimitTruncates(t *testing.T) {
	var candidates []Candidate
	for i := uint64(1); i <= 5; i++ {
		candidates = append(candidates, Candidate{
			Document:     model.Document{ID: i, Title: "doc", Body: "flight log entry", Kind: model.KindLog},
			LexicalScore: float64(i),
		})
	}
	idx := &fakeIndex{candidates: candidates}
	s := NewService(idx, DefaultWeights)

	hits, err := s.Search(context.Background(), "flight", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
