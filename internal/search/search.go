// Package search implements the Search Index (C1): lexical full-text
// search over the immutable documents corpus with ranked, highlighted
// snippets. Grounded on the teacher's repository/bm25.go (ts_rank_cd over a
// GIN index) and service/retriever.go's weighted rerank/recency formula,
// generalized from vector+BM25 hybrid retrieval down to lexical-only
// ranking per the Non-goals in spec.md §1.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// ErrInvalidQuery is returned when terms is empty after trimming or limit
// is outside [1, 100] (§4.1).
var ErrInvalidQuery = errors.New("search: invalid query")

// ErrIndexUnavailable wraps a failure reaching the underlying index.
var ErrIndexUnavailable = errors.New("search: index unavailable")

// Candidate is a raw match returned by the Index before ranking.
type Candidate struct {
	Document     model.Document
	LexicalScore float64
}

// Index abstracts the underlying full-text search engine (an external
// database collaborator per spec.md §1) for testability.
type Index interface {
	LexicalSearch(ctx context.Context, terms string, limit int) ([]Candidate, error)
}

const (
	// recencyWindow is the period over which the recency bonus decays
	// linearly to zero (§4.1: "last 5 years, linear decay"). Per Design
	// Note §9 item 4, the coefficients are configuration, not constants —
	// exposed via NewService's weight arguments.
	recencyWindow = 5 * 365 * 24 * time.Hour

	snippetMaxChars = 240
	highlightOpen   = "«"
	highlightClose  = "»"

	// fetchMultiplier over-fetches from the index so that rank+recency+
	// kind weighting can reorder before truncating to the caller's limit.
	fetchMultiplier = 3
)

// Weights controls the composite ranking formula:
//
//	FinalScore = WLexical*lexical + WRecency*recencyBoost + WKind*kindWeight
type Weights struct {
	Lexical float64
	Recency float64
	Kind    float64
}

// DefaultWeights matches the teacher's rerank() proportions
// (0.70/0.15/0.15), repointed at kind instead of parent-document boost.
var DefaultWeights = Weights{Lexical: 0.70, Recency: 0.15, Kind: 0.15}

// Service implements the C1 contract: search(terms, limit) -> []SearchHit.
type Service struct {
	index   Index
	weights Weights
	now     func() time.Time
}

// NewService creates a Service with the given ranking weights. Pass
// search.DefaultWeights for the teacher's proportions.
func NewService(index Index, weights Weights) *Service {
	return &Service{index: index, weights: weights, now: time.Now}
}

// Search implements the C1 contract. terms must be non-empty after
// trimming; limit must be in [1, 100].
func (s *Service) Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error) {
	trimmed := strings.TrimSpace(terms)
	if trimmed == "" {
		return nil, ErrInvalidQuery
	}
	if limit < 1 || limit > 100 {
		return nil, ErrInvalidQuery
	}

	fetchLimit := limit * fetchMultiplier
	if fetchLimit > 300 {
		fetchLimit = 300
	}

	candidates, err := s.index.LexicalSearch(ctx, trimmed, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if len(candidates) == 0 {
		return []model.SearchHit{}, nil
	}

	now := s.now()
	ranked := make([]rankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = rankedCandidate{
			candidate: c,
			final: s.weights.Lexical*c.LexicalScore +
				s.weights.Recency*recencyBoost(c.Document.Timestamp, now) +
				s.weights.Kind*model.KindWeight(c.Document.Kind),
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.final != b.final {
			return a.final > b.final
		}
		if a.candidate.LexicalScore != b.candidate.LexicalScore {
			return a.candidate.LexicalScore > b.candidate.LexicalScore
		}
		at, bt := a.candidate.Document.Timestamp, b.candidate.Document.Timestamp
		switch {
		case at != nil && bt != nil && !at.Equal(*bt):
			return at.After(*bt)
		case at != nil && bt == nil:
			return true
		case at == nil && bt != nil:
			return false
		}
		return a.candidate.Document.ID < b.candidate.Document.ID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	queryTokens := tokenize(trimmed)
	hits := make([]model.SearchHit, len(ranked))
	for i, r := range ranked {
		d := r.candidate.Document
		hits[i] = model.SearchHit{
			DocID:     d.ID,
			Title:     d.Title,
			Snippet:   snippet(d.Body, queryTokens),
			Score:     r.final,
			Kind:      d.Kind,
			Timestamp: d.Timestamp,
			Sender:    d.Sender,
		}
	}
	return hits, nil
}

type rankedCandidate struct {
	candidate Candidate
	final     float64
}

// recencyBoost returns a score in [0, 1]: 1.0 for documents with no more
// than 0 days of age, decaying linearly to 0 at recencyWindow, 0 for
// documents with no timestamp or older than the window (§4.1).
func recencyBoost(ts *time.Time, now time.Time) float64 {
	if ts == nil {
		return 0
	}
	age := now.Sub(*ts)
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return 1.0 - float64(age)/float64(recencyWindow)
}

func tokenize(terms string) []string {
	fields := strings.Fields(strings.ToLower(terms))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// snippet extracts a window of at most snippetMaxChars centered on the
// match maximizing query-token coverage, wrapping matched tokens in
// «…» (§4.1 snippet rule).
func snippet(body string, terms []string) string {
	if strings.TrimSpace(body) == "" || len(terms) == 0 {
		return truncateSnippet(body)
	}

	lower := strings.ToLower(body)
	bestStart, bestCoverage := -1, -1
	windowChars := snippetMaxChars

	// Slide a window anchored at each term occurrence; keep the one
	// covering the most distinct query tokens.
	for _, t := range terms {
		idx := strings.Index(lower, t)
		for idx != -1 {
			start := idx - windowChars/2
			if start < 0 {
				start = 0
			}
			end := start + windowChars
			if end > len(body) {
				end = len(body)
				start = end - windowChars
				if start < 0 {
					start = 0
				}
			}
			coverage := countCoverage(lower[start:end], terms)
			if coverage > bestCoverage {
				bestCoverage = coverage
				bestStart = start
			}
			next := strings.Index(lower[idx+1:], t)
			if next == -1 {
				break
			}
			idx = idx + 1 + next
		}
	}

	if bestStart == -1 {
		return truncateSnippet(body)
	}

	end := bestStart + windowChars
	if end > len(body) {
		end = len(body)
	}
	window := body[bestStart:end]
	return highlight(window, terms)
}

func countCoverage(windowLower string, terms []string) int {
	count := 0
	for _, t := range terms {
		if strings.Contains(windowLower, t) {
			count++
		}
	}
	return count
}

// highlight wraps every case-insensitive occurrence of a query token in
// «…» markers.
func highlight(window string, terms []string) string {
	lower := strings.ToLower(window)
	type span struct{ start, end int }
	var spans []span
	for _, t := range terms {
		if t == "" {
			continue
		}
		idx := 0
		for {
			pos := strings.Index(lower[idx:], t)
			if pos == -1 {
				break
			}
			start := idx + pos
			spans = append(spans, span{start, start + len(t)})
			idx = start + len(t)
		}
	}
	if len(spans) == 0 {
		return window
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	cursor := 0
	for _, sp := range spans {
		if sp.start < cursor {
			continue // overlapping match, already inside a highlight
		}
		b.WriteString(window[cursor:sp.start])
		b.WriteString(highlightOpen)
		b.WriteString(window[sp.start:sp.end])
		b.WriteString(highlightClose)
		cursor = sp.end
	}
	b.WriteString(window[cursor:])
	return b.String()
}

func truncateSnippet(body string) string {
	if len(body) <= snippetMaxChars {
		return body
	}
	return body[:snippetMaxChars]
}
