package model

import "time"

// SearchHit is a single ranked result from the search index (C1). It is
// transient: produced for one query and never persisted.
type SearchHit struct {
	DocID     uint64       `json:"doc_id"`
	Title     string       `json:"title"`
	Snippet   string       `json:"snippet"`
	Score     float64      `json:"score"`
	Kind      DocumentKind `json:"kind"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
	Sender    *string      `json:"sender,omitempty"`
}

// IntentKind classifies the shape of a user question.
type IntentKind string

const (
	IntentSearch      IntentKind = "search"
	IntentConnections IntentKind = "connections"
	IntentTimeline    IntentKind = "timeline"
)

// Intent is the structured representation of a question produced by
// Stage 1 of the query pipeline (C5).
type Intent struct {
	Kind     IntentKind        `json:"intent"`
	Entities []string          `json:"entities"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Confidence is the coarse confidence band the external/local model attaches
// to an Analysis.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Analysis is the structured output of Stage 3 (C3 or its local fallback).
// Invariant: every doc_id in Sources must appear among the SearchHits that
// produced it — enforced by the pipeline, not by this type.
type Analysis struct {
	Findings         []string   `json:"findings"`
	Sources          []uint64   `json:"sources"`
	Confidence       Confidence `json:"confidence"`
	Hypotheses       []string   `json:"hypotheses,omitempty"`
	Contradictions   []string   `json:"contradictions,omitempty"`
	SuggestedQueries []string   `json:"suggested_queries,omitempty"`
}
