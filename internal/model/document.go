package model

import (
	"encoding/json"
	"time"
)

// DocumentKind classifies a document for ranking (C1 §4.1) and citation
// formatting. Depositions and filings carry more evidentiary weight than
// emails or logs.
type DocumentKind string

const (
	KindDeposition DocumentKind = "deposition"
	KindFiling     DocumentKind = "filing"
	KindEmail      DocumentKind = "email"
	KindLog        DocumentKind = "log"
	KindOther      DocumentKind = "other"
)

// kindWeight is the ranking bonus applied per DocumentKind (§4.1 ranking
// formula). Higher-evidentiary-value kinds rank above lower ones at equal
// lexical score.
var kindWeight = map[DocumentKind]float64{
	KindDeposition: 1.00,
	KindFiling:     0.85,
	KindEmail:      0.55,
	KindLog:        0.40,
	KindOther:      0.30,
}

// KindWeight returns the ranking weight for a document kind, defaulting to
// KindOther's weight for unrecognized values.
func KindWeight(k DocumentKind) float64 {
	if w, ok := kindWeight[k]; ok {
		return w
	}
	return kindWeight[KindOther]
}

// Document is a single indexed record produced by the ingestion
// collaborator. The core never writes these rows — it only reads them for
// retrieval (C1) and citation formatting (C5).
type Document struct {
	ID        uint64          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Kind      DocumentKind    `json:"kind"`
	Sender    *string         `json:"sender,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
