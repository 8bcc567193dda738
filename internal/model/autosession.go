package model

import "time"

// AutoSessionStatus is the lifecycle state of an AutoSession (C6).
type AutoSessionStatus string

const (
	AutoSessionRunning   AutoSessionStatus = "running"
	AutoSessionStopped   AutoSessionStatus = "stopped"
	AutoSessionCompleted AutoSessionStatus = "completed"
)

// AutoSession tracks a bounded auto-investigation loop over a single
// conversation. Invariant: QueryCount <= MaxQueries; at most one session
// with status=running exists per conversation_id (enforced by a partial
// unique index, see migrations).
type AutoSession struct {
	ID             uint64            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Status         AutoSessionStatus `json:"status"`
	QueryCount     uint32            `json:"query_count"`
	MaxQueries     uint32            `json:"max_queries"`
	StartedAt      time.Time         `json:"started_at"`
	StoppedAt      *time.Time        `json:"stopped_at,omitempty"`
}
