package model

import "time"

// Role distinguishes the author of a conversation Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a persisted thread of Messages (C7).
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a Conversation. Sources is always a non-nil,
// ordered sequence of doc_ids — empty, never null, when a turn cites
// nothing (§3 invariant). SuggestedQueries is only ever set on assistant
// turns; it is the pipeline's follow-up suggestions for that turn,
// persisted so the auto-investigator can seed its first iteration from an
// already-answered conversation without re-asking the question it follows.
type Message struct {
	ID               uint64    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Sources          []uint64  `json:"sources"`
	SuggestedQueries []string  `json:"suggested_queries"`
	IsAuto           bool      `json:"is_auto"`
	CreatedAt        time.Time `json:"created_at"`
}
