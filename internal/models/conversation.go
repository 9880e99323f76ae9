package models

import "time"

// Roles written by the QA session. The set is open; the store accepts any
// non-empty label.
const (
	RoleHuman = "Human"
	RoleAI    = "AI"
)

type Message struct {
	ID        int64     `json:"id"`
	ConvID    int64     `json:"conversation_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
