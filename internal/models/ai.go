package models

import (
	"time"

	"github.com/google/uuid"
)

// AI message roles.
const (
	MessageRoleSystem    = "system"
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

type AIThread struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// AIMessage rows are append-only.
type AIMessage struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  uuid.UUID `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
