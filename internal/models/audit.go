package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in the audit log.
const (
	EntityAmbassador  = "ambassador"
	EntityClient      = "client"
	EntityCommission  = "commission"
	EntityAppointment = "appointment"
	EntityApplication = "application"
	EntityDashboard   = "dashboard_project"
)

// AuditLog is append-only; nothing updates or deletes these rows.
type AuditLog struct {
	ID         uuid.UUID       `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	CreatedAt  time.Time       `json:"created_at"`
}
