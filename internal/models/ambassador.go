package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AmbassadorStatusActive   = "active"
	AmbassadorStatusInactive = "inactive"
)

type Ambassador struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Status         string          `json:"status"`
	CommissionRule json.RawMessage `json:"commission_rule"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
