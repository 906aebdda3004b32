package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApplicationNew      = "new"
	ApplicationReviewed = "reviewed"
	ApplicationApproved = "approved"
	ApplicationRejected = "rejected"
)

// AmbassadorApplication is a public submission from a prospective ambassador.
type AmbassadorApplication struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	CityState   string    `json:"city_state"`
	Message     string    `json:"message"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	Status      string    `json:"status"`
	Score       *int      `json:"score"`
	ScoreReason string    `json:"score_reason"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ValidApplicationStatus(s string) bool {
	switch s {
	case ApplicationNew, ApplicationReviewed, ApplicationApproved, ApplicationRejected:
		return true
	}
	return false
}
