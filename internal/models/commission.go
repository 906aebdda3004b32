package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CommissionPending  = "pending"
	CommissionPaid     = "paid"
	CommissionReversed = "reversed"
)

// Commission amounts are integer cents. Status may move freely between values.
type Commission struct {
	ID           uuid.UUID  `json:"id"`
	AmbassadorID uuid.UUID  `json:"ambassador_id"`
	ClientID     *uuid.UUID `json:"client_id"`
	AmountCents  int64      `json:"amount_cents"`
	Status       string     `json:"status"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    time.Time  `json:"period_end"`
	Note         string     `json:"note"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func ValidCommissionStatus(s string) bool {
	return s == CommissionPending || s == CommissionPaid || s == CommissionReversed
}
