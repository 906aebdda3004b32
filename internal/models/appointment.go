package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentDone      = "done"
	AppointmentCancelled = "cancelled"
)

type Appointment struct {
	ID           uuid.UUID  `json:"id"`
	AmbassadorID uuid.UUID  `json:"ambassador_id"`
	ClientID     *uuid.UUID `json:"client_id"`
	Title        string     `json:"title"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func ValidAppointmentStatus(s string) bool {
	return s == AppointmentScheduled || s == AppointmentDone || s == AppointmentCancelled
}
