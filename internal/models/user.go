package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles carried in the session token.
const (
	RoleAdmin      = "admin"
	RoleAmbassador = "ambassador"
	RoleClientUser = "client_user"
)

// ValidRole reports whether role is one of the known role tags.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleAmbassador, RoleClientUser:
		return true
	}
	return false
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
