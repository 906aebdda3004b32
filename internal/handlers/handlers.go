// Package handlers serves the CRUD surfaces of the console: ambassadors,
// clients, commissions, appointments, the audit log and the current user.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/repository"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v); err != nil {
		return apperr.Invalid("", "invalid JSON")
	}
	return nil
}

func pathID(r *http.Request, entity string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid "+entity+" id")
	}
	return id, nil
}

func actor(r *http.Request) string {
	return audit.ActorFor(middleware.PrincipalFromCtx(r.Context()))
}

// storeErr maps repository sentinels onto API errors.
func storeErr(err error, entity string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(entity)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict(entity + " already exists")
	}
	return err
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
