package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

type AppointmentStore interface {
	List(ctx context.Context, owner *uuid.UUID) ([]*models.Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Appointment) error
	UpdateTx(ctx context.Context, tx pgx.Tx, a *models.Appointment, owner *uuid.UUID) error
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) error
}

// ClientGetter resolves a client within an ownership scope.
type ClientGetter interface {
	GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error)
}

// AppointmentHandler serves /api/appointments. Rows of other ambassadors are
// reported as missing.
type AppointmentHandler struct {
	Appointments AppointmentStore
	Clients      ClientGetter
	Ambassadors  AmbassadorGetter
	Audit        audit.Mutator
	Logger       *slog.Logger
}

type appointmentRequest struct {
	AmbassadorID *uuid.UUID `json:"ambassador_id"`
	ClientID     *uuid.UUID `json:"client_id"`
	Title        *string    `json:"title"`
	StartsAt     *time.Time `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at"`
	Status       *string    `json:"status"`
	Notes        *string    `json:"notes"`
}

func (req appointmentRequest) apply(a *models.Appointment) error {
	if req.ClientID != nil {
		a.ClientID = req.ClientID
	}
	if req.Title != nil {
		a.Title = strings.TrimSpace(*req.Title)
	}
	if req.StartsAt != nil {
		a.StartsAt = req.StartsAt.UTC()
	}
	if req.EndsAt != nil {
		a.EndsAt = req.EndsAt.UTC()
	}
	if req.Status != nil {
		a.Status = *req.Status
	}
	if req.Notes != nil {
		a.Notes = strings.TrimSpace(*req.Notes)
	}
	switch {
	case a.Title == "":
		return apperr.Invalid("title", "title is required")
	case a.StartsAt.IsZero() || a.EndsAt.IsZero():
		return apperr.Invalid("starts_at", "starts_at and ends_at are required")
	case !a.EndsAt.After(a.StartsAt):
		return apperr.Invalid("ends_at", "ends_at must be after starts_at")
	case !models.ValidAppointmentStatus(a.Status):
		return apperr.Invalid("status", "status must be scheduled, done or cancelled")
	}
	return nil
}

// checkClient rejects a client the caller cannot see.
func (h *AppointmentHandler) checkClient(ctx context.Context, id *uuid.UUID, owner *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := h.Clients.GetByID(ctx, *id, owner); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Invalid("client_id", "unknown client")
		}
		return err
	}
	return nil
}

// --- GET /api/appointments ---

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	list, err := h.Appointments.List(r.Context(), guard.OwnerFilter(p))
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

// --- GET /api/appointments/{id} ---

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "appointment")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	a, err := h.Appointments.GetByID(r.Context(), id, guard.OwnerFilter(p))
	if err != nil {
		apperr.Write(w, r, h.Logger, storeErr(err, models.EntityAppointment))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

// --- POST /api/appointments ---

// Create books for the calling ambassador. Admins name the ambassador.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	owner := guard.OwnerFilter(p)

	a := &models.Appointment{Status: models.AppointmentScheduled}
	if owner != nil {
		a.AmbassadorID = *owner
	} else {
		if req.AmbassadorID == nil {
			apperr.Write(w, r, h.Logger, apperr.Invalid("ambassador_id", "ambassador_id is required"))
			return
		}
		if err := checkAmbassador(r.Context(), h.Ambassadors, req.AmbassadorID); err != nil {
			apperr.Write(w, r, h.Logger, err)
			return
		}
		a.AmbassadorID = *req.AmbassadorID
	}
	if err := req.apply(a); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if err := h.checkClient(r.Context(), a.ClientID, owner); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}

	err := h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		if err := h.Appointments.CreateTx(r.Context(), tx, a); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAppointment)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionCreate, EntityType: models.EntityAppointment, EntityID: a.ID, After: a}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, a)
}

// --- PATCH /api/appointments/{id} ---

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "appointment")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	var req appointmentRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	owner := guard.OwnerFilter(middleware.PrincipalFromCtx(r.Context()))
	if err := h.checkClient(r.Context(), req.ClientID, owner); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}

	var out *models.Appointment
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Appointments.GetTx(r.Context(), tx, id, owner)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAppointment)
		}
		after := *before
		if err := req.apply(&after); err != nil {
			return audit.Entry{}, err
		}
		if err := h.Appointments.UpdateTx(r.Context(), tx, &after, owner); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAppointment)
		}
		out = &after
		return audit.Entry{Actor: actor(r), Action: audit.ActionUpdate, EntityType: models.EntityAppointment, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// --- DELETE /api/appointments/{id} ---

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "appointment")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	owner := guard.OwnerFilter(middleware.PrincipalFromCtx(r.Context()))
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Appointments.GetTx(r.Context(), tx, id, owner)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAppointment)
		}
		if err := h.Appointments.DeleteTx(r.Context(), tx, id, owner); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAppointment)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionDelete, EntityType: models.EntityAppointment, EntityID: id, Before: before}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
