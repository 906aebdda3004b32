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

type ClientStore interface {
	List(ctx context.Context, owner *uuid.UUID) ([]*models.Client, error)
	GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Client, error)
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Client) error
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Client, owner *uuid.UUID) error
	AssignTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ambassadorID *uuid.UUID) error
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// AmbassadorGetter checks that an ambassador id refers to a real row.
type AmbassadorGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ambassador, error)
}

// ClientHandler serves /api/clients for admins and ambassadors. Ambassadors
// only ever see the clients assigned to them.
type ClientHandler struct {
	Clients     ClientStore
	Ambassadors AmbassadorGetter
	Audit       audit.Mutator
	TrialDays   int
	Logger      *slog.Logger
	Now         func() time.Time
}

type clientRequest struct {
	Name             *string    `json:"name"`
	Email            *string    `json:"email"`
	Status           *string    `json:"status"`
	Plan             *string    `json:"plan"`
	TrialEndsAt      *time.Time `json:"trial_ends_at"`
	OnboardingStatus *string    `json:"onboarding_status"`
	AmbassadorID     *uuid.UUID `json:"ambassador_id"`
}

type assignRequest struct {
	AmbassadorID *uuid.UUID `json:"ambassador_id"`
}

func (h *ClientHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// apply copies the present fields onto c and validates the result.
func (req clientRequest) apply(c *models.Client) error {
	if req.Name != nil {
		c.Name = trimmed(req.Name)
	}
	if req.Email != nil {
		c.Email = strings.ToLower(trimmed(req.Email))
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
	if req.Plan != nil {
		c.Plan = *req.Plan
	}
	if req.TrialEndsAt != nil {
		t := req.TrialEndsAt.UTC()
		c.TrialEndsAt = &t
	}
	if req.OnboardingStatus != nil {
		c.OnboardingStatus = *req.OnboardingStatus
	}
	switch {
	case c.Name == "":
		return apperr.Invalid("name", "name is required")
	case !validEmail(c.Email):
		return apperr.Invalid("email", "a valid email is required")
	case !models.ValidClientStatus(c.Status):
		return apperr.Invalid("status", "status must be active, paused or cancelled")
	case !models.ValidPlan(c.Plan):
		return apperr.Invalid("plan", "unknown plan")
	case !models.ValidOnboardingStatus(c.OnboardingStatus):
		return apperr.Invalid("onboarding_status", "unknown onboarding status")
	}
	return nil
}

func checkAmbassador(ctx context.Context, ambassadors AmbassadorGetter, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := ambassadors.GetByID(ctx, *id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Invalid("ambassador_id", "unknown ambassador")
		}
		return err
	}
	return nil
}

// --- GET /api/clients ---

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	list, err := h.Clients.List(r.Context(), guard.OwnerFilter(p))
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

// --- GET /api/clients/{id} ---

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "client")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	c, err := h.Clients.GetByID(r.Context(), id, guard.OwnerFilter(p))
	if err != nil {
		apperr.Write(w, r, h.Logger, storeErr(err, models.EntityClient))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, c)
}

// --- POST /api/clients ---

// Create assigns the caller when an ambassador creates the client. New trial
// clients get TrialDays from now unless an end date is given.
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	p := middleware.PrincipalFromCtx(r.Context())
	c := &models.Client{
		Status:           models.ClientStatusActive,
		Plan:             models.PlanTrial,
		OnboardingStatus: models.OnboardingNew,
	}
	if err := req.apply(c); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if p.IsAdmin() {
		if err := checkAmbassador(r.Context(), h.Ambassadors, req.AmbassadorID); err != nil {
			apperr.Write(w, r, h.Logger, err)
			return
		}
		c.AmbassadorID = req.AmbassadorID
	} else {
		c.AmbassadorID = guard.OwnerFilter(p)
	}
	if c.Plan == models.PlanTrial && c.TrialEndsAt == nil {
		ends := h.now().UTC().AddDate(0, 0, h.TrialDays)
		c.TrialEndsAt = &ends
	}

	err := h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		if err := h.Clients.CreateTx(r.Context(), tx, c); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionCreate, EntityType: models.EntityClient, EntityID: c.ID, After: c}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, c)
}

// --- PATCH /api/clients/{id} ---

// Update never changes the assignment; that goes through Assign.
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "client")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	var req clientRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	owner := guard.OwnerFilter(middleware.PrincipalFromCtx(r.Context()))

	var out *models.Client
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Clients.GetTx(r.Context(), tx, id, owner)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		after := *before
		if err := req.apply(&after); err != nil {
			return audit.Entry{}, err
		}
		if err := h.Clients.UpdateTx(r.Context(), tx, &after, owner); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		out = &after
		return audit.Entry{Actor: actor(r), Action: audit.ActionUpdate, EntityType: models.EntityClient, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// --- POST /api/admin/clients/{id}/assign ---

func (h *ClientHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "client")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if err := checkAmbassador(r.Context(), h.Ambassadors, req.AmbassadorID); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}

	var out *models.Client
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Clients.GetTx(r.Context(), tx, id, nil)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		if err := h.Clients.AssignTx(r.Context(), tx, id, req.AmbassadorID); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		after := *before
		after.AmbassadorID = req.AmbassadorID
		out = &after
		return audit.Entry{Actor: actor(r), Action: audit.ActionUpdate, EntityType: models.EntityClient, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// --- DELETE /api/admin/clients/{id} ---

func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "client")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Clients.GetTx(r.Context(), tx, id, nil)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		if err := h.Clients.DeleteTx(r.Context(), tx, id); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityClient)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionDelete, EntityType: models.EntityClient, EntityID: id, Before: before}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
