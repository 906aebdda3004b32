package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

const minPasswordLength = 8

type UserCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error
}

type AmbassadorStore interface {
	List(ctx context.Context) ([]*models.Ambassador, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ambassador, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Ambassador, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Ambassador) error
	UpdateTx(ctx context.Context, tx pgx.Tx, a *models.Ambassador) error
}

// AmbassadorHandler serves /api/admin/ambassadors.
type AmbassadorHandler struct {
	Users       UserCreator
	Ambassadors AmbassadorStore
	Audit       audit.Mutator
	Logger      *slog.Logger
}

type createAmbassadorRequest struct {
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Password       string          `json:"password"`
	CommissionRule json.RawMessage `json:"commission_rule"`
}

type updateAmbassadorRequest struct {
	Name           *string         `json:"name"`
	Status         *string         `json:"status"`
	CommissionRule json.RawMessage `json:"commission_rule"`
}

func validCommissionRule(raw json.RawMessage) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}

// --- GET /api/admin/ambassadors ---

func (h *AmbassadorHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Ambassadors.List(r.Context())
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

// --- GET /api/admin/ambassadors/{id} ---

func (h *AmbassadorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ambassador")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	a, err := h.Ambassadors.GetByID(r.Context(), id)
	if err != nil {
		apperr.Write(w, r, h.Logger, storeErr(err, models.EntityAmbassador))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

// --- POST /api/admin/ambassadors ---

// Create adds the login and the ambassador profile in one transaction.
func (h *AmbassadorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAmbassadorRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.Name == "":
		apperr.Write(w, r, h.Logger, apperr.Invalid("name", "name is required"))
		return
	case !validEmail(req.Email):
		apperr.Write(w, r, h.Logger, apperr.Invalid("email", "a valid email is required"))
		return
	case len(req.Password) < minPasswordLength:
		apperr.Write(w, r, h.Logger, apperr.Invalid("password", "password must be at least 8 characters"))
		return
	case len(req.CommissionRule) > 0 && !validCommissionRule(req.CommissionRule):
		apperr.Write(w, r, h.Logger, apperr.Invalid("commission_rule", "commission_rule must be a JSON object"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}

	a := &models.Ambassador{Name: req.Name, Email: req.Email, Status: models.AmbassadorStatusActive, CommissionRule: req.CommissionRule}
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		u := &models.User{Email: req.Email, Name: req.Name, PasswordHash: string(hash), Role: models.RoleAmbassador}
		if err := h.Users.CreateTx(r.Context(), tx, u); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return audit.Entry{}, apperr.Conflict("an account with this email already exists")
			}
			return audit.Entry{}, err
		}
		a.UserID = u.ID
		if err := h.Ambassadors.CreateTx(r.Context(), tx, a); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAmbassador)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionCreate, EntityType: models.EntityAmbassador, EntityID: a.ID, After: a}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, a)
}

// --- PATCH /api/admin/ambassadors/{id} ---

func (h *AmbassadorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ambassador")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	var req updateAmbassadorRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if req.Name != nil && trimmed(req.Name) == "" {
		apperr.Write(w, r, h.Logger, apperr.Invalid("name", "name cannot be empty"))
		return
	}
	if req.Status != nil && *req.Status != models.AmbassadorStatusActive && *req.Status != models.AmbassadorStatusInactive {
		apperr.Write(w, r, h.Logger, apperr.Invalid("status", "status must be active or inactive"))
		return
	}
	if len(req.CommissionRule) > 0 && !validCommissionRule(req.CommissionRule) {
		apperr.Write(w, r, h.Logger, apperr.Invalid("commission_rule", "commission_rule must be a JSON object"))
		return
	}

	a, err := h.mutate(r, id, func(a *models.Ambassador) {
		if req.Name != nil {
			a.Name = trimmed(req.Name)
		}
		if req.Status != nil {
			a.Status = *req.Status
		}
		if len(req.CommissionRule) > 0 {
			a.CommissionRule = req.CommissionRule
		}
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

// --- DELETE /api/admin/ambassadors/{id} ---

// Deactivate marks the ambassador inactive. Logins are never deleted.
func (h *AmbassadorHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "ambassador")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	a, err := h.mutate(r, id, func(a *models.Ambassador) { a.Status = models.AmbassadorStatusInactive })
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

func (h *AmbassadorHandler) mutate(r *http.Request, id uuid.UUID, apply func(*models.Ambassador)) (*models.Ambassador, error) {
	var out *models.Ambassador
	err := h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Ambassadors.GetTx(r.Context(), tx, id)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAmbassador)
		}
		after := *before
		apply(&after)
		if err := h.Ambassadors.UpdateTx(r.Context(), tx, &after); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityAmbassador)
		}
		out = &after
		return audit.Entry{Actor: actor(r), Action: audit.ActionUpdate, EntityType: models.EntityAmbassador, EntityID: id, Before: before, After: out}, nil
	})
	return out, err
}
