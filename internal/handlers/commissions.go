package handlers

import (
	"context"
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
)

type CommissionStore interface {
	List(ctx context.Context, owner *uuid.UUID) ([]*models.Commission, error)
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Commission, error)
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error
	UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// CommissionHandler lets admins manage commissions. Ambassadors may only list
// their own.
type CommissionHandler struct {
	Commissions CommissionStore
	Ambassadors AmbassadorGetter
	Audit       audit.Mutator
	Logger      *slog.Logger
}

type commissionRequest struct {
	AmbassadorID *uuid.UUID `json:"ambassador_id"`
	ClientID     *uuid.UUID `json:"client_id"`
	AmountCents  *int64     `json:"amount_cents"`
	Status       *string    `json:"status"`
	PeriodStart  *time.Time `json:"period_start"`
	PeriodEnd    *time.Time `json:"period_end"`
	Note         *string    `json:"note"`
}

func (req commissionRequest) apply(c *models.Commission) error {
	if req.AmbassadorID != nil {
		c.AmbassadorID = *req.AmbassadorID
	}
	if req.ClientID != nil {
		c.ClientID = req.ClientID
	}
	if req.AmountCents != nil {
		c.AmountCents = *req.AmountCents
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
	if req.PeriodStart != nil {
		c.PeriodStart = req.PeriodStart.UTC()
	}
	if req.PeriodEnd != nil {
		c.PeriodEnd = req.PeriodEnd.UTC()
	}
	if req.Note != nil {
		c.Note = strings.TrimSpace(*req.Note)
	}
	switch {
	case c.AmbassadorID == uuid.Nil:
		return apperr.Invalid("ambassador_id", "ambassador_id is required")
	case c.AmountCents < 0:
		return apperr.Invalid("amount_cents", "amount_cents cannot be negative")
	case !models.ValidCommissionStatus(c.Status):
		return apperr.Invalid("status", "status must be pending, paid or reversed")
	case c.PeriodStart.IsZero() || c.PeriodEnd.IsZero():
		return apperr.Invalid("period_start", "period_start and period_end are required")
	case c.PeriodEnd.Before(c.PeriodStart):
		return apperr.Invalid("period_end", "period_end must not be before period_start")
	}
	return nil
}

// --- GET /api/commissions ---

func (h *CommissionHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	list, err := h.Commissions.List(r.Context(), guard.OwnerFilter(p))
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

// --- POST /api/admin/commissions ---

func (h *CommissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	c := &models.Commission{Status: models.CommissionPending}
	if err := req.apply(c); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if err := checkAmbassador(r.Context(), h.Ambassadors, &c.AmbassadorID); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	err := h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		if err := h.Commissions.CreateTx(r.Context(), tx, c); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityCommission)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionCreate, EntityType: models.EntityCommission, EntityID: c.ID, After: c}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, c)
}

// --- PATCH /api/admin/commissions/{id} ---

func (h *CommissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "commission")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	var req commissionRequest
	if err := decode(r, &req); err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	if req.AmbassadorID != nil {
		if err := checkAmbassador(r.Context(), h.Ambassadors, req.AmbassadorID); err != nil {
			apperr.Write(w, r, h.Logger, err)
			return
		}
	}

	var out *models.Commission
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Commissions.GetTx(r.Context(), tx, id)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityCommission)
		}
		after := *before
		if err := req.apply(&after); err != nil {
			return audit.Entry{}, err
		}
		if err := h.Commissions.UpdateTx(r.Context(), tx, &after); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityCommission)
		}
		out = &after
		return audit.Entry{Actor: actor(r), Action: audit.ActionUpdate, EntityType: models.EntityCommission, EntityID: id, Before: before, After: out}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

// --- DELETE /api/admin/commissions/{id} ---

func (h *CommissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "commission")
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	err = h.Audit.Mutate(r.Context(), func(tx pgx.Tx) (audit.Entry, error) {
		before, err := h.Commissions.GetTx(r.Context(), tx, id)
		if err != nil {
			return audit.Entry{}, storeErr(err, models.EntityCommission)
		}
		if err := h.Commissions.DeleteTx(r.Context(), tx, id); err != nil {
			return audit.Entry{}, storeErr(err, models.EntityCommission)
		}
		return audit.Entry{Actor: actor(r), Action: audit.ActionDelete, EntityType: models.EntityCommission, EntityID: id, Before: before}, nil
	})
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
