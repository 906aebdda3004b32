package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/entitlement"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/models"
)

// MeHandler describes the signed-in principal.
type MeHandler struct {
	Clients ClientGetter
	Logger  *slog.Logger
	Now     func() time.Time
}

type meResponse struct {
	UserID       uuid.UUID            `json:"user_id"`
	Name         string               `json:"name"`
	Email        string               `json:"email"`
	Role         string               `json:"role"`
	AmbassadorID *uuid.UUID           `json:"ambassador_id,omitempty"`
	ClientID     *uuid.UUID           `json:"client_id,omitempty"`
	Entitlement  *entitlement.Summary `json:"entitlement,omitempty"`
}

type clientSelfResponse struct {
	*models.Client
	Entitlement entitlement.Summary `json:"entitlement"`
}

func (h *MeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- GET /api/me ---

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		apperr.Write(w, r, h.Logger, apperr.Unauthenticated())
		return
	}
	resp := meResponse{UserID: p.UserID, Name: p.Name, Email: p.Email, Role: p.Role, AmbassadorID: p.AmbassadorID, ClientID: p.ClientID}
	if p.ClientID != nil {
		c, err := h.Clients.GetByID(r.Context(), *p.ClientID, nil)
		if err != nil {
			apperr.Write(w, r, h.Logger, storeErr(err, models.EntityClient))
			return
		}
		s := entitlement.Summarize(c, h.now())
		resp.Entitlement = &s
	}
	apperr.WriteJSON(w, http.StatusOK, resp)
}

// --- GET /api/me/client ---

func (h *MeHandler) Client(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil || p.ClientID == nil {
		apperr.Write(w, r, h.Logger, apperr.NotFound(models.EntityClient))
		return
	}
	c, err := h.Clients.GetByID(r.Context(), *p.ClientID, nil)
	if err != nil {
		apperr.Write(w, r, h.Logger, storeErr(err, models.EntityClient))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, clientSelfResponse{Client: c, Entitlement: entitlement.Summarize(c, h.now())})
}
