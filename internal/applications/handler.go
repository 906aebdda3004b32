package applications

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/middleware"
)

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// POST /api/public/applications
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	if _, err := h.svc.Submit(r.Context(), in, middleware.ClientIP(r), r.UserAgent()); err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/admin/applications?status=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, list)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid application id")
	}
	return id, nil
}

// GET /api/admin/applications/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

// PATCH /api/admin/applications/{id}
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	a, err := h.svc.UpdateStatus(r.Context(), audit.ActorFor(middleware.PrincipalFromCtx(r.Context())), id, body.Status)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}

// POST /api/admin/applications/{id}/score
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	a, err := h.svc.Score(r.Context(), audit.ActorFor(middleware.PrincipalFromCtx(r.Context())), id)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, a)
}
