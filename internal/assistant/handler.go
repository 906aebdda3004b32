package assistant

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/models"
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

// POST /api/chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var in ChatInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	res, err := h.svc.Chat(r.Context(), middleware.PrincipalFromCtx(r.Context()), in)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) clientFromQuery(r *http.Request) (uuid.UUID, error) {
	var requested *uuid.UUID
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, apperr.Invalid("client_id", "invalid client id")
		}
		requested = &id
	}
	c, err := h.svc.ResolveClient(r.Context(), middleware.PrincipalFromCtx(r.Context()), requested)
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

// GET /api/chat/threads
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	clientID, err := h.clientFromQuery(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	threads, err := h.svc.Threads(r.Context(), clientID)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	if threads == nil {
		threads = []*models.AIThread{}
	}
	apperr.WriteJSON(w, http.StatusOK, threads)
}

// GET /api/chat/threads/{id}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("id", "invalid thread id"))
		return
	}
	clientID, err := h.clientFromQuery(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	msgs, err := h.svc.Messages(r.Context(), clientID, threadID)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	if msgs == nil {
		msgs = []*models.AIMessage{}
	}
	apperr.WriteJSON(w, http.StatusOK, msgs)
}
