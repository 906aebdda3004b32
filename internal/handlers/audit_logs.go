package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

type AuditLister interface {
	List(ctx context.Context, f repository.AuditFilter) ([]*models.AuditLog, error)
}

type AuditLogHandler struct {
	Logs   AuditLister
	Logger *slog.Logger
}

// --- GET /api/admin/audit-logs?entity_type=&entity_id=&limit= ---

func (h *AuditLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.AuditFilter{EntityType: q.Get("entity_type")}
	if raw := q.Get("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apperr.Write(w, r, h.Logger, apperr.Invalid("entity_id", "invalid entity id"))
			return
		}
		f.EntityID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperr.Write(w, r, h.Logger, apperr.Invalid("limit", "limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	logs, err := h.Logs.List(r.Context(), f)
	if err != nil {
		apperr.Write(w, r, h.Logger, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, logs)
}
