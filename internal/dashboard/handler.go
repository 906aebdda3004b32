package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/google"
	"github.com/klaroops/backend/internal/middleware"
)

// maxUploadBytes bounds a CSV upload request.
const maxUploadBytes = 10 << 20

// Scanner reads a sheet preview.
type Scanner interface {
	Scan(ctx context.Context, req google.ScanRequest, opts ...option.ClientOption) (*google.ScanResult, error)
}

type Handler struct {
	svc     *Service
	scanner Scanner
	log     *slog.Logger
}

func NewHandler(svc *Service, scanner Scanner, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, scanner: scanner, log: log}
}

func pathClientID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid client id")
	}
	return id, nil
}

func (h *Handler) actor(r *http.Request) string {
	return audit.ActorFor(middleware.PrincipalFromCtx(r.Context()))
}

// GET /api/admin/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, h.svc.Templates())
}

// POST /api/admin/sheets/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req google.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	res, err := h.scanner.Scan(r.Context(), req)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

// POST /api/admin/dashboards/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var in GenerateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	if in.ClientID == uuid.Nil {
		apperr.Write(w, r, h.log, apperr.Invalid("client_id", "client_id is required"))
		return
	}
	p, err := h.svc.Generate(r.Context(), h.actor(r), in)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, p)
}

// GET /api/admin/clients/{id}/dashboard
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathClientID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, p)
}

// POST /api/admin/clients/{id}/dashboard/activate
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := pathClientID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	p, err := h.svc.Activate(r.Context(), h.actor(r), id)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, p)
}

// POST /api/admin/clients/{id}/dashboard/upload (multipart: file, template_key, mapping)
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := pathClientID(r)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("file", "expected a multipart upload under 10 MB"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("file", "a CSV file is required"))
		return
	}
	defer file.Close()

	var mapping map[string]string
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			apperr.Write(w, r, h.log, apperr.Invalid("mapping", "mapping must be a JSON object of field to column"))
			return
		}
	}

	res, err := h.svc.Upload(r.Context(), h.actor(r), UploadInput{
		ClientID:    id,
		TemplateKey: r.FormValue("template_key"),
		Mapping:     mapping,
		Filename:    header.Filename,
		File:        file,
	})
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

// GET /api/dashboard?days=N
func (h *Handler) ClientView(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil || p.ClientID == nil {
		apperr.Write(w, r, h.log, apperr.NotFound("client"))
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apperr.Write(w, r, h.log, apperr.Invalid("days", "days must be a positive integer"))
			return
		}
		days = n
	}
	client, err := h.svc.client(r.Context(), *p.ClientID)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	view, err := h.svc.ClientView(r.Context(), client, days)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, view)
}
