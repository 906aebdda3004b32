package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AdminLoginRequest struct {
	Password string `json:"password"`
}

type SignupResponse struct {
	Session
	Client *models.Client `json:"client"`
}

type Handler struct {
	svc    *Service
	cookie CookieConfig
	log    *slog.Logger
}

func NewHandler(svc *Service, cookie CookieConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, cookie: cookie, log: log}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	h.cookie.Set(w, sess)
	apperr.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	sess, err := h.svc.AdminLogin(r.Context(), req.Password)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	h.log.Info("admin login", "email", sess.User.Email)
	h.cookie.Set(w, sess)
	apperr.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("", "invalid JSON"))
		return
	}
	sess, client, err := h.svc.Signup(r.Context(), req)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	h.cookie.Set(w, sess)
	apperr.WriteJSON(w, http.StatusCreated, SignupResponse{Session: *sess, Client: client})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)
	apperr.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
