package google

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klaroops/backend/internal/apperr"
)

const (
	stateCookieName = "klaro_oauth_state"
	stateTTL        = 10 * time.Minute
)

// ConnectedRedirect is where the browser lands after a successful connect.
const ConnectedRedirect = "/admin/integrations?google=connected"

type Handler struct {
	svc          *Service
	secureCookie bool
	log          *slog.Logger
}

func NewHandler(svc *Service, secureCookie bool, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, secureCookie: secureCookie, log: log}
}

// Connect redirects to Google consent for ?flow=system|admin.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	flow, ok := ParseFlow(r.URL.Query().Get("flow"))
	if !ok {
		apperr.Write(w, r, h.log, apperr.Invalid("flow", "flow must be system or admin"))
		return
	}
	state, err := randomState()
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	target, err := h.svc.AuthURL(flow, state)
	if err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    string(flow) + ":" + state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// SystemCallback completes the shared system connection.
func (h *Handler) SystemCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, FlowSystem)
}

// AdminCallback completes the per-admin connection.
func (h *Handler) AdminCallback(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, FlowAdmin)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, flow Flow) {
	q := r.URL.Query()
	cookie, err := r.Cookie(stateCookieName)
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.secureCookie})
	if err != nil {
		apperr.Write(w, r, h.log, apperr.Invalid("state", "missing OAuth state; start the connection again"))
		return
	}
	gotFlow, state, _ := strings.Cut(cookie.Value, ":")
	if state == "" || state != q.Get("state") || Flow(gotFlow) != flow {
		apperr.Write(w, r, h.log, apperr.Invalid("state", "OAuth state mismatch"))
		return
	}
	if e := q.Get("error"); e != "" {
		apperr.Write(w, r, h.log, apperr.Invalid("code", "Google returned an error: "+e))
		return
	}
	if _, err := h.svc.Exchange(r.Context(), flow, q.Get("code")); err != nil {
		apperr.Write(w, r, h.log, err)
		return
	}
	http.Redirect(w, r, ConnectedRedirect, http.StatusFound)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
