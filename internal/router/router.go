// Package router assembles the HTTP route table.
package router

import (
	"log/slog"
	"net/http"

	"github.com/klaroops/backend/internal/applications"
	"github.com/klaroops/backend/internal/assistant"
	"github.com/klaroops/backend/internal/auth"
	"github.com/klaroops/backend/internal/dashboard"
	"github.com/klaroops/backend/internal/google"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/handlers"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/ratelimit"
)

// Handlers are the endpoint groups served by the API.
type Handlers struct {
	Auth         *auth.Handler
	Me           *handlers.MeHandler
	Ambassadors  *handlers.AmbassadorHandler
	Clients      *handlers.ClientHandler
	Commissions  *handlers.CommissionHandler
	Appointments *handlers.AppointmentHandler
	AuditLogs    *handlers.AuditLogHandler
	Applications *applications.Handler
	Dashboard    *dashboard.Handler
	Assistant    *assistant.Handler
	Google       *google.Handler
}

// Options carries the cross-cutting pieces each route is wrapped with.
type Options struct {
	// Session resolves the principal; see middleware.SessionAuth.
	Session   func(http.Handler) http.Handler
	Limiter   *ratelimit.Limiter
	Metrics   http.Handler
	StaticDir string
	Logger    *slog.Logger
}

type routes struct {
	mux  *http.ServeMux
	opts Options
}

// protected requires a session holding capability c.
func (rt *routes) protected(pattern string, c guard.Capability, h http.HandlerFunc, extra ...func(http.Handler) http.Handler) {
	var next http.Handler = h
	for i := len(extra) - 1; i >= 0; i-- {
		next = extra[i](next)
	}
	next = middleware.RequireCapability(c, rt.opts.Logger)(next)
	rt.mux.Handle(pattern, rt.opts.Session(next))
}

func (rt *routes) public(pattern string, h http.Handler) {
	rt.mux.Handle(pattern, h)
}

// New returns the ServeMux serving the API. Callers wrap it with metrics,
// logging and CORS.
func New(h Handlers, opts Options) *http.ServeMux {
	rt := &routes{mux: http.NewServeMux(), opts: opts}

	rt.public("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	if opts.Metrics != nil {
		rt.public("GET /metrics", opts.Metrics)
	}
	if opts.StaticDir != "" {
		rt.public("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	// auth
	rt.public("POST /api/auth/login", http.HandlerFunc(h.Auth.Login))
	rt.public("POST /api/auth/admin-login", http.HandlerFunc(h.Auth.AdminLogin))
	rt.public("POST /api/auth/signup", http.HandlerFunc(h.Auth.Signup))
	rt.public("POST /api/auth/logout", http.HandlerFunc(h.Auth.Logout))
	rt.protected("GET /api/me", guard.ProfileRead, h.Me.Me)
	rt.protected("GET /api/me/client", guard.ClientSelf, h.Me.Client)

	// ambassadors
	rt.protected("GET /api/admin/ambassadors", guard.AmbassadorsManage, h.Ambassadors.List)
	rt.protected("POST /api/admin/ambassadors", guard.AmbassadorsManage, h.Ambassadors.Create)
	rt.protected("GET /api/admin/ambassadors/{id}", guard.AmbassadorsManage, h.Ambassadors.Get)
	rt.protected("PATCH /api/admin/ambassadors/{id}", guard.AmbassadorsManage, h.Ambassadors.Update)
	rt.protected("DELETE /api/admin/ambassadors/{id}", guard.AmbassadorsManage, h.Ambassadors.Deactivate)

	// clients
	rt.protected("GET /api/clients", guard.ClientsOwn, h.Clients.List)
	rt.protected("POST /api/clients", guard.ClientsOwn, h.Clients.Create)
	rt.protected("GET /api/clients/{id}", guard.ClientsOwn, h.Clients.Get)
	rt.protected("PATCH /api/clients/{id}", guard.ClientsOwn, h.Clients.Update)
	rt.protected("POST /api/admin/clients/{id}/assign", guard.ClientsManage, h.Clients.Assign)
	rt.protected("DELETE /api/admin/clients/{id}", guard.ClientsManage, h.Clients.Delete)

	rt.protected("GET /api/commissions", guard.CommissionsRead, h.Commissions.List)
	rt.protected("POST /api/admin/commissions", guard.CommissionsManage, h.Commissions.Create)
	rt.protected("PATCH /api/admin/commissions/{id}", guard.CommissionsManage, h.Commissions.Update)
	rt.protected("DELETE /api/admin/commissions/{id}", guard.CommissionsManage, h.Commissions.Delete)

	rt.protected("GET /api/appointments", guard.AppointmentsOwn, h.Appointments.List)
	rt.protected("POST /api/appointments", guard.AppointmentsOwn, h.Appointments.Create)
	rt.protected("GET /api/appointments/{id}", guard.AppointmentsOwn, h.Appointments.Get)
	rt.protected("PATCH /api/appointments/{id}", guard.AppointmentsOwn, h.Appointments.Update)
	rt.protected("DELETE /api/appointments/{id}", guard.AppointmentsOwn, h.Appointments.Delete)

	rt.protected("GET /api/admin/audit-logs", guard.AuditRead, h.AuditLogs.List)

	// applications
	rt.public("POST /api/public/applications",
		middleware.RateLimit(opts.Limiter, ratelimit.Applications, middleware.ByClientIP)(http.HandlerFunc(h.Applications.Submit)))
	rt.protected("GET /api/admin/applications", guard.ApplicationsReview, h.Applications.List)
	rt.protected("GET /api/admin/applications/{id}", guard.ApplicationsReview, h.Applications.Get)
	rt.protected("PATCH /api/admin/applications/{id}", guard.ApplicationsReview, h.Applications.UpdateStatus)
	rt.protected("POST /api/admin/applications/{id}/score", guard.ApplicationsReview, h.Applications.Score)

	// google
	rt.protected("GET /api/admin/google/connect", guard.IntegrationsManage, h.Google.Connect)
	rt.public("GET /api/oauth/google/callback", http.HandlerFunc(h.Google.SystemCallback))
	rt.protected("GET /api/admin/google/callback", guard.IntegrationsManage, h.Google.AdminCallback)
	rt.protected("GET /api/admin/google/status", guard.IntegrationsManage, h.Google.Status)

	// dashboards
	rt.protected("GET /api/admin/templates", guard.DashboardConfigure, h.Dashboard.ListTemplates)
	rt.protected("POST /api/admin/sheets/scan", guard.DashboardConfigure, h.Dashboard.Scan)
	rt.protected("POST /api/admin/dashboards/generate", guard.DashboardConfigure, h.Dashboard.Generate)
	rt.protected("GET /api/admin/clients/{id}/dashboard", guard.DashboardConfigure, h.Dashboard.Get)
	rt.protected("POST /api/admin/clients/{id}/dashboard/activate", guard.DashboardConfigure, h.Dashboard.Activate)
	rt.protected("POST /api/admin/clients/{id}/dashboard/upload", guard.DashboardConfigure, h.Dashboard.Upload)
	rt.protected("GET /api/dashboard", guard.DashboardView, h.Dashboard.ClientView)

	// assistant
	rt.protected("POST /api/chat", guard.Chat, h.Assistant.Chat,
		middleware.RateLimit(opts.Limiter, ratelimit.ChatMessages, middleware.ByPrincipal))
	rt.protected("GET /api/chat/threads", guard.Chat, h.Assistant.ListThreads)
	rt.protected("GET /api/chat/threads/{id}/messages", guard.Chat, h.Assistant.ListMessages)

	return rt.mux
}
