// Package guard decides what an authenticated principal may do and which rows
// it may see. Handlers call Require before touching a service and use the
// ownership helpers to scope repository queries.
package guard

import (
	"strings"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/models"
)

// Principal is the identity resolved for a request.
type Principal struct {
	UserID       uuid.UUID
	Name         string
	Email        string
	Role         string
	AmbassadorID *uuid.UUID
	ClientID     *uuid.UUID
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == models.RoleAdmin }

type Capability string

const (
	AmbassadorsManage  Capability = "ambassadors.manage"
	ClientsManage      Capability = "clients.manage"
	ClientsOwn         Capability = "clients.own"
	ClientSelf         Capability = "client.self"
	CommissionsManage  Capability = "commissions.manage"
	CommissionsRead    Capability = "commissions.read"
	AppointmentsOwn    Capability = "appointments.own"
	IntegrationsManage Capability = "integrations.manage"
	DashboardConfigure Capability = "dashboard.configure"
	DashboardView      Capability = "dashboard.view"
	ApplicationsReview Capability = "applications.review"
	AuditRead          Capability = "audit.read"
	Chat               Capability = "chat"
	ProfileRead        Capability = "profile.read"
)

var roleCapabilities = map[string]map[Capability]bool{
	models.RoleAmbassador: {
		ClientsOwn:      true,
		AppointmentsOwn: true,
		CommissionsRead: true,
		ProfileRead:     true,
	},
	models.RoleClientUser: {
		ClientSelf:    true,
		DashboardView: true,
		Chat:          true,
		ProfileRead:   true,
	},
}

// Can reports whether the role grants the capability. Admin holds all of them.
func Can(role string, c Capability) bool {
	if role == models.RoleAdmin {
		return true
	}
	return roleCapabilities[role][c]
}

// Require fails with 401 for a missing principal and 403 for a missing capability.
func Require(p *Principal, c Capability) error {
	if p == nil {
		return apperr.Unauthenticated()
	}
	if !Can(p.Role, c) {
		return apperr.Forbidden("you do not have access to this resource")
	}
	return nil
}

// OwnerFilter returns the ambassador id queries must be restricted to, or nil
// when the principal may see every row.
func OwnerFilter(p *Principal) *uuid.UUID {
	if p == nil || p.IsAdmin() {
		return nil
	}
	if p.AmbassadorID != nil {
		return p.AmbassadorID
	}
	// Non-admins without an ambassador row match nothing.
	none := uuid.Nil
	return &none
}

// CheckAmbassadorOwner hides rows owned by other ambassadors behind a 404.
func CheckAmbassadorOwner(p *Principal, entity string, rowAmbassadorID *uuid.UUID) error {
	if p.IsAdmin() {
		return nil
	}
	if p == nil || p.AmbassadorID == nil || rowAmbassadorID == nil || *p.AmbassadorID != *rowAmbassadorID {
		return apperr.NotFound(entity)
	}
	return nil
}

// CheckClient allows admins any client and client users only their own.
func CheckClient(p *Principal, clientID uuid.UUID) error {
	if p.IsAdmin() {
		return nil
	}
	if p == nil || p.ClientID == nil || *p.ClientID != clientID {
		return apperr.NotFound("client")
	}
	return nil
}

var publicRoutes = map[string]bool{
	"POST /api/auth/login":           true,
	"POST /api/auth/admin-login":     true,
	"POST /api/auth/signup":          true,
	"POST /api/auth/logout":          true,
	"POST /api/public/applications":  true,
	"GET /api/oauth/google/callback": true,
	"GET /healthz":                   true,
	"GET /metrics":                   true,
}

// IsPublic reports whether a request may proceed without a session.
func IsPublic(method, path string) bool {
	if method == "HEAD" {
		method = "GET"
	}
	if method == "GET" && strings.HasPrefix(path, "/static/") {
		return true
	}
	return publicRoutes[method+" "+strings.TrimSuffix(path, "/")]
}
