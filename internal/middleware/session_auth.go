package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/auth"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// TokenValidator verifies a session token.
type TokenValidator interface {
	ValidateToken(raw string) (*auth.Claims, error)
}

// AmbassadorLookup resolves the ambassador row of an ambassador user.
type AmbassadorLookup interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Ambassador, error)
}

// ClientLookup resolves the client row of a client user.
type ClientLookup interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Client, error)
}

// SessionAuth resolves the principal from the session cookie or bearer
// token. Requests on the public allow-list pass through without one; every
// other request without a valid session gets 401.
func SessionAuth(tokens TokenValidator, ambassadors AmbassadorLookup, clients ClientLookup, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard.IsPublic(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := auth.TokenFromRequest(r)
			if raw == "" {
				apperr.Write(w, r, log, apperr.Unauthenticated())
				return
			}
			claims, err := tokens.ValidateToken(raw)
			if err != nil {
				apperr.Write(w, r, log, err)
				return
			}

			p, err := resolvePrincipal(r.Context(), claims, ambassadors, clients)
			if err != nil {
				apperr.Write(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func resolvePrincipal(ctx context.Context, c *auth.Claims, ambassadors AmbassadorLookup, clients ClientLookup) (*guard.Principal, error) {
	p := &guard.Principal{Name: c.Name, Email: c.Email, Role: c.Role}
	if id, err := uuid.Parse(c.Subject); err == nil {
		p.UserID = id
	} else if c.Role != models.RoleAdmin {
		return nil, apperr.Unauthenticated()
	}

	switch c.Role {
	case models.RoleAmbassador:
		a, err := ambassadors.GetByUserID(ctx, p.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("no ambassador profile for this account")
		}
		if err != nil {
			return nil, err
		}
		if a.Status != models.AmbassadorStatusActive {
			return nil, apperr.Forbidden("ambassador account is inactive")
		}
		p.AmbassadorID = &a.ID
	case models.RoleClientUser:
		cl, err := clients.GetByUserID(ctx, p.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("no client linked to this account")
		}
		if err != nil {
			return nil, err
		}
		p.ClientID = &cl.ID
	}
	return p, nil
}

// RequireCapability rejects requests whose principal lacks c.
func RequireCapability(c guard.Capability, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := guard.Require(PrincipalFromCtx(r.Context()), c); err != nil {
				apperr.Write(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromCtx returns the authenticated principal or nil.
func PrincipalFromCtx(ctx context.Context) *guard.Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*guard.Principal)
	return p
}

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p *guard.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}
