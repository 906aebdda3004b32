package google

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/klaroops/backend/internal/apperr"
)

type credential struct {
	flow  Flow
	email string
	token *oauth2.Token
}

// resolve prefers the system identity and falls back to the per-admin one.
func (s *Service) resolve(ctx context.Context) (*credential, error) {
	sys, err := s.store.GetSystemConfig(ctx)
	if err != nil {
		return nil, err
	}
	if sys != nil && sys.GoogleRefreshToken != "" {
		tok := &oauth2.Token{AccessToken: sys.GoogleAccessToken, RefreshToken: sys.GoogleRefreshToken, TokenType: sys.GoogleTokenType}
		if sys.GoogleTokenExpiry != nil {
			tok.Expiry = *sys.GoogleTokenExpiry
		}
		return &credential{flow: FlowSystem, email: sys.GoogleEmail, token: tok}, nil
	}

	gi, err := s.store.GetGoogleIntegration(ctx)
	if err != nil {
		return nil, err
	}
	if gi != nil && gi.RefreshToken != "" {
		tok := &oauth2.Token{AccessToken: gi.AccessToken, RefreshToken: gi.RefreshToken, TokenType: gi.TokenType}
		if gi.Expiry != nil {
			tok.Expiry = *gi.Expiry
		}
		return &credential{flow: FlowAdmin, email: gi.AdminEmail, token: tok}, nil
	}
	return nil, apperr.Conflict("Google is not connected; an admin must connect a Google account first")
}

// TokenSource returns a token source for sheet reads and the email of the
// connected identity.
func (s *Service) TokenSource(ctx context.Context) (oauth2.TokenSource, string, error) {
	cred, err := s.resolve(ctx)
	if err != nil {
		return nil, "", err
	}
	save := s.store.UpdateSystemAccessToken
	if cred.flow == FlowAdmin {
		save = s.store.UpdateIntegrationAccessToken
	}
	base := s.configs[cred.flow].TokenSource(ctx, cred.token)
	return newPersistingSource(ctx, base, cred.token, func(ctx context.Context, t *oauth2.Token) error {
		return save(ctx, t.AccessToken, t.RefreshToken, t.TokenType, expiryPtr(t))
	}, s.log), cred.email, nil
}

type saveFunc func(ctx context.Context, t *oauth2.Token) error

// persistingSource writes every newly minted token back to storage. A failed
// write is logged; the fresh token is still returned.
type persistingSource struct {
	ctx  context.Context
	base oauth2.TokenSource
	save saveFunc
	log  *slog.Logger

	mu   sync.Mutex
	last string
}

func newPersistingSource(ctx context.Context, base oauth2.TokenSource, current *oauth2.Token, save saveFunc, log *slog.Logger) *persistingSource {
	p := &persistingSource{ctx: ctx, base: base, save: save, log: log}
	if current != nil {
		p.last = current.AccessToken
	}
	return p
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	t, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.last {
		if err := p.save(p.ctx, t); err != nil {
			p.log.Warn("could not persist refreshed google token", "error", err)
		} else {
			p.last = t.AccessToken
		}
	}
	return t, nil
}
