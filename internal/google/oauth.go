// Package google connects the shared Google identity and reads spreadsheets
// with it.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/config"
	"github.com/klaroops/backend/internal/models"
)

// Flow selects which singleton row an OAuth connection is written to.
type Flow string

const (
	FlowSystem Flow = "system"
	FlowAdmin  Flow = "admin"
)

func ParseFlow(s string) (Flow, bool) {
	switch Flow(s) {
	case "", FlowSystem:
		return FlowSystem, true
	case FlowAdmin:
		return FlowAdmin, true
	}
	return "", false
}

var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
}

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Store persists the two token rows.
type Store interface {
	GetSystemConfig(ctx context.Context) (*models.SystemConfig, error)
	SaveSystemConfig(ctx context.Context, c *models.SystemConfig) error
	UpdateSystemAccessToken(ctx context.Context, access, refresh, tokenType string, expiry *time.Time) error
	GetGoogleIntegration(ctx context.Context) (*models.GoogleIntegration, error)
	SaveGoogleIntegration(ctx context.Context, g *models.GoogleIntegration) error
	UpdateIntegrationAccessToken(ctx context.Context, access, refresh, tokenType string, expiry *time.Time) error
}

type Service struct {
	store       Store
	configs     map[Flow]*oauth2.Config
	userInfoURL string
	log         *slog.Logger
	observe     func(err error)
}

func NewService(cfg config.GoogleConfig, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	base := func(redirect string) *oauth2.Config {
		return &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       Scopes,
			Endpoint:     googleoauth.Endpoint,
		}
	}
	return &Service{
		store: store,
		configs: map[Flow]*oauth2.Config{
			FlowSystem: base(cfg.RedirectURL),
			FlowAdmin:  base(cfg.AdminRedirectURL),
		},
		userInfoURL: defaultUserInfoURL,
		log:         log,
	}
}

// SetObserver registers a callback run after each Sheets read with its error.
func (s *Service) SetObserver(fn func(err error)) { s.observe = fn }

func (s *Service) configured() bool {
	return s.configs[FlowSystem].ClientID != "" && s.configs[FlowSystem].ClientSecret != ""
}

// AuthURL returns the consent URL. Offline access and a forced prompt make
// Google issue a refresh token on every connect.
func (s *Service) AuthURL(flow Flow, state string) (string, error) {
	if !s.configured() {
		return "", apperr.Conflict("Google OAuth is not configured")
	}
	return s.configs[flow].AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades the authorization code for tokens and overwrites the row for flow.
func (s *Service) Exchange(ctx context.Context, flow Flow, code string) (string, error) {
	if code == "" {
		return "", apperr.Invalid("code", "missing authorization code")
	}
	cfg := s.configs[flow]
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", apperr.Upstream("google", http.StatusBadGateway, "could not exchange authorization code", err)
	}
	if tok.RefreshToken == "" {
		return "", apperr.Invalid("code", "Google did not return a refresh token; remove the app's access in your Google account and connect again")
	}

	email, err := s.fetchEmail(ctx, cfg.Client(ctx, tok))
	if err != nil {
		s.log.Warn("could not read google account email", "flow", flow, "error", err)
	}

	expiry := expiryPtr(tok)
	switch flow {
	case FlowAdmin:
		err = s.store.SaveGoogleIntegration(ctx, &models.GoogleIntegration{
			AdminEmail:   email,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
			Expiry:       expiry,
		})
	default:
		err = s.store.SaveSystemConfig(ctx, &models.SystemConfig{
			GoogleAccessToken:  tok.AccessToken,
			GoogleRefreshToken: tok.RefreshToken,
			GoogleTokenType:    tok.TokenType,
			GoogleTokenExpiry:  expiry,
			GoogleEmail:        email,
		})
	}
	if err != nil {
		return "", fmt.Errorf("save google tokens: %w", err)
	}
	s.log.Info("google account connected", "flow", flow, "email", email)
	return email, nil
}

func (s *Service) fetchEmail(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}
	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.Email, nil
}

// Status describes the active connection without exposing any token.
type Status struct {
	Connected       bool       `json:"connected"`
	Source          string     `json:"source,omitempty"`
	HasAccessToken  bool       `json:"has_access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at"`
	ConnectedEmail  string     `json:"connected_email,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func (s *Service) Status(ctx context.Context) Status {
	cred, err := s.resolve(ctx)
	if err != nil {
		st := Status{}
		if e, ok := apperr.As(err); !ok || e.Kind != apperr.KindConflict {
			st.Error = err.Error()
		}
		return st
	}
	return Status{
		Connected:       cred.token.RefreshToken != "",
		Source:          string(cred.flow),
		HasAccessToken:  cred.token.AccessToken != "",
		HasRefreshToken: cred.token.RefreshToken != "",
		ExpiresAt:       expiryPtr(cred.token),
		ConnectedEmail:  cred.email,
	}
}

func expiryPtr(tok *oauth2.Token) *time.Time {
	if tok.Expiry.IsZero() {
		return nil
	}
	e := tok.Expiry.UTC()
	return &e
}
