package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

// IntegrationRepo reads and overwrites the two singleton Google token rows.
type IntegrationRepo struct {
	pool *pgxpool.Pool
}

func NewIntegrationRepo(pool *pgxpool.Pool) *IntegrationRepo {
	return &IntegrationRepo{pool: pool}
}

// GetSystemConfig returns nil without error when the row does not exist.
func (r *IntegrationRepo) GetSystemConfig(ctx context.Context) (*models.SystemConfig, error) {
	var c models.SystemConfig
	err := r.pool.QueryRow(ctx, `
		SELECT google_access_token, google_refresh_token, google_token_type, google_token_expiry, google_email, updated_at
		FROM system_config WHERE id = 1
	`).Scan(&c.GoogleAccessToken, &c.GoogleRefreshToken, &c.GoogleTokenType, &c.GoogleTokenExpiry, &c.GoogleEmail, &c.UpdatedAt)
	if err != nil {
		if err = mapErr(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *IntegrationRepo) SaveSystemConfig(ctx context.Context, c *models.SystemConfig) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_config (id, google_access_token, google_refresh_token, google_token_type, google_token_expiry, google_email, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			google_access_token = EXCLUDED.google_access_token,
			google_refresh_token = EXCLUDED.google_refresh_token,
			google_token_type = EXCLUDED.google_token_type,
			google_token_expiry = EXCLUDED.google_token_expiry,
			google_email = EXCLUDED.google_email,
			updated_at = now()
	`, c.GoogleAccessToken, c.GoogleRefreshToken, c.GoogleTokenType, c.GoogleTokenExpiry, c.GoogleEmail)
	return err
}

// UpdateSystemAccessToken persists a refreshed access token, keeping the
// refresh token unless a new one was issued.
func (r *IntegrationRepo) UpdateSystemAccessToken(ctx context.Context, access, refresh, tokenType string, expiry *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE system_config SET google_access_token = $1,
			google_refresh_token = COALESCE(NULLIF($2, ''), google_refresh_token),
			google_token_type = $3, google_token_expiry = $4, updated_at = now()
		WHERE id = 1
	`, access, refresh, tokenType, expiry)
	return err
}

// GetGoogleIntegration returns nil without error when the row does not exist.
func (r *IntegrationRepo) GetGoogleIntegration(ctx context.Context) (*models.GoogleIntegration, error) {
	var g models.GoogleIntegration
	err := r.pool.QueryRow(ctx, `
		SELECT admin_email, access_token, refresh_token, token_type, expiry, updated_at
		FROM google_integrations WHERE id = 1
	`).Scan(&g.AdminEmail, &g.AccessToken, &g.RefreshToken, &g.TokenType, &g.Expiry, &g.UpdatedAt)
	if err != nil {
		if err = mapErr(err); errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (r *IntegrationRepo) SaveGoogleIntegration(ctx context.Context, g *models.GoogleIntegration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO google_integrations (id, admin_email, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			admin_email = EXCLUDED.admin_email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = now()
	`, g.AdminEmail, g.AccessToken, g.RefreshToken, g.TokenType, g.Expiry)
	return err
}

func (r *IntegrationRepo) UpdateIntegrationAccessToken(ctx context.Context, access, refresh, tokenType string, expiry *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE google_integrations SET access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_type = $3, expiry = $4, updated_at = now()
		WHERE id = 1
	`, access, refresh, tokenType, expiry)
	return err
}
