package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

const applicationColumns = `id, full_name, email, phone, city_state, message, ip, user_agent, status, score, score_reason, created_at, updated_at`

func scanApplication(row pgx.Row) (*models.AmbassadorApplication, error) {
	var a models.AmbassadorApplication
	if err := row.Scan(&a.ID, &a.FullName, &a.Email, &a.Phone, &a.CityState, &a.Message, &a.IP,
		&a.UserAgent, &a.Status, &a.Score, &a.ScoreReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// List returns applications newest first. An empty status lists all.
func (r *ApplicationRepo) List(ctx context.Context, status string) ([]*models.AmbassadorApplication, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+applicationColumns+` FROM ambassador_applications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AmbassadorApplication{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AmbassadorApplication, error) {
	return scanApplication(r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM ambassador_applications WHERE id = $1`, id))
}

func (r *ApplicationRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AmbassadorApplication, error) {
	return scanApplication(tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM ambassador_applications WHERE id = $1 FOR UPDATE`, id))
}

func (r *ApplicationRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.AmbassadorApplication) error {
	if a.Status == "" {
		a.Status = models.ApplicationNew
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO ambassador_applications (full_name, email, phone, city_state, message, ip, user_agent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, a.FullName, a.Email, a.Phone, a.CityState, a.Message, a.IP, a.UserAgent, a.Status).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *ApplicationRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	return requireAffected(tx.Exec(ctx,
		`UPDATE ambassador_applications SET status = $2, updated_at = now() WHERE id = $1`, id, status))
}

func (r *ApplicationRepo) SetScoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, score int, reason string) error {
	return requireAffected(tx.Exec(ctx,
		`UPDATE ambassador_applications SET score = $2, score_reason = $3, updated_at = now() WHERE id = $1`,
		id, score, reason))
}
