package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

// ClientRepo scopes every read and write by an optional ambassador id. A nil
// owner means no restriction (admin).
type ClientRepo struct {
	pool *pgxpool.Pool
}

func NewClientRepo(pool *pgxpool.Pool) *ClientRepo {
	return &ClientRepo{pool: pool}
}

const clientColumns = `id, user_id, name, email, status, ambassador_id, plan, trial_ends_at, onboarding_status, created_at, updated_at`

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Status, &c.AmbassadorID, &c.Plan,
		&c.TrialEndsAt, &c.OnboardingStatus, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *ClientRepo) List(ctx context.Context, owner *uuid.UUID) ([]*models.Client, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE ($1::uuid IS NULL OR ambassador_id = $1)
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *ClientRepo) GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error) {
	return r.get(ctx, r.pool, id, owner, "")
}

func (r *ClientRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Client, error) {
	return r.get(ctx, tx, id, owner, " FOR UPDATE")
}

func (r *ClientRepo) get(ctx context.Context, q querier, id uuid.UUID, owner *uuid.UUID, suffix string) (*models.Client, error) {
	return scanClient(q.QueryRow(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2)`+suffix, id, owner))
}

func (r *ClientRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Client, error) {
	return scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE user_id = $1`, userID))
}

func (r *ClientRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Client) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO clients (user_id, name, email, status, ambassador_id, plan, trial_ends_at, onboarding_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, c.UserID, c.Name, c.Email, c.Status, c.AmbassadorID, c.Plan, c.TrialEndsAt, c.OnboardingStatus).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

// UpdateTx writes the editable fields. Assignment is a separate operation.
func (r *ClientRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Client, owner *uuid.UUID) error {
	err := tx.QueryRow(ctx, `
		UPDATE clients SET name = $3, email = $4, status = $5, plan = $6, trial_ends_at = $7,
			onboarding_status = $8, updated_at = now()
		WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2)
		RETURNING updated_at
	`, c.ID, owner, c.Name, c.Email, c.Status, c.Plan, c.TrialEndsAt, c.OnboardingStatus).Scan(&c.UpdatedAt)
	return mapErr(err)
}

func (r *ClientRepo) AssignTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ambassadorID *uuid.UUID) error {
	return requireAffected(tx.Exec(ctx,
		`UPDATE clients SET ambassador_id = $2, updated_at = now() WHERE id = $1`, id, ambassadorID))
}

func (r *ClientRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return requireAffected(tx.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id))
}
