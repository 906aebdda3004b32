package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

type CommissionRepo struct {
	pool *pgxpool.Pool
}

func NewCommissionRepo(pool *pgxpool.Pool) *CommissionRepo {
	return &CommissionRepo{pool: pool}
}

const commissionColumns = `id, ambassador_id, client_id, amount_cents, status, period_start, period_end, note, created_at, updated_at`

func scanCommission(row pgx.Row) (*models.Commission, error) {
	var c models.Commission
	if err := row.Scan(&c.ID, &c.AmbassadorID, &c.ClientID, &c.AmountCents, &c.Status,
		&c.PeriodStart, &c.PeriodEnd, &c.Note, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// List returns commissions newest first, restricted to owner when non-nil.
func (r *CommissionRepo) List(ctx context.Context, owner *uuid.UUID) ([]*models.Commission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+commissionColumns+` FROM commissions
		WHERE ($1::uuid IS NULL OR ambassador_id = $1)
		ORDER BY period_start DESC, created_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *CommissionRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Commission, error) {
	return scanCommission(tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1 FOR UPDATE`, id))
}

func (r *CommissionRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO commissions (ambassador_id, client_id, amount_cents, status, period_start, period_end, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, c.AmbassadorID, c.ClientID, c.AmountCents, c.Status, c.PeriodStart, c.PeriodEnd, c.Note).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r *CommissionRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Commission) error {
	err := tx.QueryRow(ctx, `
		UPDATE commissions SET ambassador_id = $2, client_id = $3, amount_cents = $4, status = $5,
			period_start = $6, period_end = $7, note = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, c.ID, c.AmbassadorID, c.ClientID, c.AmountCents, c.Status, c.PeriodStart, c.PeriodEnd, c.Note).Scan(&c.UpdatedAt)
	return mapErr(err)
}

func (r *CommissionRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return requireAffected(tx.Exec(ctx, `DELETE FROM commissions WHERE id = $1`, id))
}
