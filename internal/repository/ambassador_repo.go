package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

type AmbassadorRepo struct {
	pool *pgxpool.Pool
}

func NewAmbassadorRepo(pool *pgxpool.Pool) *AmbassadorRepo {
	return &AmbassadorRepo{pool: pool}
}

const ambassadorSelect = `
	SELECT a.id, a.user_id, a.name, u.email, a.status, a.commission_rule, a.created_at, a.updated_at
	FROM ambassadors a JOIN users u ON u.id = a.user_id`

func scanAmbassador(row pgx.Row) (*models.Ambassador, error) {
	var a models.Ambassador
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Email, &a.Status, &a.CommissionRule, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AmbassadorRepo) List(ctx context.Context) ([]*models.Ambassador, error) {
	rows, err := r.pool.Query(ctx, ambassadorSelect+` ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Ambassador{}
	for rows.Next() {
		a, err := scanAmbassador(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *AmbassadorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Ambassador, error) {
	return r.get(ctx, r.pool, id)
}

// GetTx reads the row inside tx, locking it for the rest of the transaction.
func (r *AmbassadorRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Ambassador, error) {
	return scanAmbassador(tx.QueryRow(ctx, ambassadorSelect+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *AmbassadorRepo) get(ctx context.Context, q querier, id uuid.UUID) (*models.Ambassador, error) {
	return scanAmbassador(q.QueryRow(ctx, ambassadorSelect+` WHERE a.id = $1`, id))
}

func (r *AmbassadorRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Ambassador, error) {
	return scanAmbassador(r.pool.QueryRow(ctx, ambassadorSelect+` WHERE a.user_id = $1`, userID))
}

func (r *AmbassadorRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Ambassador) error {
	if len(a.CommissionRule) == 0 {
		a.CommissionRule = []byte(`{}`)
	}
	if a.Status == "" {
		a.Status = models.AmbassadorStatusActive
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO ambassadors (user_id, name, status, commission_rule)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, a.UserID, a.Name, a.Status, a.CommissionRule).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *AmbassadorRepo) UpdateTx(ctx context.Context, tx pgx.Tx, a *models.Ambassador) error {
	err := tx.QueryRow(ctx, `
		UPDATE ambassadors SET name = $2, status = $3, commission_rule = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.Name, a.Status, a.CommissionRule).Scan(&a.UpdatedAt)
	return mapErr(err)
}
