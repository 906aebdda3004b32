package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

// AuditRepo only inserts and lists; audit rows are never changed.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) InsertTx(ctx context.Context, tx pgx.Tx, l *models.AuditLog) error {
	return tx.QueryRow(ctx, `
		INSERT INTO audit_logs (actor, action, entity_type, entity_id, before, after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, l.Actor, l.Action, l.EntityType, l.EntityID, l.Before, l.After).Scan(&l.ID, &l.CreatedAt)
}

type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	Limit      int
}

func (r *AuditRepo) List(ctx context.Context, f AuditFilter) ([]*models.AuditLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, action, entity_type, entity_id, before, after, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1) AND ($2::uuid IS NULL OR entity_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, f.EntityType, f.EntityID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &l.EntityType, &l.EntityID, &l.Before, &l.After, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
