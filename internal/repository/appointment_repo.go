package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

type AppointmentRepo struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) *AppointmentRepo {
	return &AppointmentRepo{pool: pool}
}

const appointmentColumns = `id, ambassador_id, client_id, title, starts_at, ends_at, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var a models.Appointment
	if err := row.Scan(&a.ID, &a.AmbassadorID, &a.ClientID, &a.Title, &a.StartsAt, &a.EndsAt,
		&a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AppointmentRepo) List(ctx context.Context, owner *uuid.UUID) ([]*models.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE ($1::uuid IS NULL OR ambassador_id = $1)
		ORDER BY starts_at
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2)`, id, owner))
}

func (r *AppointmentRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2) FOR UPDATE`, id, owner))
}

func (r *AppointmentRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Appointment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (ambassador_id, client_id, title, starts_at, ends_at, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, a.AmbassadorID, a.ClientID, a.Title, a.StartsAt, a.EndsAt, a.Status, a.Notes).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (r *AppointmentRepo) UpdateTx(ctx context.Context, tx pgx.Tx, a *models.Appointment, owner *uuid.UUID) error {
	err := tx.QueryRow(ctx, `
		UPDATE appointments SET client_id = $3, title = $4, starts_at = $5, ends_at = $6, status = $7,
			notes = $8, updated_at = now()
		WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2)
		RETURNING updated_at
	`, a.ID, owner, a.ClientID, a.Title, a.StartsAt, a.EndsAt, a.Status, a.Notes).Scan(&a.UpdatedAt)
	return mapErr(err)
}

func (r *AppointmentRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, owner *uuid.UUID) error {
	return requireAffected(tx.Exec(ctx,
		`DELETE FROM appointments WHERE id = $1 AND ($2::uuid IS NULL OR ambassador_id = $2)`, id, owner))
}
