package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

// DashboardRepo keeps exactly one project row per client; writes upsert on
// client_id and the last writer wins.
type DashboardRepo struct {
	pool *pgxpool.Pool
}

func NewDashboardRepo(pool *pgxpool.Pool) *DashboardRepo {
	return &DashboardRepo{pool: pool}
}

const dashboardColumns = `id, client_id, template_key, source_config, column_mapping, kpi_rules, chart_config, data_snapshot, dashboard_status, last_error, created_at, updated_at`

func scanDashboard(row pgx.Row) (*models.DashboardProject, error) {
	var p models.DashboardProject
	if err := row.Scan(&p.ID, &p.ClientID, &p.TemplateKey, &p.SourceConfig, &p.ColumnMapping, &p.KPIRules,
		&p.ChartConfig, &p.DataSnapshot, &p.Status, &p.LastError, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r *DashboardRepo) GetByClientID(ctx context.Context, clientID uuid.UUID) (*models.DashboardProject, error) {
	return scanDashboard(r.pool.QueryRow(ctx, `SELECT `+dashboardColumns+` FROM dashboard_projects WHERE client_id = $1`, clientID))
}

func (r *DashboardRepo) GetByClientIDTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID) (*models.DashboardProject, error) {
	return scanDashboard(tx.QueryRow(ctx, `SELECT `+dashboardColumns+` FROM dashboard_projects WHERE client_id = $1 FOR UPDATE`, clientID))
}

// UpsertConfigTx stores a generated configuration, replacing any earlier one.
// The data snapshot is left untouched.
func (r *DashboardRepo) UpsertConfigTx(ctx context.Context, tx pgx.Tx, p *models.DashboardProject) error {
	return scanInto(p, tx.QueryRow(ctx, `
		INSERT INTO dashboard_projects (client_id, template_key, source_config, column_mapping, kpi_rules, chart_config, dashboard_status, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '')
		ON CONFLICT (client_id) DO UPDATE SET
			template_key = EXCLUDED.template_key,
			source_config = EXCLUDED.source_config,
			column_mapping = EXCLUDED.column_mapping,
			kpi_rules = EXCLUDED.kpi_rules,
			chart_config = EXCLUDED.chart_config,
			dashboard_status = EXCLUDED.dashboard_status,
			last_error = '',
			updated_at = now()
		RETURNING `+dashboardColumns,
		p.ClientID, p.TemplateKey, orEmptyObject(p.SourceConfig), orEmptyObject(p.ColumnMapping),
		orEmptyArray(p.KPIRules), orEmptyArray(p.ChartConfig), p.Status))
}

// MarkErrorTx records a failed generation with the given status without
// touching the stored config.
func (r *DashboardRepo) MarkErrorTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, templateKey, status, lastError string) (*models.DashboardProject, error) {
	var p models.DashboardProject
	err := scanInto(&p, tx.QueryRow(ctx, `
		INSERT INTO dashboard_projects (client_id, template_key, dashboard_status, last_error)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id) DO UPDATE SET
			dashboard_status = EXCLUDED.dashboard_status,
			last_error = EXCLUDED.last_error,
			updated_at = now()
		RETURNING `+dashboardColumns, clientID, templateKey, status, lastError))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *DashboardRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, status string) error {
	return requireAffected(tx.Exec(ctx,
		`UPDATE dashboard_projects SET dashboard_status = $2, updated_at = now() WHERE client_id = $1`, clientID, status))
}

// SaveSnapshotTx stores normalized records, creating the project row if needed.
// The caller rejects uploads for a template other than the configured one.
func (r *DashboardRepo) SaveSnapshotTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, templateKey string, sourceConfig, snapshot json.RawMessage) (*models.DashboardProject, error) {
	var p models.DashboardProject
	err := scanInto(&p, tx.QueryRow(ctx, `
		INSERT INTO dashboard_projects (client_id, template_key, source_config, data_snapshot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id) DO UPDATE SET
			template_key = EXCLUDED.template_key,
			source_config = EXCLUDED.source_config,
			data_snapshot = EXCLUDED.data_snapshot,
			updated_at = now()
		RETURNING `+dashboardColumns, clientID, templateKey, orEmptyObject(sourceConfig), orEmptyArray(snapshot)))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanInto(p *models.DashboardProject, row pgx.Row) error {
	got, err := scanDashboard(row)
	if err != nil {
		return err
	}
	*p = *got
	return nil
}

func orEmptyObject(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return b
}

func orEmptyArray(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`[]`)
	}
	return b
}
