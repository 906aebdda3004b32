package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Dashboard status enums.
const (
	DashboardNotStarted  = "not_started"
	DashboardConfiguring = "configuring"
	DashboardReady       = "ready"
	DashboardError       = "error"
)

// DashboardProject is the single per-client dashboard configuration row.
type DashboardProject struct {
	ID            uuid.UUID       `json:"id"`
	ClientID      uuid.UUID       `json:"client_id"`
	TemplateKey   string          `json:"template_key"`
	SourceConfig  json.RawMessage `json:"source_config"`
	ColumnMapping json.RawMessage `json:"column_mapping"`
	KPIRules      json.RawMessage `json:"kpi_rules"`
	ChartConfig   json.RawMessage `json:"chart_config"`
	DataSnapshot  json.RawMessage `json:"data_snapshot,omitempty"`
	Status        string          `json:"dashboard_status"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
