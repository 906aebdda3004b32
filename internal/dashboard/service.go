// Package dashboard generates, activates and serves per-client dashboards.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/entitlement"
	"github.com/klaroops/backend/internal/ingest"
	"github.com/klaroops/backend/internal/llm"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
	"github.com/klaroops/backend/internal/templates"
)

type ProjectStore interface {
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*models.DashboardProject, error)
	GetByClientIDTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID) (*models.DashboardProject, error)
	UpsertConfigTx(ctx context.Context, tx pgx.Tx, p *models.DashboardProject) error
	MarkErrorTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, templateKey, status, lastError string) (*models.DashboardProject, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, status string) error
	SaveSnapshotTx(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, templateKey string, sourceConfig, snapshot json.RawMessage) (*models.DashboardProject, error)
}

type ClientStore interface {
	GetByID(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error)
}

type Service struct {
	catalog  *templates.Catalog
	projects ProjectStore
	clients  ClientStore
	llm      llm.Completer
	mutator  audit.Mutator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(catalog *templates.Catalog, projects ProjectStore, clients ClientStore, completer llm.Completer, mutator audit.Mutator, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		catalog:  catalog,
		projects: projects,
		clients:  clients,
		llm:      completer,
		mutator:  mutator,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Templates() []*templates.Template {
	return s.catalog.List()
}

type GenerateInput struct {
	ClientID     uuid.UUID       `json:"client_id"`
	TemplateKey  string          `json:"template_key"`
	Headers      []string        `json:"headers"`
	SampleRows   [][]string      `json:"sample_rows"`
	Columns      []ingest.Column `json:"inferred_types"`
	SourceConfig json.RawMessage `json:"source_config,omitempty"`
}

func (s *Service) template(key string) (*templates.Template, error) {
	tpl, ok := s.catalog.Get(key)
	if !ok {
		return nil, apperr.Invalid("template_key", fmt.Sprintf("unknown template %q", key))
	}
	return tpl, nil
}

func (s *Service) client(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, err := s.clients.GetByID(ctx, id, nil)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("client")
	}
	return c, err
}

// Generate asks the LLM for a configuration and stores it as a draft. Output
// that fails template validation is never stored as configuration; the
// project is flagged with the error instead. A project that already holds a
// valid config keeps its status and only records the error.
func (s *Service) Generate(ctx context.Context, actor string, in GenerateInput) (*models.DashboardProject, error) {
	tpl, err := s.template(in.TemplateKey)
	if err != nil {
		return nil, err
	}
	client, err := s.client(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if len(in.Headers) == 0 {
		return nil, apperr.Invalid("headers", "at least one column header is required")
	}

	temperature := 0.2
	resp, err := s.llm.Complete(ctx, llm.Request{
		Messages:    buildPrompt(tpl, client, in),
		JSON:        true,
		Temperature: &temperature,
	})
	if err != nil {
		s.recordFailure(ctx, actor, in.ClientID, tpl.Key, "LLM request failed: "+err.Error())
		return nil, apperr.Upstream("llm", 0, "dashboard generation failed, try again", err)
	}

	raw, ok := llm.ExtractJSON(resp.Content)
	if !ok {
		raw = resp.Content
	}
	cfg, err := tpl.ValidateConfig(in.Headers, []byte(raw))
	if err != nil {
		s.log.Warn("generated dashboard config rejected", "client_id", in.ClientID, "template", tpl.Key, "error", err)
		s.recordFailure(ctx, actor, in.ClientID, tpl.Key, err.Error())
		return nil, apperr.Upstream("llm", 0, "the generated configuration was invalid, try again", err)
	}

	source := cfg.SourceConfig
	if len(in.SourceConfig) > 0 {
		source = in.SourceConfig
	}
	p := &models.DashboardProject{
		ClientID:      in.ClientID,
		TemplateKey:   tpl.Key,
		SourceConfig:  source,
		ColumnMapping: cfg.ColumnMapping,
		KPIRules:      cfg.KPIRules,
		ChartConfig:   cfg.ChartConfig,
		Status:        models.DashboardConfiguring,
	}
	err = s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		before, action, err := s.existing(ctx, tx, in.ClientID)
		if err != nil {
			return audit.Entry{}, err
		}
		if err := s.projects.UpsertConfigTx(ctx, tx, p); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Actor: actor, Action: action, EntityType: models.EntityDashboard, EntityID: p.ID, Before: before, After: p}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("dashboard config generated", "client_id", in.ClientID, "template", tpl.Key, "tokens", resp.TotalTokens)
	return p, nil
}

func (s *Service) existing(ctx context.Context, tx pgx.Tx, clientID uuid.UUID) (*models.DashboardProject, string, error) {
	cur, err := s.projects.GetByClientIDTx(ctx, tx, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, audit.ActionCreate, nil
	}
	if err != nil {
		return nil, "", err
	}
	return cur, audit.ActionUpdate, nil
}

func (s *Service) recordFailure(ctx context.Context, actor string, clientID uuid.UUID, templateKey, reason string) {
	err := s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		before, action, err := s.existing(ctx, tx, clientID)
		if err != nil {
			return audit.Entry{}, err
		}
		status := models.DashboardError
		if configured(before) && (before.Status == models.DashboardConfiguring || before.Status == models.DashboardReady) {
			status = before.Status
		}
		p, err := s.projects.MarkErrorTx(ctx, tx, clientID, templateKey, status, reason)
		if err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Actor: actor, Action: action, EntityType: models.EntityDashboard, EntityID: p.ID, Before: before, After: p}, nil
	})
	if err != nil {
		s.log.Error("could not record dashboard generation failure", "client_id", clientID, "error", err)
	}
}

// Activate publishes a configured dashboard to the client.
func (s *Service) Activate(ctx context.Context, actor string, clientID uuid.UUID) (*models.DashboardProject, error) {
	var out *models.DashboardProject
	err := s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		cur, err := s.projects.GetByClientIDTx(ctx, tx, clientID)
		if errors.Is(err, repository.ErrNotFound) {
			return audit.Entry{}, apperr.NotFound("dashboard")
		}
		if err != nil {
			return audit.Entry{}, err
		}
		if cur.Status != models.DashboardConfiguring && cur.Status != models.DashboardReady {
			return audit.Entry{}, apperr.Conflict("dashboard must be configured before it can be activated (status is " + cur.Status + ")")
		}
		if err := s.projects.SetStatusTx(ctx, tx, clientID, models.DashboardReady); err != nil {
			return audit.Entry{}, err
		}
		after := *cur
		after.Status = models.DashboardReady
		out = &after
		return audit.Entry{Actor: actor, Action: audit.ActionUpdate, EntityType: models.EntityDashboard, EntityID: cur.ID, Before: cur, After: out}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type UploadInput struct {
	ClientID    uuid.UUID
	TemplateKey string
	// Mapping is template field key to CSV header. When empty the mapping of
	// the stored configuration is used.
	Mapping  map[string]string
	Filename string
	File     io.Reader
}

type UploadResult struct {
	Project      *models.DashboardProject `json:"project"`
	Rows         int                      `json:"rows"`
	Truncated    bool                     `json:"truncated"`
	OriginalRows int                      `json:"original_rows"`
}

// Upload parses a CSV export, normalizes it with the template and stores the
// records as the dashboard snapshot.
func (s *Service) Upload(ctx context.Context, actor string, in UploadInput) (*UploadResult, error) {
	tpl, err := s.template(in.TemplateKey)
	if err != nil {
		return nil, err
	}
	if _, err := s.client(ctx, in.ClientID); err != nil {
		return nil, err
	}

	table, err := ingest.ParseCSV(in.File, ingest.MaxRows)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyFile) || errors.Is(err, ingest.ErrNoDataRows) {
			return nil, apperr.Invalid("file", err.Error())
		}
		return nil, apperr.Invalid("file", "could not read CSV: "+err.Error())
	}

	mapping := in.Mapping
	if len(mapping) == 0 {
		if mapping, err = s.storedMapping(ctx, in.ClientID, tpl.Key); err != nil {
			return nil, err
		}
	}
	if err := ingest.CheckMapping(tpl, mapping, table.Headers, table.Rows[0]); err != nil {
		return nil, err
	}

	records := ingest.Normalize(tpl, mapping, table.Headers, table.Rows)
	snapshot, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	source, err := json.Marshal(map[string]any{
		"type":          "csv",
		"filename":      in.Filename,
		"original_rows": table.OriginalRows,
		"uploaded_at":   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	var project *models.DashboardProject
	err = s.mutator.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		before, action, err := s.existing(ctx, tx, in.ClientID)
		if err != nil {
			return audit.Entry{}, err
		}
		if configured(before) && before.TemplateKey != tpl.Key {
			return audit.Entry{}, apperr.Conflict(fmt.Sprintf("dashboard is configured for template %q", before.TemplateKey))
		}
		project, err = s.projects.SaveSnapshotTx(ctx, tx, in.ClientID, tpl.Key, source, snapshot)
		if err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Actor: actor, Action: action, EntityType: models.EntityDashboard, EntityID: project.ID, Before: withoutSnapshot(before), After: withoutSnapshot(project)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &UploadResult{Project: project, Rows: len(records), Truncated: table.Truncated, OriginalRows: table.OriginalRows}, nil
}

// withoutSnapshot keeps large record payloads out of the audit log.
func withoutSnapshot(p *models.DashboardProject) *models.DashboardProject {
	if p == nil {
		return nil
	}
	c := *p
	c.DataSnapshot = nil
	return &c
}

func (s *Service) storedMapping(ctx context.Context, clientID uuid.UUID, templateKey string) (map[string]string, error) {
	p, err := s.projects.GetByClientID(ctx, clientID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	m := columnMapping(p)
	if len(m) == 0 || p.TemplateKey != templateKey {
		return nil, apperr.Invalid("mapping", "a column mapping is required")
	}
	return m, nil
}

func columnMapping(p *models.DashboardProject) map[string]string {
	if p == nil || len(p.ColumnMapping) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(p.ColumnMapping, &m); err != nil {
		return nil
	}
	return m
}

// configured reports whether p holds a stored column mapping.
func configured(p *models.DashboardProject) bool {
	return len(columnMapping(p)) > 0
}

func (s *Service) Get(ctx context.Context, clientID uuid.UUID) (*models.DashboardProject, error) {
	p, err := s.projects.GetByClientID(ctx, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("dashboard")
	}
	return p, err
}

type View struct {
	TemplateKey string          `json:"template_key"`
	Days        int             `json:"days"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	KPIs        []KPIValue      `json:"kpis"`
	KPIRules    json.RawMessage `json:"kpi_rules"`
	ChartConfig json.RawMessage `json:"chart_config"`
	Records     []ingest.Record `json:"records"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ClientView returns the ready dashboard of c restricted to the last days.
func (s *Service) ClientView(ctx context.Context, c *models.Client, days int) (*View, error) {
	limits := entitlement.PlanLimits(c.Plan)
	if days <= 0 {
		days = limits.HistoryDays
	}
	if !entitlement.CanAccessHistory(c, days) {
		return nil, apperr.Forbidden(fmt.Sprintf("your plan includes %d days of history; upgrade to see more", limits.HistoryDays))
	}

	p, err := s.projects.GetByClientID(ctx, c.ID)
	if errors.Is(err, repository.ErrNotFound) || err == nil && p.Status != models.DashboardReady {
		return nil, apperr.NotFound("dashboard")
	}
	if err != nil {
		return nil, err
	}

	var records []ingest.Record
	if len(p.DataSnapshot) > 0 {
		if err := json.Unmarshal(p.DataSnapshot, &records); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}

	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)
	if tpl, ok := s.catalog.Get(p.TemplateKey); ok {
		records = FilterWindow(records, dateField(tpl), from, to)
	}
	if records == nil {
		records = []ingest.Record{}
	}

	var rules []KPIRule
	if len(p.KPIRules) > 0 {
		if err := json.Unmarshal(p.KPIRules, &rules); err != nil {
			s.log.Warn("stored kpi rules unreadable", "client_id", c.ID, "error", err)
		}
	}
	return &View{
		TemplateKey: p.TemplateKey,
		Days:        days,
		From:        from,
		To:          to,
		KPIs:        ComputeKPIs(rules, records),
		KPIRules:    p.KPIRules,
		ChartConfig: p.ChartConfig,
		Records:     records,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// dateField returns the first date field of tpl.
func dateField(tpl *templates.Template) string {
	for _, f := range tpl.Fields {
		if f.Type == templates.TypeDate {
			return f.Key
		}
	}
	return ""
}

// FilterWindow keeps records whose date field lies in [from, to]. Records
// without a parseable date are dropped. An empty field keeps everything.
func FilterWindow(records []ingest.Record, field string, from, to time.Time) []ingest.Record {
	if field == "" {
		return records
	}
	out := make([]ingest.Record, 0, len(records))
	for _, r := range records {
		t, ok := ingest.RecordTime(r, field)
		if !ok || t.Before(from) || t.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func buildPrompt(tpl *templates.Template, c *models.Client, in GenerateInput) []llm.Message {
	var fields strings.Builder
	for _, f := range tpl.Fields {
		req := ""
		if f.Required {
			req = ", required"
		}
		fmt.Fprintf(&fields, "- %s (%s%s): %s\n", f.Key, f.Type, req, f.Label)
	}
	sample, _ := json.Marshal(in.SampleRows)
	cols, _ := json.Marshal(in.Columns)
	headers, _ := json.Marshal(in.Headers)

	system := "You configure analytics dashboards. Answer with a single JSON object with the keys " +
		"source_config (object), column_mapping (object of template field key to sheet header), " +
		"kpi_rules (array of {key, label, field, aggregation, format}) and chart_config " +
		"(array of {type, title, x_field, y_field, aggregation}). " +
		"Aggregations: " + strings.Join(templates.Aggregations, ", ") + ". " +
		"Formats: " + strings.Join(templates.KPIFormats, ", ") + ". " +
		"Chart types: " + strings.Join(templates.ChartTypes, ", ") + ". " +
		"Only use the sheet headers given. Every required template field must be mapped."

	user := fmt.Sprintf("Client: %s\nTemplate: %s (%s)\n%s\nTemplate fields:\n%s\nSheet headers: %s\nInferred column types: %s\nSample rows: %s",
		c.Name, tpl.Name, tpl.Key, tpl.Description, fields.String(), headers, cols, sample)

	return []llm.Message{
		{Role: models.MessageRoleSystem, Content: system},
		{Role: models.MessageRoleUser, Content: user},
	}
}
