package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/ingest"
	"github.com/klaroops/backend/internal/llm"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
	"github.com/klaroops/backend/internal/templates"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubProjects struct {
	rows map[uuid.UUID]*models.DashboardProject
}

func (s *stubProjects) get(clientID uuid.UUID) (*models.DashboardProject, error) {
	p, ok := s.rows[clientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *stubProjects) GetByClientID(_ context.Context, clientID uuid.UUID) (*models.DashboardProject, error) {
	return s.get(clientID)
}

func (s *stubProjects) GetByClientIDTx(_ context.Context, _ pgx.Tx, clientID uuid.UUID) (*models.DashboardProject, error) {
	return s.get(clientID)
}

func (s *stubProjects) row(clientID uuid.UUID, templateKey string) *models.DashboardProject {
	p, ok := s.rows[clientID]
	if !ok {
		p = &models.DashboardProject{ID: uuid.New(), ClientID: clientID, TemplateKey: templateKey, Status: models.DashboardNotStarted}
		s.rows[clientID] = p
	}
	return p
}

func (s *stubProjects) UpsertConfigTx(_ context.Context, _ pgx.Tx, p *models.DashboardProject) error {
	cur := s.row(p.ClientID, p.TemplateKey)
	cur.TemplateKey, cur.SourceConfig, cur.ColumnMapping = p.TemplateKey, p.SourceConfig, p.ColumnMapping
	cur.KPIRules, cur.ChartConfig, cur.Status, cur.LastError = p.KPIRules, p.ChartConfig, p.Status, ""
	*p = *cur
	return nil
}

func (s *stubProjects) MarkErrorTx(_ context.Context, _ pgx.Tx, clientID uuid.UUID, templateKey, status, lastError string) (*models.DashboardProject, error) {
	cur := s.row(clientID, templateKey)
	cur.Status, cur.LastError = status, lastError
	c := *cur
	return &c, nil
}

func (s *stubProjects) SetStatusTx(_ context.Context, _ pgx.Tx, clientID uuid.UUID, status string) error {
	cur, ok := s.rows[clientID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = status
	return nil
}

func (s *stubProjects) SaveSnapshotTx(_ context.Context, _ pgx.Tx, clientID uuid.UUID, templateKey string, source, snapshot json.RawMessage) (*models.DashboardProject, error) {
	cur := s.row(clientID, templateKey)
	cur.TemplateKey, cur.SourceConfig, cur.DataSnapshot = templateKey, source, snapshot
	c := *cur
	return &c, nil
}

type stubClients struct{ byID map[uuid.UUID]*models.Client }

func (s *stubClients) GetByID(_ context.Context, id uuid.UUID, _ *uuid.UUID) (*models.Client, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type stubLLM struct {
	replies []string
	err     error
	calls   int
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if !req.JSON {
		return nil, errors.New("dashboard generation must use JSON mode")
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return &llm.Response{Content: reply}, nil
}

type stubMutator struct{ entries []audit.Entry }

func (m *stubMutator) Mutate(_ context.Context, fn audit.MutateFunc) error {
	e, err := fn(nil)
	if err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

const validConfig = `{
	"source_config": {"sheet": "abc"},
	"column_mapping": {"date": "Date", "deal_name": "Deal", "stage": "Stage", "deal_value": "Value"},
	"kpi_rules": [{"key": "pipeline", "label": "Pipeline", "field": "deal_value", "aggregation": "sum", "format": "currency"}],
	"chart_config": [{"type": "bar", "title": "By stage", "x_field": "stage", "y_field": "deal_value", "aggregation": "sum"}]
}`

var headers = []string{"Date", "Deal", "Stage", "Value"}

type fixture struct {
	svc      *Service
	projects *stubProjects
	llm      *stubLLM
	mutator  *stubMutator
	client   *models.Client
	now      time.Time
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	catalog, err := templates.Load()
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	trialEnds := now.Add(7 * 24 * time.Hour)
	client := &models.Client{ID: uuid.New(), Name: "Acme", Plan: models.PlanTrial, TrialEndsAt: &trialEnds}

	f := &fixture{
		projects: &stubProjects{rows: map[uuid.UUID]*models.DashboardProject{}},
		llm:      &stubLLM{replies: replies},
		mutator:  &stubMutator{},
		client:   client,
		now:      now,
	}
	f.svc = NewService(catalog, f.projects, &stubClients{byID: map[uuid.UUID]*models.Client{client.ID: client}}, f.llm, f.mutator, nil)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) generate() (*models.DashboardProject, error) {
	return f.svc.Generate(context.Background(), "ops@klaro.test", GenerateInput{
		ClientID:    f.client.ID,
		TemplateKey: "sales_pipeline",
		Headers:     headers,
		SampleRows:  [][]string{{"2026-05-01", "Acme", "won", "1200"}},
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGenerate_TwiceOverwritesSingleRow(t *testing.T) {
	f := newFixture(t, validConfig)

	first, err := f.generate()
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := f.generate()
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}

	if len(f.projects.rows) != 1 {
		t.Fatalf("expected one project row, got %d", len(f.projects.rows))
	}
	if first.ID != second.ID || second.Status != models.DashboardConfiguring {
		t.Errorf("unexpected second project %+v", second)
	}
	if len(f.mutator.entries) != 2 || f.mutator.entries[0].Action != audit.ActionCreate || f.mutator.entries[1].Action != audit.ActionUpdate {
		t.Errorf("unexpected audit entries %+v", f.mutator.entries)
	}
	if f.mutator.entries[0].Actor != "ops@klaro.test" || f.mutator.entries[0].EntityType != models.EntityDashboard {
		t.Errorf("unexpected audit entry %+v", f.mutator.entries[0])
	}
}

func TestGenerate_MalformedOutputIsNotStored(t *testing.T) {
	f := newFixture(t, validConfig, `{"column_mapping": {"date": "NoSuchColumn"}}`)
	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}

	_, err := f.generate()
	e, ok := apperr.As(err)
	if !ok || e.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
	if !errors.Is(err, templates.ErrValidation) {
		t.Errorf("expected wrapped validation error, got %v", err)
	}

	row := f.projects.rows[f.client.ID]
	if row.Status != models.DashboardConfiguring || row.LastError == "" {
		t.Errorf("expected configuring status with reason, got %+v", row)
	}
	if !strings.Contains(string(row.KPIRules), "pipeline") {
		t.Errorf("previous config must survive a bad generation, got %s", row.KPIRules)
	}
}

func TestGenerate_LLMFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.err = &llm.APIError{StatusCode: 500, Body: "overloaded"}

	_, err := f.generate()
	if e, ok := apperr.As(err); !ok || e.Provider != "llm" || e.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("expected llm 502, got %v", err)
	}
	if row := f.projects.rows[f.client.ID]; row == nil || row.Status != models.DashboardError || len(row.KPIRules) != 0 {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestGenerate_RejectsUnknownTemplateAndClient(t *testing.T) {
	f := newFixture(t, validConfig)

	_, err := f.svc.Generate(context.Background(), "a", GenerateInput{ClientID: f.client.ID, TemplateKey: "nope", Headers: headers})
	if !apperr.Is(err, apperr.KindValidationFailed) {
		t.Errorf("unknown template: %v", err)
	}
	_, err = f.svc.Generate(context.Background(), "a", GenerateInput{ClientID: uuid.New(), TemplateKey: "sales_pipeline", Headers: headers})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown client: %v", err)
	}
	if f.llm.calls != 0 {
		t.Errorf("LLM must not be called, got %d calls", f.llm.calls)
	}
}

func TestActivate(t *testing.T) {
	f := newFixture(t, validConfig, `not json`)

	if _, err := f.svc.Activate(context.Background(), "a", f.client.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing project: %v", err)
	}

	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}
	p, err := f.svc.Activate(context.Background(), "a", f.client.ID)
	if err != nil || p.Status != models.DashboardReady {
		t.Fatalf("Activate: %+v, %v", p, err)
	}
	if _, err := f.svc.Activate(context.Background(), "a", f.client.ID); err != nil {
		t.Errorf("activating a ready dashboard again: %v", err)
	}

	f.projects.rows[f.client.ID].Status = models.DashboardError
	if _, err := f.svc.Activate(context.Background(), "a", f.client.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("activate in error state: %v", err)
	}
}

func TestGenerate_FailureKeepsLiveDashboard(t *testing.T) {
	f := newFixture(t, validConfig, `{"kpi_rules": "broken"}`)
	ctx := context.Background()

	if _, err := f.svc.Upload(ctx, "a", UploadInput{ClientID: f.client.ID, TemplateKey: "sales_pipeline", Mapping: salesMapping(), File: strings.NewReader(salesCSV)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Activate(ctx, "a", f.client.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.generate(); !errors.Is(err, templates.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}

	row := f.projects.rows[f.client.ID]
	if row.Status != models.DashboardReady || row.LastError == "" {
		t.Errorf("expected ready status with reason, got %+v", row)
	}
	if _, err := f.svc.ClientView(ctx, f.client, 7); err != nil {
		t.Errorf("live dashboard must stay visible: %v", err)
	}
	if _, err := f.svc.Activate(ctx, "a", f.client.ID); err != nil {
		t.Errorf("re-activating the kept config: %v", err)
	}

	f.llm.err = errors.New("connection reset")
	_, _ = f.generate()
	if row := f.projects.rows[f.client.ID]; row.Status != models.DashboardReady || !strings.Contains(row.LastError, "connection reset") {
		t.Errorf("LLM failure must not take the dashboard down, got %+v", row)
	}
}

func TestUpload_RejectsOtherTemplateOnConfiguredProject(t *testing.T) {
	f := newFixture(t, validConfig)
	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}
	csv := "Checked,Service,Status
2026-05-08,api,up
"
	_, err := f.svc.Upload(context.Background(), "a", UploadInput{
		ClientID: f.client.ID, TemplateKey: "uptime_monitor",
		Mapping: map[string]string{"date": "Checked", "service": "Service", "status": "Status"},
		File:    strings.NewReader(csv),
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if row := f.projects.rows[f.client.ID]; row.TemplateKey != "sales_pipeline" || row.DataSnapshot != nil {
		t.Errorf("configured project must be untouched, got %+v", row)
	}
}

func TestUpload_NonFiniteValueStaysText(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), "a", UploadInput{
		ClientID: f.client.ID, TemplateKey: "sales_pipeline", Mapping: salesMapping(),
		File: strings.NewReader("Date,Deal,Stage,Value
2026-01-01,Acme,won,NaN
"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	var records []ingest.Record
	if err := json.Unmarshal(f.projects.rows[f.client.ID].DataSnapshot, &records); err != nil {
		t.Fatal(err)
	}
	if records[0]["deal_value"] != "NaN" {
		t.Errorf("unexpected record %v", records[0])
	}
}

const salesCSV = "Date,Deal,Stage,Value\n2026-05-08,Acme,won,\"$1,200\"\n2026-04-01,Beta,lost,300\n2026-05-09,Gamma,open,800\n"

func salesMapping() map[string]string {
	return map[string]string{"date": "Date", "deal_name": "Deal", "stage": "Stage", "deal_value": "Value"}
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Upload(context.Background(), "a", UploadInput{
		ClientID: f.client.ID, TemplateKey: "sales_pipeline", Mapping: salesMapping(),
		Filename: "deals.csv", File: strings.NewReader(salesCSV),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Rows != 3 || res.Truncated || res.OriginalRows != 3 {
		t.Errorf("unexpected result %+v", res)
	}

	var records []ingest.Record
	if err := json.Unmarshal(f.projects.rows[f.client.ID].DataSnapshot, &records); err != nil {
		t.Fatal(err)
	}
	if records[0]["deal_value"] != 1200.0 || records[0]["date"] != "2026-05-08T00:00:00Z" {
		t.Errorf("unexpected first record %v", records[0])
	}
	if len(f.mutator.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(f.mutator.entries))
	}
	if after, _ := f.mutator.entries[0].After.(*models.DashboardProject); after == nil || after.DataSnapshot != nil {
		t.Error("audit entry must not carry the snapshot")
	}
}

func TestUpload_RejectsBeforePersisting(t *testing.T) {
	cases := map[string]struct {
		csv   string
		field string
	}{
		"empty":           {"", "file"},
		"header only":     {"Date,Deal,Stage,Value\n", "file"},
		"missing column":  {"Date,Deal,Stage\n2026-05-08,Acme,won\n", "deal_value"},
		"empty first row": {"Date,Deal,Stage,Value\n2026-05-08,,won,10\n", "deal_name"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), "a", UploadInput{
				ClientID: f.client.ID, TemplateKey: "sales_pipeline", Mapping: salesMapping(), File: strings.NewReader(tc.csv),
			})
			e, ok := apperr.As(err)
			if !ok || e.HTTPStatus() != http.StatusBadRequest || e.Field != tc.field {
				t.Fatalf("expected 400 on %s, got %v", tc.field, err)
			}
			if len(f.projects.rows) != 0 || len(f.mutator.entries) != 0 {
				t.Error("nothing may be persisted")
			}
		})
	}
}

func TestUpload_UsesStoredMapping(t *testing.T) {
	f := newFixture(t, validConfig)
	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Upload(context.Background(), "a", UploadInput{
		ClientID: f.client.ID, TemplateKey: "sales_pipeline", File: strings.NewReader(salesCSV),
	})
	if err != nil || res.Rows != 3 {
		t.Fatalf("Upload with stored mapping: %+v, %v", res, err)
	}
}

func TestClientView(t *testing.T) {
	f := newFixture(t, validConfig)
	ctx := context.Background()

	if _, err := f.svc.ClientView(ctx, f.client, 30); !apperr.Is(err, apperr.KindAuthorizationDenied) {
		t.Fatalf("30 days on trial: %v", err)
	}
	if _, err := f.svc.ClientView(ctx, f.client, 7); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("no dashboard: %v", err)
	}

	if _, err := f.svc.Upload(ctx, "a", UploadInput{ClientID: f.client.ID, TemplateKey: "sales_pipeline", Mapping: salesMapping(), File: strings.NewReader(salesCSV)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.generate(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ClientView(ctx, f.client, 7); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("configuring dashboard must stay hidden: %v", err)
	}
	if _, err := f.svc.Activate(ctx, "a", f.client.ID); err != nil {
		t.Fatal(err)
	}

	view, err := f.svc.ClientView(ctx, f.client, 7)
	if err != nil {
		t.Fatalf("ClientView: %v", err)
	}
	if len(view.Records) != 2 {
		t.Fatalf("expected 2 records in the last 7 days, got %d", len(view.Records))
	}
	if len(view.KPIs) != 1 || view.KPIs[0].Value == nil || *view.KPIs[0].Value != 2000 {
		t.Errorf("unexpected KPIs %+v", view.KPIs)
	}
}

func TestComputeKPIs(t *testing.T) {
	records := []ingest.Record{
		{"date": "2026-05-01T00:00:00Z", "v": 10.0},
		{"date": "2026-05-03T00:00:00Z", "v": 30.0},
		{"date": "2026-05-02T00:00:00Z", "v": 20.0},
		{"date": "2026-05-04T00:00:00Z", "v": "n/a"},
	}
	want := map[string]float64{"sum": 60, "avg": 20, "min": 10, "max": 30, "latest": 30, "count": 4}
	for agg, expected := range want {
		got := ComputeKPIs([]KPIRule{{Key: agg, Field: "v", Aggregation: agg}}, records)
		if got[0].Value == nil || *got[0].Value != expected {
			t.Errorf("%s = %v, want %v", agg, got[0].Value, expected)
		}
	}
	if got := ComputeKPIs([]KPIRule{{Key: "x", Field: "missing", Aggregation: "sum"}}, records); got[0].Value != nil {
		t.Errorf("missing field must yield nil, got %v", *got[0].Value)
	}
}

func TestHandler_UploadMultipart(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "deals.csv")
	fw.Write([]byte(salesCSV))
	mw.WriteField("template_key", "sales_pipeline")
	mapping, _ := json.Marshal(salesMapping())
	mw.WriteField("mapping", string(mapping))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/clients/"+f.client.ID.String()+"/dashboard/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("id", f.client.ID.String())
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &guard.Principal{Role: models.RoleAdmin, Email: "ops@klaro.test"}))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Rows      int  `json:"rows"`
		Truncated bool `json:"truncated"`
	}
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Rows != 3 || f.mutator.entries[0].Actor != "ops@klaro.test" {
		t.Errorf("unexpected response %+v / actor %q", res, f.mutator.entries[0].Actor)
	}
}

func TestHandler_ClientViewRejectsBadDays(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard?days=abc", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), &guard.Principal{Role: models.RoleClientUser, ClientID: &f.client.ID}))
	rec := httptest.NewRecorder()
	h.ClientView(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}
