package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- TxBeginner mock ---

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- audit store mock ---

type mockAuditStore struct {
	logs []*models.AuditLog
}

func (m *mockAuditStore) InsertTx(_ context.Context, _ pgx.Tx, l *models.AuditLog) error {
	m.logs = append(m.logs, l)
	return nil
}

func (m *mockAuditStore) List(_ context.Context, f repository.AuditFilter) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	for _, l := range m.logs {
		if f.EntityType != "" && l.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != nil && l.EntityID != *f.EntityID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// --- UserRepo mock ---

type mockUsers struct {
	users map[string]*models.User
}

func (m *mockUsers) CreateTx(_ context.Context, _ pgx.Tx, u *models.User) error {
	if _, ok := m.users[u.Email]; ok {
		return repository.ErrDuplicate
	}
	u.ID = uuid.New()
	m.users[u.Email] = u
	return nil
}

// --- AmbassadorRepo mock ---

type mockAmbassadors struct {
	rows map[uuid.UUID]*models.Ambassador
}

func (m *mockAmbassadors) List(context.Context) ([]*models.Ambassador, error) {
	var out []*models.Ambassador
	for _, a := range m.rows {
		out = append(out, a)
	}
	return out, nil
}
func (m *mockAmbassadors) GetByID(_ context.Context, id uuid.UUID) (*models.Ambassador, error) {
	a, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
func (m *mockAmbassadors) GetTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Ambassador, error) {
	return m.GetByID(ctx, id)
}
func (m *mockAmbassadors) CreateTx(_ context.Context, _ pgx.Tx, a *models.Ambassador) error {
	a.ID = uuid.New()
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}
func (m *mockAmbassadors) UpdateTx(_ context.Context, _ pgx.Tx, a *models.Ambassador) error {
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}

// --- ClientRepo mock ---

type mockClients struct {
	rows map[uuid.UUID]*models.Client
}

func owned(rowOwner, owner *uuid.UUID) bool {
	return owner == nil || (rowOwner != nil && *rowOwner == *owner)
}

func (m *mockClients) List(_ context.Context, owner *uuid.UUID) ([]*models.Client, error) {
	out := []*models.Client{}
	for _, c := range m.rows {
		if owned(c.AmbassadorID, owner) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *mockClients) GetByID(_ context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Client, error) {
	c, ok := m.rows[id]
	if !ok || !owned(c.AmbassadorID, owner) {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
func (m *mockClients) GetTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Client, error) {
	return m.GetByID(ctx, id, owner)
}
func (m *mockClients) CreateTx(_ context.Context, _ pgx.Tx, c *models.Client) error {
	c.ID = uuid.New()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}
func (m *mockClients) UpdateTx(_ context.Context, _ pgx.Tx, c *models.Client, owner *uuid.UUID) error {
	if cur, ok := m.rows[c.ID]; !ok || !owned(cur.AmbassadorID, owner) {
		return repository.ErrNotFound
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}
func (m *mockClients) AssignTx(_ context.Context, _ pgx.Tx, id uuid.UUID, ambassadorID *uuid.UUID) error {
	c, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.AmbassadorID = ambassadorID
	return nil
}
func (m *mockClients) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

// --- CommissionRepo mock ---

type mockCommissions struct {
	rows map[uuid.UUID]*models.Commission
}

func (m *mockCommissions) List(_ context.Context, owner *uuid.UUID) ([]*models.Commission, error) {
	out := []*models.Commission{}
	for _, c := range m.rows {
		if owner == nil || c.AmbassadorID == *owner {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *mockCommissions) GetTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Commission, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}
func (m *mockCommissions) CreateTx(_ context.Context, _ pgx.Tx, c *models.Commission) error {
	c.ID = uuid.New()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}
func (m *mockCommissions) UpdateTx(_ context.Context, _ pgx.Tx, c *models.Commission) error {
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}
func (m *mockCommissions) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	delete(m.rows, id)
	return nil
}

// --- AppointmentRepo mock ---

type mockAppointments struct {
	rows map[uuid.UUID]*models.Appointment
}

func (m *mockAppointments) List(_ context.Context, owner *uuid.UUID) ([]*models.Appointment, error) {
	out := []*models.Appointment{}
	for _, a := range m.rows {
		if owned(&a.AmbassadorID, owner) {
			out = append(out, a)
		}
	}
	return out, nil
}
func (m *mockAppointments) GetByID(_ context.Context, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error) {
	a, ok := m.rows[id]
	if !ok || !owned(&a.AmbassadorID, owner) {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}
func (m *mockAppointments) GetTx(ctx context.Context, _ pgx.Tx, id uuid.UUID, owner *uuid.UUID) (*models.Appointment, error) {
	return m.GetByID(ctx, id, owner)
}
func (m *mockAppointments) CreateTx(_ context.Context, _ pgx.Tx, a *models.Appointment) error {
	a.ID = uuid.New()
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}
func (m *mockAppointments) UpdateTx(_ context.Context, _ pgx.Tx, a *models.Appointment, _ *uuid.UUID) error {
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}
func (m *mockAppointments) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID, _ *uuid.UUID) error {
	delete(m.rows, id)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	audit        *mockAuditStore
	mutator      audit.Mutator
	users        *mockUsers
	ambassadors  *mockAmbassadors
	clients      *mockClients
	commissions  *mockCommissions
	appointments *mockAppointments
}

func newFixture() *fixture {
	store := &mockAuditStore{}
	return &fixture{
		audit:        store,
		mutator:      audit.NewRecorder(mockPool{}, store, nil),
		users:        &mockUsers{users: map[string]*models.User{}},
		ambassadors:  &mockAmbassadors{rows: map[uuid.UUID]*models.Ambassador{}},
		clients:      &mockClients{rows: map[uuid.UUID]*models.Client{}},
		commissions:  &mockCommissions{rows: map[uuid.UUID]*models.Commission{}},
		appointments: &mockAppointments{rows: map[uuid.UUID]*models.Appointment{}},
	}
}

func (f *fixture) addAmbassador() *models.Ambassador {
	a := &models.Ambassador{ID: uuid.New(), UserID: uuid.New(), Name: "Amb", Status: models.AmbassadorStatusActive}
	f.ambassadors.rows[a.ID] = a
	return a
}

func (f *fixture) addClient(owner *uuid.UUID) *models.Client {
	c := &models.Client{ID: uuid.New(), Name: "Acme", Email: "ops@acme.test", Status: models.ClientStatusActive,
		Plan: models.PlanStarter, OnboardingStatus: models.OnboardingNew, AmbassadorID: owner}
	f.clients.rows[c.ID] = c
	return c
}

var adminPrincipal = &guard.Principal{Role: models.RoleAdmin, Email: "admin@klaro.test"}

func ambassadorPrincipal(a *models.Ambassador) *guard.Principal {
	id := a.ID
	return &guard.Principal{UserID: a.UserID, Role: models.RoleAmbassador, Email: "amb@klaro.test", AmbassadorID: &id}
}

func request(p *guard.Principal, method, target, body string, pathID *uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if p != nil {
		req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
	}
	if pathID != nil {
		req.SetPathValue("id", pathID.String())
	}
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// ---------------------------------------------------------------------------
// Ambassadors
// ---------------------------------------------------------------------------

func TestAmbassadorCreate_CreatesLoginAndAudits(t *testing.T) {
	f := newFixture()
	h := &AmbassadorHandler{Users: f.users, Ambassadors: f.ambassadors, Audit: f.mutator}

	rec := httptest.NewRecorder()
	h.Create(rec, request(adminPrincipal, http.MethodPost, "/api/admin/ambassadors",
		`{"name":"Dana","email":"Dana@Example.com","password":"supersecret","commission_rule":{"percent":10}}`, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	u, ok := f.users.users["dana@example.com"]
	if !ok {
		t.Fatal("user not created with lower-cased email")
	}
	if u.Role != models.RoleAmbassador {
		t.Errorf("role = %q", u.Role)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("supersecret")) != nil {
		t.Error("password hash does not match")
	}
	got := decodeBody[models.Ambassador](t, rec)
	if got.UserID != u.ID || got.Status != models.AmbassadorStatusActive {
		t.Errorf("ambassador = %+v", got)
	}
	if len(f.audit.logs) != 1 || f.audit.logs[0].EntityType != models.EntityAmbassador || f.audit.logs[0].Actor != "admin@klaro.test" {
		t.Fatalf("audit logs = %+v", f.audit.logs)
	}
}

func TestAmbassadorCreate_DuplicateEmail(t *testing.T) {
	f := newFixture()
	f.users.users["dana@example.com"] = &models.User{ID: uuid.New(), Email: "dana@example.com"}
	h := &AmbassadorHandler{Users: f.users, Ambassadors: f.ambassadors, Audit: f.mutator}

	rec := httptest.NewRecorder()
	h.Create(rec, request(adminPrincipal, http.MethodPost, "/", `{"name":"Dana","email":"dana@example.com","password":"supersecret"}`, nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(f.ambassadors.rows) != 0 || len(f.audit.logs) != 0 {
		t.Error("nothing should be written on conflict")
	}
}

func TestAmbassadorCreate_Validation(t *testing.T) {
	cases := map[string]string{
		"short password":  `{"name":"Dana","email":"dana@example.com","password":"short"}`,
		"bad email":       `{"name":"Dana","email":"dana","password":"supersecret"}`,
		"missing name":    `{"email":"dana@example.com","password":"supersecret"}`,
		"rule not object": `{"name":"Dana","email":"dana@example.com","password":"supersecret","commission_rule":[1]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			h := &AmbassadorHandler{Users: f.users, Ambassadors: f.ambassadors, Audit: f.mutator}
			rec := httptest.NewRecorder()
			h.Create(rec, request(adminPrincipal, http.MethodPost, "/", body, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAmbassadorDeactivate(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	h := &AmbassadorHandler{Users: f.users, Ambassadors: f.ambassadors, Audit: f.mutator}

	rec := httptest.NewRecorder()
	h.Deactivate(rec, request(adminPrincipal, http.MethodDelete, "/", "", &a.ID))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.ambassadors.rows[a.ID].Status != models.AmbassadorStatusInactive {
		t.Error("ambassador still active")
	}
	var before models.Ambassador
	if err := json.Unmarshal(f.audit.logs[0].Before, &before); err != nil || before.Status != models.AmbassadorStatusActive {
		t.Errorf("audit before = %s", f.audit.logs[0].Before)
	}
}

func TestAmbassadorUpdate_UnknownStatus(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	h := &AmbassadorHandler{Users: f.users, Ambassadors: f.ambassadors, Audit: f.mutator}

	rec := httptest.NewRecorder()
	h.Update(rec, request(adminPrincipal, http.MethodPatch, "/", `{"status":"retired"}`, &a.ID))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Clients
// ---------------------------------------------------------------------------

func newClientHandler(f *fixture, now time.Time) *ClientHandler {
	return &ClientHandler{Clients: f.clients, Ambassadors: f.ambassadors, Audit: f.mutator, TrialDays: 14, Now: func() time.Time { return now }}
}

func TestClientCreate_AmbassadorOwnsNewClient(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newClientHandler(f, now)

	body := `{"name":"Acme","email":"ops@acme.test","ambassador_id":"` + other.ID.String() + `"}`
	rec := httptest.NewRecorder()
	h.Create(rec, request(ambassadorPrincipal(a), http.MethodPost, "/api/clients", body, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Client](t, rec)
	if got.AmbassadorID == nil || *got.AmbassadorID != a.ID {
		t.Fatalf("ambassador_id = %v, want caller %s", got.AmbassadorID, a.ID)
	}
	if got.Plan != models.PlanTrial || got.TrialEndsAt == nil || !got.TrialEndsAt.Equal(now.AddDate(0, 0, 14)) {
		t.Errorf("plan = %q trial_ends_at = %v", got.Plan, got.TrialEndsAt)
	}
}

func TestClientCreate_InvalidPlan(t *testing.T) {
	f := newFixture()
	h := newClientHandler(f, time.Now())
	rec := httptest.NewRecorder()
	h.Create(rec, request(adminPrincipal, http.MethodPost, "/", `{"name":"Acme","email":"ops@acme.test","plan":"enterprise"}`, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClientGet_OtherAmbassadorIsNotFound(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	c := f.addClient(&other.ID)
	h := newClientHandler(f, time.Now())

	rec := httptest.NewRecorder()
	h.Get(rec, request(ambassadorPrincipal(a), http.MethodGet, "/", "", &c.ID))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Get(rec, request(adminPrincipal, http.MethodGet, "/", "", &c.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", rec.Code)
	}
}

func TestClientList_ScopedToAmbassador(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	f.addClient(&a.ID)
	f.addClient(&other.ID)
	f.addClient(nil)
	h := newClientHandler(f, time.Now())

	rec := httptest.NewRecorder()
	h.List(rec, request(ambassadorPrincipal(a), http.MethodGet, "/", "", nil))
	if got := decodeBody[[]models.Client](t, rec); len(got) != 1 {
		t.Fatalf("ambassador sees %d clients, want 1", len(got))
	}

	rec = httptest.NewRecorder()
	h.List(rec, request(adminPrincipal, http.MethodGet, "/", "", nil))
	if got := decodeBody[[]models.Client](t, rec); len(got) != 3 {
		t.Fatalf("admin sees %d clients, want 3", len(got))
	}
}

func TestClientAssign(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	c := f.addClient(nil)
	h := newClientHandler(f, time.Now())

	rec := httptest.NewRecorder()
	h.Assign(rec, request(adminPrincipal, http.MethodPost, "/", `{"ambassador_id":"`+uuid.NewString()+`"}`, &c.ID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown ambassador status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Assign(rec, request(adminPrincipal, http.MethodPost, "/", `{"ambassador_id":"`+a.ID.String()+`"}`, &c.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if got := f.clients.rows[c.ID].AmbassadorID; got == nil || *got != a.ID {
		t.Fatalf("assigned = %v", got)
	}

	rec = httptest.NewRecorder()
	h.Assign(rec, request(adminPrincipal, http.MethodPost, "/", `{"ambassador_id":null}`, &c.ID))
	if rec.Code != http.StatusOK || f.clients.rows[c.ID].AmbassadorID != nil {
		t.Fatalf("unassign status = %d ambassador = %v", rec.Code, f.clients.rows[c.ID].AmbassadorID)
	}
	if len(f.audit.logs) != 2 {
		t.Errorf("audit logs = %d, want 2", len(f.audit.logs))
	}
}

func TestClientDelete_RecordsBefore(t *testing.T) {
	f := newFixture()
	c := f.addClient(nil)
	h := newClientHandler(f, time.Now())

	rec := httptest.NewRecorder()
	h.Delete(rec, request(adminPrincipal, http.MethodDelete, "/", "", &c.ID))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := f.clients.rows[c.ID]; ok {
		t.Error("client not deleted")
	}
	l := f.audit.logs[0]
	if l.Action != audit.ActionDelete || l.Before == nil || l.After != nil {
		t.Errorf("audit = %+v", l)
	}
}

// ---------------------------------------------------------------------------
// Commissions
// ---------------------------------------------------------------------------

func TestCommissionList_AmbassadorSeesOwn(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	for _, id := range []uuid.UUID{a.ID, other.ID, other.ID} {
		c := &models.Commission{ID: uuid.New(), AmbassadorID: id, Status: models.CommissionPending}
		f.commissions.rows[c.ID] = c
	}
	h := &CommissionHandler{Commissions: f.commissions, Ambassadors: f.ambassadors, Audit: f.mutator}

	rec := httptest.NewRecorder()
	h.List(rec, request(ambassadorPrincipal(a), http.MethodGet, "/", "", nil))
	got := decodeBody[[]models.Commission](t, rec)
	if len(got) != 1 || got[0].AmbassadorID != a.ID {
		t.Fatalf("commissions = %+v", got)
	}
}

func TestCommissionCreate(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	h := &CommissionHandler{Commissions: f.commissions, Ambassadors: f.ambassadors, Audit: f.mutator}

	body := `{"ambassador_id":"` + a.ID.String() + `","amount_cents":12500,"period_start":"2026-01-01T00:00:00Z","period_end":"2026-01-31T00:00:00Z"}`
	rec := httptest.NewRecorder()
	h.Create(rec, request(adminPrincipal, http.MethodPost, "/", body, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Commission](t, rec)
	if got.Status != models.CommissionPending || got.AmountCents != 12500 {
		t.Errorf("commission = %+v", got)
	}
}

func TestCommissionCreate_Validation(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	h := &CommissionHandler{Commissions: f.commissions, Ambassadors: f.ambassadors, Audit: f.mutator}
	amb := a.ID.String()

	cases := map[string]string{
		"negative amount":    `{"ambassador_id":"` + amb + `","amount_cents":-1,"period_start":"2026-01-01T00:00:00Z","period_end":"2026-01-31T00:00:00Z"}`,
		"period reversed":    `{"ambassador_id":"` + amb + `","amount_cents":1,"period_start":"2026-02-01T00:00:00Z","period_end":"2026-01-31T00:00:00Z"}`,
		"unknown status":     `{"ambassador_id":"` + amb + `","amount_cents":1,"status":"void","period_start":"2026-01-01T00:00:00Z","period_end":"2026-01-31T00:00:00Z"}`,
		"unknown ambassador": `{"ambassador_id":"` + uuid.NewString() + `","amount_cents":1,"period_start":"2026-01-01T00:00:00Z","period_end":"2026-01-31T00:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, request(adminPrincipal, http.MethodPost, "/", body, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
	if len(f.commissions.rows) != 0 {
		t.Error("no commission should be stored")
	}
}

// ---------------------------------------------------------------------------
// Appointments
// ---------------------------------------------------------------------------

func newAppointmentHandler(f *fixture) *AppointmentHandler {
	return &AppointmentHandler{Appointments: f.appointments, Clients: f.clients, Ambassadors: f.ambassadors, Audit: f.mutator}
}

func TestAppointmentCreate_ForCaller(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	c := f.addClient(&a.ID)
	h := newAppointmentHandler(f)

	body := `{"title":"Kickoff","client_id":"` + c.ID.String() + `","starts_at":"2026-03-02T10:00:00Z","ends_at":"2026-03-02T11:00:00Z"}`
	rec := httptest.NewRecorder()
	h.Create(rec, request(ambassadorPrincipal(a), http.MethodPost, "/", body, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	got := decodeBody[models.Appointment](t, rec)
	if got.AmbassadorID != a.ID || got.Status != models.AppointmentScheduled {
		t.Errorf("appointment = %+v", got)
	}
}

func TestAppointmentCreate_EndsBeforeStarts(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	h := newAppointmentHandler(f)

	rec := httptest.NewRecorder()
	h.Create(rec, request(ambassadorPrincipal(a), http.MethodPost, "/",
		`{"title":"Kickoff","starts_at":"2026-03-02T11:00:00Z","ends_at":"2026-03-02T11:00:00Z"}`, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec); got["field"] != "ends_at" {
		t.Errorf("field = %q", got["field"])
	}
}

func TestAppointmentCreate_ClientOfOtherAmbassador(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	c := f.addClient(&other.ID)
	h := newAppointmentHandler(f)

	body := `{"title":"Kickoff","client_id":"` + c.ID.String() + `","starts_at":"2026-03-02T10:00:00Z","ends_at":"2026-03-02T11:00:00Z"}`
	rec := httptest.NewRecorder()
	h.Create(rec, request(ambassadorPrincipal(a), http.MethodPost, "/", body, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAppointmentCreate_AdminNamesAmbassador(t *testing.T) {
	f := newFixture()
	h := newAppointmentHandler(f)

	rec := httptest.NewRecorder()
	h.Create(rec, request(adminPrincipal, http.MethodPost, "/",
		`{"title":"Kickoff","starts_at":"2026-03-02T10:00:00Z","ends_at":"2026-03-02T11:00:00Z"}`, nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAppointmentUpdate_OtherAmbassadorIsNotFound(t *testing.T) {
	f := newFixture()
	a := f.addAmbassador()
	other := f.addAmbassador()
	appt := &models.Appointment{ID: uuid.New(), AmbassadorID: other.ID, Title: "Call", Status: models.AppointmentScheduled,
		StartsAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), EndsAt: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)}
	f.appointments.rows[appt.ID] = appt
	h := newAppointmentHandler(f)

	rec := httptest.NewRecorder()
	h.Update(rec, request(ambassadorPrincipal(a), http.MethodPatch, "/", `{"status":"done"}`, &appt.ID))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Delete(rec, request(ambassadorPrincipal(a), http.MethodDelete, "/", "", &appt.ID))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete status = %d, want 404", rec.Code)
	}
	if len(f.audit.logs) != 0 {
		t.Error("nothing should be audited")
	}
}

// ---------------------------------------------------------------------------
// Audit log and me
// ---------------------------------------------------------------------------

func TestAuditLogList_Filters(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	f.audit.logs = []*models.AuditLog{
		{EntityType: models.EntityClient, EntityID: id},
		{EntityType: models.EntityClient, EntityID: uuid.New()},
		{EntityType: models.EntityCommission, EntityID: id},
	}
	h := &AuditLogHandler{Logs: f.audit}

	rec := httptest.NewRecorder()
	h.List(rec, request(adminPrincipal, http.MethodGet, "/api/admin/audit-logs?entity_type=client&entity_id="+id.String(), "", nil))
	if got := decodeBody[[]models.AuditLog](t, rec); len(got) != 1 {
		t.Fatalf("logs = %d, want 1", len(got))
	}

	rec = httptest.NewRecorder()
	h.List(rec, request(adminPrincipal, http.MethodGet, "/api/admin/audit-logs?entity_id=nope", "", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMe_ClientUserGetsEntitlement(t *testing.T) {
	f := newFixture()
	c := f.addClient(nil)
	c.Plan = models.PlanGrowth
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h := &MeHandler{Clients: f.clients, Now: func() time.Time { return now }}
	p := &guard.Principal{UserID: uuid.New(), Role: models.RoleClientUser, Email: "ops@acme.test", ClientID: &c.ID}

	rec := httptest.NewRecorder()
	h.Me(rec, request(p, http.MethodGet, "/api/me", "", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[map[string]any](t, rec)
	ent, ok := got["entitlement"].(map[string]any)
	if !ok || ent["plan"] != models.PlanGrowth || ent["can_chat"] != true {
		t.Fatalf("entitlement = %v", got["entitlement"])
	}
}

func TestMe_AdminHasNoEntitlement(t *testing.T) {
	h := &MeHandler{}
	rec := httptest.NewRecorder()
	h.Me(rec, request(adminPrincipal, http.MethodGet, "/api/me", "", nil))
	got := decodeBody[map[string]any](t, rec)
	if _, ok := got["entitlement"]; ok || got["role"] != models.RoleAdmin {
		t.Fatalf("me = %v", got)
	}
}

func TestMeClient_RequiresClientUser(t *testing.T) {
	h := &MeHandler{}
	rec := httptest.NewRecorder()
	h.Client(rec, request(adminPrincipal, http.MethodGet, "/api/me/client", "", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
