// Package audit pairs every mutation with an audit row in the same
// transaction. If the audit write fails the mutation is rolled back.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/klaroops/backend/internal/guard"
	"github.com/klaroops/backend/internal/models"
)

const (
	ActorPublic       = "public"
	ActorAdmin        = "admin"
	ActorUnknownAdmin = "unknown_admin"
)

// Actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store interface {
	InsertTx(ctx context.Context, tx pgx.Tx, l *models.AuditLog) error
}

// Entry describes one audited change. Before and After are JSON-encoded; nil
// values are stored as NULL.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     any
	After      any
}

// MutateFunc performs the change inside tx and describes it.
type MutateFunc func(tx pgx.Tx) (Entry, error)

// Mutator is what handlers and services depend on.
type Mutator interface {
	Mutate(ctx context.Context, fn MutateFunc) error
}

type Recorder struct {
	db    TxBeginner
	store Store
	log   *slog.Logger
}

func NewRecorder(db TxBeginner, store Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{db: db, store: store, log: log}
}

var _ Mutator = (*Recorder)(nil)

func (r *Recorder) Mutate(ctx context.Context, fn MutateFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err := fn(tx)
	if err != nil {
		return err
	}

	row, err := entry.toLog()
	if err != nil {
		return err
	}
	if err := r.store.InsertTx(ctx, tx, row); err != nil {
		r.log.Error("audit write failed, rolling back", "entity_type", row.EntityType, "entity_id", row.EntityID, "action", row.Action, "error", err)
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e Entry) toLog() (*models.AuditLog, error) {
	if e.Action == "" || e.EntityType == "" {
		return nil, errors.New("audit entry needs an action and entity type")
	}
	before, err := encode(e.Before)
	if err != nil {
		return nil, fmt.Errorf("encode before: %w", err)
	}
	after, err := encode(e.After)
	if err != nil {
		return nil, fmt.Errorf("encode after: %w", err)
	}
	actor := e.Actor
	if actor == "" {
		actor = ActorUnknownAdmin
	}
	return &models.AuditLog{
		Actor:      actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
	}, nil
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil || bytes.Equal(b, []byte("null")) {
		// Typed nil pointers are stored as NULL too.
		return nil, err
	}
	return b, nil
}

// ActorFor names the principal in the audit log.
func ActorFor(p *guard.Principal) string {
	switch {
	case p == nil:
		return ActorUnknownAdmin
	case p.Email != "":
		return p.Email
	case p.IsAdmin():
		return ActorAdmin
	}
	return p.UserID.String()
}
