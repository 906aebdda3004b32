package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klaroops/backend/internal/models"
)

// AIRepo stores assistant threads and their append-only messages.
type AIRepo struct {
	pool *pgxpool.Pool
}

func NewAIRepo(pool *pgxpool.Pool) *AIRepo {
	return &AIRepo{pool: pool}
}

func (r *AIRepo) CreateThread(ctx context.Context, t *models.AIThread) error {
	return mapErr(r.pool.QueryRow(ctx, `
		INSERT INTO ai_threads (client_id, title) VALUES ($1, $2)
		RETURNING id, created_at
	`, t.ClientID, t.Title).Scan(&t.ID, &t.CreatedAt))
}

// GetThread returns the thread only if it belongs to clientID.
func (r *AIRepo) GetThread(ctx context.Context, id, clientID uuid.UUID) (*models.AIThread, error) {
	var t models.AIThread
	err := r.pool.QueryRow(ctx, `
		SELECT id, client_id, title, created_at FROM ai_threads WHERE id = $1 AND client_id = $2
	`, id, clientID).Scan(&t.ID, &t.ClientID, &t.Title, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *AIRepo) ListThreads(ctx context.Context, clientID uuid.UUID) ([]*models.AIThread, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, title, created_at FROM ai_threads
		WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AIThread{}
	for rows.Next() {
		var t models.AIThread
		if err := rows.Scan(&t.ID, &t.ClientID, &t.Title, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *AIRepo) AppendMessage(ctx context.Context, m *models.AIMessage) error {
	return mapErr(r.pool.QueryRow(ctx, `
		INSERT INTO ai_messages (thread_id, role, content) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, m.ThreadID, m.Role, m.Content).Scan(&m.ID, &m.CreatedAt))
}

// RecentMessages returns the last limit messages of a thread, oldest first.
// A limit of zero or less returns the whole thread.
func (r *AIRepo) RecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.AIMessage, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, thread_id, role, content, created_at FROM (
			SELECT id, thread_id, role, content, created_at FROM ai_messages
			WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at
	`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AIMessage{}
	for rows.Next() {
		var m models.AIMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
