package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"go.uber.org/zap"
)

const upsertTask = `
	INSERT INTO archived_tasks (id, organization_id, type, status, priority, assigned_worker_id, payload, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		assigned_worker_id = EXCLUDED.assigned_worker_id,
		payload = EXCLUDED.payload,
		completed_at = EXCLUDED.completed_at,
		archived_at = NOW()`

// ArchiveTasks upserts tasks in a single batch.
func (s *Store) ArchiveTasks(ctx context.Context, tasks []*models.Task) error {
	b := &pgx.Batch{}
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		b.Queue(upsertTask,
			t.ID, t.OrganizationID, t.Type, string(t.Status), string(t.Priority),
			t.AssignedWorkerID, payload, t.CreatedAt, t.CompletedAt,
		)
	}
	br := s.db.SendBatch(ctx, b)
	defer br.Close()
	for _, t := range tasks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archive task %s: %w", t.ID, err)
		}
	}
	s.logger.Debug("archived tasks", zap.Int("count", len(tasks)))
	return nil
}

// ArchivedTask loads one archived task.
func (s *Store) ArchivedTask(ctx context.Context, id string) (*models.Task, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM archived_tasks WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get archived task %s: %w", id, err)
	}
	var t models.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// ListArchivedTasks returns an organization's archived tasks, newest first.
func (s *Store) ListArchivedTasks(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM archived_tasks
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		var t models.Task
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("decode archived task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
