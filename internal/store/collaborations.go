package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"go.uber.org/zap"
)

const upsertCollaboration = `
	INSERT INTO archived_collaborations (id, task_id, primary_worker_id, mode, status, payload, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		payload = EXCLUDED.payload,
		completed_at = EXCLUDED.completed_at,
		archived_at = NOW()`

// ArchiveCollaborations upserts collaborations in a single batch.
func (s *Store) ArchiveCollaborations(ctx context.Context, collabs []*models.Collaboration) error {
	b := &pgx.Batch{}
	for _, c := range collabs {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode collaboration %s: %w", c.ID, err)
		}
		b.Queue(upsertCollaboration,
			c.ID, c.TaskID, c.PrimaryWorkerID, string(c.Mode), string(c.Status),
			payload, c.CreatedAt, c.CompletedAt,
		)
	}
	br := s.db.SendBatch(ctx, b)
	defer br.Close()
	for _, c := range collabs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("archive collaboration %s: %w", c.ID, err)
		}
	}
	s.logger.Debug("archived collaborations", zap.Int("count", len(collabs)))
	return nil
}

// ArchivedCollaborations returns the archived collaborations of a task in
// creation order.
func (s *Store) ArchivedCollaborations(ctx context.Context, taskID string) ([]*models.Collaboration, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM archived_collaborations
		WHERE task_id = $1
		ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list archived collaborations: %w", err)
	}
	defer rows.Close()

	var out []*models.Collaboration
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan archived collaboration: %w", err)
		}
		var c models.Collaboration
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode archived collaboration: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
