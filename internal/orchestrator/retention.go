package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
	"go.uber.org/zap"
)

// Archiver receives finished records before they are dropped from memory.
type Archiver interface {
	ArchiveTasks(ctx context.Context, tasks []*models.Task) error
	ArchiveCollaborations(ctx context.Context, collabs []*models.Collaboration) error
}

// Prune drops terminal tasks last updated before now-olderThan together
// with their collaborations. A task referenced by an active collaboration
// is kept. With an archiver set, records are archived first and nothing is
// dropped if archiving fails.
func (o *Orchestrator) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := o.now().Add(-olderThan)

	o.mu.RLock()
	archiver := o.archiver
	pinned := make(map[string]bool)
	for _, c := range o.collabs {
		if c.Status == models.CollabActive {
			pinned[c.TaskID] = true
		}
	}
	drop := make(map[string]bool)
	var tasks []*models.Task
	for _, id := range o.taskOrder {
		t := o.tasks[id]
		if t.Status.Terminal() && !pinned[id] && t.UpdatedAt.Before(cutoff) {
			tasks = append(tasks, t.Clone())
			drop[id] = true
		}
	}
	var collabs []*models.Collaboration
	for _, id := range o.collabOrder {
		c := o.collabs[id]
		_, taskExists := o.tasks[c.TaskID]
		if c.Status != models.CollabActive && (drop[c.TaskID] || !taskExists) {
			collabs = append(collabs, c.Clone())
		}
	}
	o.mu.RUnlock()

	if len(tasks) == 0 && len(collabs) == 0 {
		return 0, nil
	}

	if archiver != nil {
		if len(tasks) > 0 {
			if err := archiver.ArchiveTasks(ctx, tasks); err != nil {
				return 0, fmt.Errorf("archive tasks: %w", err)
			}
		}
		if len(collabs) > 0 {
			if err := archiver.ArchiveCollaborations(ctx, collabs); err != nil {
				return 0, fmt.Errorf("archive collaborations: %w", err)
			}
		}
	}

	// Collaborations may have been opened on a selected task while the
	// archiver ran. Such a task stays, and so do its collaborations.
	o.mu.Lock()
	for _, c := range o.collabs {
		if c.Status == models.CollabActive {
			pinned[c.TaskID] = true
		}
	}
	prunedTasks, prunedCollabs := 0, 0
	for _, t := range tasks {
		if _, ok := o.tasks[t.ID]; !ok || pinned[t.ID] {
			continue
		}
		delete(o.tasks, t.ID)
		prunedTasks++
	}
	for _, c := range collabs {
		_, taskKept := o.tasks[c.TaskID]
		if _, ok := o.collabs[c.ID]; !ok || taskKept {
			continue
		}
		delete(o.collabs, c.ID)
		prunedCollabs++
	}
	o.taskOrder = retain(o.taskOrder, func(id string) bool { _, ok := o.tasks[id]; return ok })
	o.collabOrder = retain(o.collabOrder, func(id string) bool { _, ok := o.collabs[id]; return ok })
	o.mu.Unlock()

	o.logger.Info("pruned records",
		zap.Int("tasks", prunedTasks),
		zap.Int("collaborations", prunedCollabs),
		zap.Time("cutoff", cutoff))
	return prunedTasks + prunedCollabs, nil
}

func retain(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// RunJanitor prunes on every tick until ctx is done. A non-positive
// interval disables it.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Prune(ctx, retention); err != nil {
				o.logger.Warn("prune failed", zap.Error(err))
			}
		}
	}
}
