package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"go.uber.org/zap"
)

// Context keys added to a participant's input.
const (
	KeyRole            = "role"
	KeyPrimaryWorkerID = "primary_worker_id"
	KeyContribution    = "contribution"
	KeyPreviousResults = "previous_results"
	KeyPrimaryResult   = "primary_result"
	KeyHandoffFrom     = "handoff_from"
)

// CreateCollaboration records an active collaboration on an existing task.
// Mode defaults to parallel and participant roles to assistant.
func (o *Orchestrator) CreateCollaboration(taskID, primaryWorkerID string, participants []models.Participant, mode models.CollaborationMode) (*models.Collaboration, error) {
	if mode == "" {
		mode = models.ModeParallel
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown collaboration mode %q", ErrPrecondition, mode)
	}
	if _, ok := o.dir.Get(primaryWorkerID); !ok {
		return nil, fmt.Errorf("primary %s: %w", primaryWorkerID, worker.ErrNotFound)
	}
	ps := make([]models.Participant, len(participants))
	for i, p := range participants {
		if _, ok := o.dir.Get(p.WorkerID); !ok {
			return nil, fmt.Errorf("participant %s: %w", p.WorkerID, worker.ErrNotFound)
		}
		if p.Role == "" {
			p.Role = models.RoleAssistant
		}
		ps[i] = p
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.tasks[taskID]; !ok {
		return nil, fmt.Errorf("collaborate on %s: %w", taskID, ErrTaskNotFound)
	}
	c := &models.Collaboration{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		PrimaryWorkerID: primaryWorkerID,
		Participants:    ps,
		Mode:            mode,
		Status:          models.CollabActive,
		CreatedAt:       o.now(),
	}
	o.collabs[c.ID] = c
	o.collabOrder = append(o.collabOrder, c.ID)
	o.logger.Info("created collaboration",
		zap.String("collaboration", c.ID),
		zap.String("task", taskID),
		zap.String("mode", string(mode)),
		zap.Int("participants", len(ps)))
	return c.Clone(), nil
}

// ExecuteCollaboration runs an active collaboration according to its mode.
// Individual worker failures become failed contributions; only dispatch
// errors, such as a participant that is no longer registered, fail the
// collaboration and are returned.
func (o *Orchestrator) ExecuteCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	o.mu.Lock()
	c, ok := o.collabs[id]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("execute collaboration %s: %w", id, ErrCollaborationNotFound)
	}
	if c.Status != models.CollabActive {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: collaboration %s is %s", ErrPrecondition, id, c.Status)
	}
	if _, busy := o.running[id]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: collaboration %s is already running", ErrPrecondition, id)
	}
	o.running[id] = struct{}{}
	snapshot := c.Clone()
	t, ok := o.tasks[c.TaskID]
	var in models.Input
	if ok {
		in = t.Context.Clone()
	}
	o.mu.Unlock()
	if !ok {
		return nil, o.finishCollaboration(id, nil, fmt.Errorf("collaboration %s: task %s: %w", id, snapshot.TaskID, ErrTaskNotFound))
	}

	timer := o.sink.StartTimer("collaboration.execute", map[string]any{
		"collaboration_id": id,
		"mode":             string(snapshot.Mode),
	})

	var (
		results []models.Contribution
		err     error
	)
	switch snapshot.Mode {
	case models.ModeParallel:
		results, err = o.runParallel(ctx, snapshot, in)
	case models.ModeSequential:
		results, err = o.runSequential(ctx, snapshot, in)
	case models.ModeReview:
		results, err = o.runReview(ctx, snapshot, in)
	case models.ModeHandoff:
		results, err = o.runRelay(ctx, snapshot, in)
	default:
		err = fmt.Errorf("%w: unknown collaboration mode %q", ErrPrecondition, snapshot.Mode)
	}

	o.sink.EndTimer(timer, map[string]any{"success": err == nil, "results": len(results)})
	if err != nil {
		return nil, o.finishCollaboration(id, results, err)
	}
	if ferr := o.finishCollaboration(id, results, nil); ferr != nil {
		return nil, ferr
	}
	return o.GetCollaboration(id)
}

func (o *Orchestrator) finishCollaboration(id string, results []models.Contribution, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
	c, ok := o.collabs[id]
	if !ok {
		return fmt.Errorf("finish collaboration %s: %w", id, ErrCollaborationNotFound)
	}
	now := o.now()
	c.Results = results
	if err != nil {
		c.Status = models.CollabFailed
		c.Error = err.Error()
		o.logger.Warn("collaboration failed", zap.String("collaboration", id), zap.Error(err))
		return err
	}
	c.Status = models.CollabCompleted
	c.CompletedAt = &now
	o.logger.Info("collaboration completed",
		zap.String("collaboration", id),
		zap.Int("results", len(results)))
	return nil
}

// participantInput layers role information over the task context.
func participantInput(in models.Input, c *models.Collaboration, p models.Participant) models.Input {
	return in.With(map[string]any{
		KeyRole:            string(p.Role),
		KeyPrimaryWorkerID: c.PrimaryWorkerID,
		KeyContribution:    p.Contribution,
	})
}

func (o *Orchestrator) resolve(ids ...string) ([]*worker.Worker, error) {
	out := make([]*worker.Worker, len(ids))
	for i, id := range ids {
		w, ok := o.dir.Get(id)
		if !ok {
			return nil, fmt.Errorf("collaboration worker %s: %w", id, worker.ErrNotFound)
		}
		out[i] = w
	}
	return out, nil
}

func participantIDs(c *models.Collaboration) []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.WorkerID
	}
	return ids
}

// runParallel dispatches every participant at once and waits for all of
// them; one failure doesn't stop the others.
func (o *Orchestrator) runParallel(ctx context.Context, c *models.Collaboration, in models.Input) ([]models.Contribution, error) {
	workers, err := o.resolve(participantIDs(c)...)
	if err != nil {
		return nil, err
	}
	return o.fanOut(ctx, c, workers, func(p models.Participant) models.Input {
		return participantInput(in, c, p)
	}), nil
}

func (o *Orchestrator) fanOut(ctx context.Context, c *models.Collaboration, workers []*worker.Worker, input func(models.Participant) models.Input) []models.Contribution {
	results := make([]models.Contribution, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker.Worker) {
			defer wg.Done()
			p := c.Participants[i]
			results[i] = o.contribute(ctx, w, p.Role, input(p))
		}(i, w)
	}
	wg.Wait()
	return results
}

// runSequential invokes participants in order, passing each the summaries
// of everything before it.
func (o *Orchestrator) runSequential(ctx context.Context, c *models.Collaboration, in models.Input) ([]models.Contribution, error) {
	workers, err := o.resolve(participantIDs(c)...)
	if err != nil {
		return nil, err
	}
	results := make([]models.Contribution, 0, len(workers))
	for i, w := range workers {
		p := c.Participants[i]
		prior := make([]map[string]any, len(results))
		for j, r := range results {
			prior[j] = r.Summary()
		}
		pin := participantInput(in, c, p).With(map[string]any{KeyPreviousResults: prior})
		results = append(results, o.contribute(ctx, w, p.Role, pin))
	}
	return results, nil
}

// runReview runs the primary on the plain task context, then every
// participant as a reviewer of the primary's result.
func (o *Orchestrator) runReview(ctx context.Context, c *models.Collaboration, in models.Input) ([]models.Contribution, error) {
	primary, err := o.resolve(c.PrimaryWorkerID)
	if err != nil {
		return nil, err
	}
	reviewers, err := o.resolve(participantIDs(c)...)
	if err != nil {
		return nil, err
	}

	first := o.contribute(ctx, primary[0], models.RoleCoordinator, in.Clone())
	summary := first.Summary()
	reviews := o.fanOut(ctx, c, reviewers, func(p models.Participant) models.Input {
		return in.With(map[string]any{
			KeyRole:            string(models.RoleReviewer),
			KeyPrimaryWorkerID: c.PrimaryWorkerID,
			KeyContribution:    p.Contribution,
			KeyPrimaryResult:   summary,
		})
	})
	for i := range reviews {
		reviews[i].Role = models.RoleReviewer
	}
	return append([]models.Contribution{first}, reviews...), nil
}

// runRelay passes the work down the participant list; each participant
// sees only the result of the one before it.
func (o *Orchestrator) runRelay(ctx context.Context, c *models.Collaboration, in models.Input) ([]models.Contribution, error) {
	workers, err := o.resolve(participantIDs(c)...)
	if err != nil {
		return nil, err
	}
	results := make([]models.Contribution, 0, len(workers))
	for i, w := range workers {
		p := c.Participants[i]
		pin := participantInput(in, c, p)
		if i > 0 {
			pin = pin.With(map[string]any{KeyHandoffFrom: results[i-1].Summary()})
		}
		results = append(results, o.contribute(ctx, w, p.Role, pin))
	}
	return results, nil
}
