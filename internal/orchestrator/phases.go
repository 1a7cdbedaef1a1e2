package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"github.com/nidhogg/nuka-dispatch/internal/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scope identifies whose work a batch run is for.
type Scope struct {
	OrganizationID string         `json:"organization_id"`
	WorkflowID     string         `json:"workflow_id"`
	ObjectID       string         `json:"object_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PhaseResult is the outcome of one manifest in a phase run. Failures,
// including a manifest with no live worker, are reported here rather than
// as errors.
type PhaseResult struct {
	ManifestID   string         `json:"manifest_id"`
	ManifestName string         `json:"manifest_name"`
	PhaseID      string         `json:"phase_id"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Success      bool           `json:"success"`
	Data         any            `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// WorkflowRun collects the results of a full workflow run.
type WorkflowRun struct {
	WorkflowID string                   `json:"workflow_id"`
	Phases     []string                 `json:"phases"`
	Results    map[string][]PhaseResult `json:"results"`
	StartedAt  time.Time                `json:"started_at"`
	Duration   time.Duration            `json:"duration"`
}

// ExecutePhase runs every manifest of a phase against its live worker.
// Manifests run concurrently with isolated inputs. Only a missing workflow
// or phase is returned as an error.
func (o *Orchestrator) ExecutePhase(ctx context.Context, scope Scope, phaseID string) ([]PhaseResult, error) {
	manifests, err := o.source.Manifests(scope.WorkflowID, phaseID)
	if err != nil {
		return nil, fmt.Errorf("execute phase %s/%s: %w", scope.WorkflowID, phaseID, err)
	}

	timer := o.sink.StartTimer("phase.execute", map[string]any{
		"workflow_id": scope.WorkflowID,
		"phase_id":    phaseID,
		"manifests":   len(manifests),
	})

	results := make([]PhaseResult, len(manifests))
	var g errgroup.Group
	g.SetLimit(o.cfg.PoolSize)
	for i, m := range manifests {
		g.Go(func() error {
			results[i] = o.runManifest(ctx, scope, phaseID, m)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	o.sink.EndTimer(timer, map[string]any{"failed": failed})
	o.logger.Info("phase executed",
		zap.String("workflow", scope.WorkflowID),
		zap.String("phase", phaseID),
		zap.Int("manifests", len(manifests)),
		zap.Int("failed", failed))
	return results, nil
}

func (o *Orchestrator) runManifest(ctx context.Context, scope Scope, phaseID string, m workflow.Manifest) PhaseResult {
	r := PhaseResult{ManifestID: m.ID, ManifestName: m.Name, PhaseID: phaseID}

	w := o.findManifestWorker(scope, phaseID, m)
	if w == nil {
		r.Error = fmt.Sprintf("no live worker named %q for manifest %s in %s/%s (organization %s)",
			m.Name, m.ID, scope.WorkflowID, phaseID, scope.OrganizationID)
		o.logger.Warn("manifest has no worker",
			zap.String("manifest", m.ID),
			zap.String("name", m.Name))
		return r
	}
	r.WorkerID = w.ID

	md := copyMetadata(scope.Metadata)
	if md == nil {
		md = make(map[string]any)
	}
	md["manifest_id"] = m.ID
	md["manifest_name"] = m.Name
	if len(m.Config) > 0 {
		md["manifest_config"] = copyMetadata(m.Config)
	}
	in := models.Input{
		OrganizationID: scope.OrganizationID,
		WorkflowID:     scope.WorkflowID,
		PhaseID:        phaseID,
		ObjectID:       scope.ObjectID,
		Metadata:       md,
	}

	c := o.contribute(ctx, w, "", in)
	r.Success = c.Result.Success
	r.Data = c.Result.Data
	r.Error = c.Result.Error
	r.Duration = c.Duration
	return r
}

// findManifestWorker picks the live worker for a manifest: same
// organization and name, available, with no conflicting affinity. A worker
// whose affinity matches exactly wins over one with none declared.
func (o *Orchestrator) findManifestWorker(scope Scope, phaseID string, m workflow.Manifest) *worker.Worker {
	yes := true
	var fallback *worker.Worker
	for _, w := range o.dir.List(worker.Filter{OrganizationID: scope.OrganizationID, Available: &yes}) {
		if w.Name != m.Name {
			continue
		}
		if w.WorkflowID != "" && w.WorkflowID != scope.WorkflowID {
			continue
		}
		if w.PhaseID != "" && w.PhaseID != phaseID {
			continue
		}
		if w.WorkflowID == scope.WorkflowID && w.PhaseID == phaseID {
			return w
		}
		if fallback == nil {
			fallback = w
		}
	}
	return fallback
}

// ExecuteWorkflow runs every phase of the workflow in declared order. A
// phase that errors is recorded as a single failed result and the run
// continues. A missing workflow is returned as an error.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, scope Scope) (*WorkflowRun, error) {
	phases, err := o.source.Phases(scope.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("execute workflow %s: %w", scope.WorkflowID, err)
	}
	run := &WorkflowRun{
		WorkflowID: scope.WorkflowID,
		Phases:     phases,
		Results:    make(map[string][]PhaseResult, len(phases)),
		StartedAt:  o.now(),
	}
	timer := o.sink.StartTimer("workflow.execute", map[string]any{
		"workflow_id": scope.WorkflowID,
		"phases":      len(phases),
	})
	start := time.Now()
	for _, p := range phases {
		run.Results[p] = o.phaseOrFailure(ctx, scope, p)
	}
	run.Duration = time.Since(start)
	o.sink.EndTimer(timer, nil)
	return run, nil
}

// ExecuteParallelPhases runs the listed phases concurrently and joins them.
// Per-phase errors become failed results, as in ExecuteWorkflow.
func (o *Orchestrator) ExecuteParallelPhases(ctx context.Context, scope Scope, phaseIDs []string) (map[string][]PhaseResult, error) {
	out := make(map[string][]PhaseResult, len(phaseIDs))
	if len(phaseIDs) == 0 {
		return out, nil
	}
	if _, err := o.source.Phases(scope.WorkflowID); err != nil {
		return nil, fmt.Errorf("execute phases of %s: %w", scope.WorkflowID, err)
	}
	if len(phaseIDs) == 1 {
		out[phaseIDs[0]] = o.phaseOrFailure(ctx, scope, phaseIDs[0])
		return out, nil
	}

	results := make([][]PhaseResult, len(phaseIDs))
	var g errgroup.Group
	g.SetLimit(o.cfg.PoolSize)
	for i, p := range phaseIDs {
		g.Go(func() error {
			results[i] = o.phaseOrFailure(ctx, scope, p)
			return nil
		})
	}
	_ = g.Wait()
	for i, p := range phaseIDs {
		out[p] = results[i]
	}
	return out, nil
}

func (o *Orchestrator) phaseOrFailure(ctx context.Context, scope Scope, phaseID string) []PhaseResult {
	res, err := o.ExecutePhase(ctx, scope, phaseID)
	if err != nil {
		o.logger.Warn("phase failed", zap.String("phase", phaseID), zap.Error(err))
		return []PhaseResult{{
			ManifestID: phaseID,
			PhaseID:    phaseID,
			Error:      err.Error(),
		}}
	}
	return res
}
