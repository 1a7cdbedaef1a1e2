// Package orchestrator turns declared work into executed results: it queues
// tasks by priority, assigns them to the best matching worker, executes and
// hands them off, runs multi-worker collaborations, and drives phase and
// workflow batch execution from the workflow configuration source.
//
// Two execution paths coexist. The task path (CreateTask, AssignTask,
// ExecuteTask) holds worker capacity for the lifetime of an assignment.
// The batch path (ExecutePhase, ExecuteWorkflow, ExecuteParallelPhases)
// runs manifests straight from the workflow source and never touches the
// task queue.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/metrics"
	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"github.com/nidhogg/nuka-dispatch/internal/workflow"
	"go.uber.org/zap"
)

var (
	// ErrTaskNotFound is returned for an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrCollaborationNotFound is returned for an unknown collaboration ID.
	ErrCollaborationNotFound = errors.New("collaboration not found")
	// ErrPrecondition is returned when an operation isn't allowed in the
	// current state.
	ErrPrecondition = errors.New("precondition violated")
	// ErrNotAssigned is returned when executing a task with no worker.
	ErrNotAssigned = fmt.Errorf("%w: task has no assigned worker", ErrPrecondition)
	// ErrExecutionFailed wraps a worker's reported or raised failure.
	ErrExecutionFailed = errors.New("execution failed")
)

// Config tunes the orchestrator.
type Config struct {
	// PoolSize bounds concurrent worker invocations. Defaults to 10.
	PoolSize int
	// ExecuteTimeout caps each worker invocation. Zero means no deadline.
	ExecuteTimeout time.Duration
}

// Orchestrator owns tasks and collaborations. Create one per process with New.
type Orchestrator struct {
	dir      *worker.Directory
	source   workflow.Source
	sink     metrics.Sink
	archiver Archiver
	cfg      Config
	pool     chan struct{} // semaphore-based pool

	mu          sync.RWMutex
	tasks       map[string]*models.Task
	taskOrder   []string
	queue       []string // pending task IDs, priority sorted
	collabs     map[string]*models.Collaboration
	collabOrder []string
	running     map[string]struct{} // collaborations mid-execution

	now    func() time.Time
	logger *zap.Logger
}

// New creates an orchestrator. A nil sink discards metrics; a nil source
// makes every batch call fail with workflow.ErrWorkflowNotFound.
func New(dir *worker.Directory, source workflow.Source, sink metrics.Sink, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if source == nil {
		source, _ = workflow.NewStatic(nil)
	}
	return &Orchestrator{
		dir:     dir,
		source:  source,
		sink:    sink,
		cfg:     cfg,
		pool:    make(chan struct{}, cfg.PoolSize),
		tasks:   make(map[string]*models.Task),
		collabs: make(map[string]*models.Collaboration),
		running: make(map[string]struct{}),
		now:     time.Now,
		logger:  logger,
	}
}

// SetArchiver installs the store pruned records are handed to.
func (o *Orchestrator) SetArchiver(a Archiver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archiver = a
}

// Directory returns the worker directory the orchestrator assigns from.
func (o *Orchestrator) Directory() *worker.Directory { return o.dir }
