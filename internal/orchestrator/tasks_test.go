package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/models"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
)

func createTask(t *testing.T, o *Orchestrator, typ string, p models.Priority, caps ...string) *models.Task {
	t.Helper()
	task, err := o.CreateTask(TaskRequest{
		Type:                 typ,
		ObjectID:             "obj_1",
		OrganizationID:       "org_1",
		RequiredCapabilities: caps,
		Priority:             p,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestQueuePriorityOrder(t *testing.T) {
	h := newHarness(t, Config{})
	createTask(t, h.orch, "low", models.PriorityLow)
	createTask(t, h.orch, "urgent", models.PriorityUrgent)
	createTask(t, h.orch, "medium", models.PriorityMedium)
	createTask(t, h.orch, "high", models.PriorityHigh)
	createTask(t, h.orch, "high2", models.PriorityHigh)

	want := []string{"urgent", "high", "high2", "medium", "low"}
	q := h.orch.Queue()
	if len(q) != len(want) {
		t.Fatalf("queue length = %d, want %d", len(q), len(want))
	}
	for i, task := range q {
		if task.Type != want[i] {
			t.Fatalf("queue[%d] = %s, want %s", i, task.Type, want[i])
		}
	}
	if got := h.sink.Snapshot().QueueDepth; got != 5 {
		t.Fatalf("queue depth metric = %d, want 5", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	h := newHarness(t, Config{})
	cases := []TaskRequest{
		{OrganizationID: "org_1"},
		{Type: "research_lead"},
		{Type: "research_lead", OrganizationID: "org_1", Priority: "critical"},
	}
	for _, req := range cases {
		if _, err := h.orch.CreateTask(req); !errors.Is(err, ErrPrecondition) {
			t.Fatalf("CreateTask(%+v) err = %v, want ErrPrecondition", req, err)
		}
	}

	task, err := h.orch.CreateTask(TaskRequest{Type: "research_lead", OrganizationID: "org_1", ObjectID: "obj_9"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Priority != models.PriorityMedium || task.Status != models.TaskPending {
		t.Fatalf("defaults not applied: %+v", task)
	}
	if task.Context.OrganizationID != "org_1" || task.Context.ObjectID != "obj_9" {
		t.Fatalf("context ids not filled: %+v", task.Context)
	}
}

func TestResearchLeadScenario(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, succeed(map[string]any{"lead": "Acme"}))
	h.register("W2", "outreacher", []string{"outreach"}, 1, succeed(nil))

	task := createTask(t, h.orch, "research_lead", models.PriorityHigh, "research")
	a, err := h.orch.AssignTask(task.ID)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if a == nil || a.Worker.ID != "W1" {
		t.Fatalf("assignment = %+v, want W1", a)
	}
	if a.Task.Status != models.TaskInProgress {
		t.Fatalf("status = %s", a.Task.Status)
	}
	if w := h.worker(t, "W1"); w.CurrentCount != 1 || w.CurrentObjectID != "obj_1" {
		t.Fatalf("W1 not reserved: %+v", w)
	}

	done, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if done.Status != models.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", done)
	}
	if result, _ := done.Result.(map[string]any); result["lead"] != "Acme" {
		t.Fatalf("result = %v", done.Result)
	}
	w1 := h.worker(t, "W1")
	if w1.CurrentCount != 0 {
		t.Fatalf("W1 count = %d, want 0", w1.CurrentCount)
	}
	if w1.Performance.TasksCompleted != 1 {
		t.Fatalf("W1 tasks completed = %d, want 1", w1.Performance.TasksCompleted)
	}
	if w1.Performance.UsageCount != 1 || w1.Performance.AverageScore != 100 {
		t.Fatalf("W1 performance = %+v", w1.Performance)
	}
	if w2 := h.worker(t, "W2"); w2.CurrentCount != 0 || w2.Performance.TasksCompleted != 0 {
		t.Fatalf("W2 touched: %+v", w2)
	}
	if got := h.sink.Snapshot().Tasks["completed"]; got != 1 {
		t.Fatalf("completed metric = %d, want 1", got)
	}
}

func TestAssignTaskNoMatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W2", "outreacher", []string{"outreach"}, 1, succeed(nil))
	task := createTask(t, h.orch, "research_lead", models.PriorityHigh, "research")

	a, err := h.orch.AssignTask(task.ID)
	if err != nil || a != nil {
		t.Fatalf("AssignTask = %+v, %v; want nil, nil", a, err)
	}
	got, _ := h.orch.GetTask(task.ID)
	if got.Status != models.TaskPending || got.AssignedWorkerID != "" {
		t.Fatalf("task changed: %+v", got)
	}
	if len(h.orch.Queue()) != 1 {
		t.Fatal("task left the queue")
	}
	if _, err := h.orch.AssignTask("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestExecuteFailureCountsOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, failWith("upstream unavailable"))
	task := createTask(t, h.orch, "research_lead", models.PriorityMedium, "research")
	if _, err := h.orch.AssignTask(task.ID); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	out, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if out == nil || out.Status != models.TaskFailed || out.Error != "upstream unavailable" {
		t.Fatalf("task = %+v", out)
	}
	w := h.worker(t, "W1")
	if w.Performance.TasksFailed != 1 || w.Performance.TasksCompleted != 0 {
		t.Fatalf("performance = %+v", w.Performance)
	}
	if w.CurrentCount != 0 {
		t.Fatalf("count = %d, want 0", w.CurrentCount)
	}
	snap := h.sink.Snapshot()
	if snap.Tasks["failed"] != 1 || snap.Workers["W1"].Failed != 1 {
		t.Fatalf("metrics = %+v", snap)
	}

	if _, err := h.orch.ExecuteTask(context.Background(), task.ID); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("re-execute err = %v, want ErrPrecondition", err)
	}
}

func TestExecuteUnassigned(t *testing.T) {
	h := newHarness(t, Config{})
	task := createTask(t, h.orch, "research_lead", models.PriorityMedium, "research")
	_, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, ErrNotAssigned) || !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrNotAssigned", err)
	}
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, worker.ExecutorFunc(func(context.Context, models.Input) (*models.Result, error) {
		panic("boom")
	}))
	task := createTask(t, h.orch, "research_lead", models.PriorityMedium, "research")
	h.orch.AssignTask(task.ID)

	out, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("err = %v", err)
	}
	if out.Status != models.TaskFailed {
		t.Fatalf("status = %s", out.Status)
	}
	if h.worker(t, "W1").CurrentCount != 0 {
		t.Fatal("capacity not released after panic")
	}
}

func TestExecuteTimeout(t *testing.T) {
	h := newHarness(t, Config{ExecuteTimeout: 20 * time.Millisecond})
	h.register("W1", "researcher", []string{"research"}, 1, worker.ExecutorFunc(func(ctx context.Context, _ models.Input) (*models.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	task := createTask(t, h.orch, "research_lead", models.PriorityMedium, "research")
	h.orch.AssignTask(task.ID)

	out, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if out.Status != models.TaskFailed {
		t.Fatalf("status = %s", out.Status)
	}
}

func TestCancelTask(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, succeed(nil))

	pending := createTask(t, h.orch, "a", models.PriorityMedium, "research")
	out, err := h.orch.CancelTask(pending.ID, "duplicate")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if out.Status != models.TaskCancelled || out.Metadata["cancel_reason"] != "duplicate" {
		t.Fatalf("task = %+v", out)
	}
	if len(h.orch.Queue()) != 0 {
		t.Fatal("cancelled task still queued")
	}

	running := createTask(t, h.orch, "b", models.PriorityMedium, "research")
	h.orch.AssignTask(running.ID)
	if _, err := h.orch.CancelTask(running.ID, "stop"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if h.worker(t, "W1").CurrentCount != 0 {
		t.Fatal("capacity not released on cancel")
	}

	_, err = h.orch.CancelTask(running.ID, "again")
	if !errors.Is(err, ErrPrecondition) || !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition precondition", err)
	}
}

func TestCancelDuringExecutionKeepsCapacity(t *testing.T) {
	h := newHarness(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.register("W1", "researcher", []string{"research"}, 2, worker.ExecutorFunc(func(context.Context, models.Input) (*models.Result, error) {
		close(started)
		<-release
		return &models.Result{Success: true}, nil
	}))

	t1 := createTask(t, h.orch, "t1", models.PriorityHigh, "research")
	t2 := createTask(t, h.orch, "t2", models.PriorityLow, "research")
	h.orch.AssignTask(t1.ID)
	h.orch.AssignTask(t2.ID)
	if h.worker(t, "W1").CurrentCount != 2 {
		t.Fatal("both tasks should hold a slot")
	}

	type outcome struct {
		task *models.Task
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		task, err := h.orch.ExecuteTask(context.Background(), t1.ID)
		done <- outcome{task, err}
	}()
	<-started
	if _, err := h.orch.CancelTask(t1.ID, "superseded"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	close(release)
	res := <-done

	if res.err != nil {
		t.Fatalf("ExecuteTask: %v", res.err)
	}
	if res.task.Status != models.TaskCancelled {
		t.Fatalf("status = %s, want cancelled", res.task.Status)
	}
	w := h.worker(t, "W1")
	if w.CurrentCount != 1 {
		t.Fatalf("count = %d, want 1 (t2 still holds a slot)", w.CurrentCount)
	}
	if p := w.Performance; p.TasksCompleted != 0 || p.TasksFailed != 0 || p.UsageCount != 0 {
		t.Fatalf("cancelled run credited to worker: %+v", p)
	}
}

func TestReRegisterKeepsAssignedCapacity(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, succeed(nil))

	a := createTask(t, h.orch, "a", models.PriorityHigh, "research")
	if got, err := h.orch.AssignTask(a.ID); err != nil || got == nil {
		t.Fatalf("first assign = %v, %v", got, err)
	}

	h.register("W1", "researcher", []string{"research"}, 1, succeed(nil))

	b := createTask(t, h.orch, "b", models.PriorityHigh, "research")
	got, err := h.orch.AssignTask(b.ID)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if got != nil {
		t.Fatalf("second task assigned to %s beyond its limit", got.Worker.ID)
	}
	if n := len(h.orch.ListTasks(TaskQuery{WorkerID: "W1", Status: models.TaskInProgress})); n != 1 {
		t.Fatalf("in-flight tasks on W1 = %d, want 1", n)
	}

	if _, err := h.orch.ExecuteTask(context.Background(), a.ID); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if got := h.worker(t, "W1").CurrentCount; got != 0 {
		t.Fatalf("count after completion = %d", got)
	}
	if got, _ := h.orch.AssignTask(b.ID); got == nil {
		t.Fatal("second task should fit once the first finished")
	}
}

func TestHandoffToFullWorker(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W2", "second", []string{"research"}, 1, succeed(nil))
	h.register("W1", "first", []string{"research"}, 1, succeed(nil))

	b := createTask(t, h.orch, "b", models.PriorityHigh, "research")
	if a, _ := h.orch.AssignTask(b.ID); a == nil || a.Worker.ID != "W2" {
		t.Fatalf("b assignment = %+v, want W2", a)
	}
	a := createTask(t, h.orch, "a", models.PriorityHigh, "research")
	if asg, _ := h.orch.AssignTask(a.ID); asg == nil || asg.Worker.ID != "W1" {
		t.Fatalf("a assignment = %+v, want W1", asg)
	}

	_, err := h.orch.HandoffTask(a.ID, "W2", "rebalance")
	if !errors.Is(err, ErrPrecondition) || !errors.Is(err, worker.ErrAtCapacity) {
		t.Fatalf("err = %v, want precondition at capacity", err)
	}
	got, _ := h.orch.GetTask(a.ID)
	if got.AssignedWorkerID != "W1" || got.Status != models.TaskInProgress {
		t.Fatalf("task changed: %+v", got)
	}
	if h.worker(t, "W1").CurrentCount != 1 || h.worker(t, "W2").CurrentCount != 1 {
		t.Fatal("capacities changed")
	}
}

func TestHandoffTransfersCapacity(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "first", []string{"research"}, 1, succeed(nil))
	h.register("W2", "second", []string{"research", "outreach"}, 1, succeed(map[string]any{"by": "W2"}))
	h.register("W3", "third", []string{"outreach"}, 1, succeed(nil))

	task := createTask(t, h.orch, "a", models.PriorityHigh, "research")
	h.orch.AssignTask(task.ID)

	if _, err := h.orch.HandoffTask(task.ID, "W3", "x"); !errors.Is(err, worker.ErrMissingCapabilities) {
		t.Fatalf("err = %v, want ErrMissingCapabilities", err)
	}
	if _, err := h.orch.HandoffTask(task.ID, "nobody", "x"); !errors.Is(err, worker.ErrNotFound) {
		t.Fatalf("err = %v, want worker.ErrNotFound", err)
	}
	if _, err := h.orch.HandoffTask(task.ID, "W1", "x"); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}

	out, err := h.orch.HandoffTask(task.ID, "W2", "specialist needed")
	if err != nil {
		t.Fatalf("HandoffTask: %v", err)
	}
	if out.ID != task.ID || out.AssignedWorkerID != "W2" {
		t.Fatalf("task = %+v", out)
	}
	if out.Metadata["handoff_from"] != "W1" || out.Metadata["handoff_reason"] != "specialist needed" {
		t.Fatalf("metadata = %v", out.Metadata)
	}
	if h.worker(t, "W1").CurrentCount != 0 || h.worker(t, "W2").CurrentCount != 1 {
		t.Fatal("capacity not transferred")
	}

	done, err := h.orch.ExecuteTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if result, _ := done.Result.(map[string]any); result["by"] != "W2" || h.worker(t, "W2").CurrentCount != 0 {
		t.Fatalf("handed-off task ran wrong: %+v", done)
	}
}

func TestHandoffPendingTask(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "first", []string{"research"}, 1, succeed(nil))
	task := createTask(t, h.orch, "a", models.PriorityHigh, "research")

	out, err := h.orch.HandoffTask(task.ID, "W1", "direct")
	if err != nil {
		t.Fatalf("HandoffTask: %v", err)
	}
	if out.Status != models.TaskInProgress || len(h.orch.Queue()) != 0 {
		t.Fatalf("pending handoff not dispatched: %+v", out)
	}
	if _, ok := out.Metadata["handoff_from"]; ok {
		t.Fatal("pending task has no previous worker")
	}
}

func TestConcurrentAssignmentRespectsCapacity(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 3, succeed(nil))

	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, createTask(t, h.orch, "t", models.PriorityMedium, "research").ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			a, err := h.orch.AssignTask(id)
			if err != nil {
				t.Errorf("AssignTask: %v", err)
				return
			}
			if a != nil {
				mu.Lock()
				assigned++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if assigned != 3 {
		t.Fatalf("assigned = %d, want 3", assigned)
	}
	if got := h.worker(t, "W1").CurrentCount; got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	if got := len(h.orch.Queue()); got != 17 {
		t.Fatalf("queue = %d, want 17", got)
	}
}

func TestListTasksAndStats(t *testing.T) {
	h := newHarness(t, Config{})
	h.register("W1", "researcher", []string{"research"}, 1, succeed(nil))
	first := createTask(t, h.orch, "a", models.PriorityLow, "research")
	createTask(t, h.orch, "b", models.PriorityUrgent, "outreach")
	h.orch.AssignTask(first.ID)
	h.orch.ExecuteTask(context.Background(), first.ID)

	all := h.orch.ListTasks(TaskQuery{})
	if len(all) != 2 || all[0].ID != first.ID {
		t.Fatalf("ListTasks should keep creation order: %+v", all)
	}
	if got := h.orch.ListTasks(TaskQuery{WorkerID: "W1"}); len(got) != 1 {
		t.Fatalf("by worker = %d, want 1", len(got))
	}
	if got := h.orch.ListTasks(TaskQuery{Status: models.TaskPending}); len(got) != 1 || got[0].Type != "b" {
		t.Fatalf("by status = %+v", got)
	}

	s := h.orch.Stats()
	if s.TotalTasks != 2 || s.QueueLength != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByStatus[models.TaskCompleted] != 1 || s.ByPriority[models.PriorityUrgent] != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
