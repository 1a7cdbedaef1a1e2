package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-dispatch/internal/capability"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a worker ID isn't registered.
	ErrNotFound = errors.New("worker not found")
	// ErrMissingCapabilities is returned when a worker lacks a required capability.
	ErrMissingCapabilities = errors.New("worker missing required capabilities")
	// ErrAtCapacity is returned when a worker has no free slot.
	ErrAtCapacity = errors.New("worker at capacity")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid worker status")
)

// Directory holds the live worker instances. All capacity mutation goes
// through its mutex so 0 ≤ CurrentCount ≤ MaxConcurrent holds under
// concurrent assignment.
type Directory struct {
	mu        sync.RWMutex
	workers   map[string]*Worker
	order     []string // registration order, used for stable tie-breaking
	catalog   *capability.Catalog
	templates map[string]Factory
	now       func() time.Time
	logger    *zap.Logger
}

// NewDirectory creates an empty directory. A nil catalog disables
// capability validation on Register.
func NewDirectory(catalog *capability.Catalog, logger *zap.Logger) *Directory {
	d := &Directory{
		workers:   make(map[string]*Worker),
		catalog:   catalog,
		templates: make(map[string]Factory),
		now:       time.Now,
		logger:    logger,
	}
	registerBuiltinTemplates(d)
	return d
}

// Catalog returns the capability catalog the directory validates against.
func (d *Directory) Catalog() *capability.Catalog { return d.catalog }

// Register adds w, or updates the entry with the same ID. A new worker is
// marked available; use SetAvailability to withdraw it. Updating an existing
// worker replaces its identity, capabilities, affinity, limit and executor
// but keeps its live load, availability, performance and creation time.
func (d *Directory) Register(w *Worker) *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.MaxConcurrent <= 0 {
		w.MaxConcurrent = 1
	}
	if w.CurrentCount < 0 {
		w.CurrentCount = 0
	}
	if w.CurrentCount > w.MaxConcurrent {
		w.CurrentCount = w.MaxConcurrent
	}
	statusGiven := w.Status.Valid()
	if !statusGiven {
		w.Status = StatusActive
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.Performance.LastActivity.IsZero() {
		w.Performance.LastActivity = now
	}
	if prev, exists := d.workers[w.ID]; exists {
		w.CurrentCount = prev.CurrentCount
		w.CurrentObjectID = prev.CurrentObjectID
		w.Performance = prev.Performance
		w.CreatedAt = prev.CreatedAt
		w.Available = prev.Available
		if !statusGiven {
			w.Status = prev.Status
		}
		// A lowered limit leaves the live count as is; the worker takes
		// no new work until it drains below the limit.
		switch {
		case !w.HasCapacity() && w.Status == StatusActive:
			w.Status = StatusBusy
		case w.HasCapacity() && w.Status == StatusBusy:
			w.Status = StatusActive
		}
	} else {
		w.Performance.recomputeSuccessRate()
		w.Available = true
	}
	w.UpdatedAt = now

	if d.catalog != nil {
		if unknown := d.catalog.Unknown(w.Capabilities); len(unknown) > 0 {
			d.logger.Warn("worker declares capabilities not in catalog",
				zap.String("worker", w.ID),
				zap.Strings("unknown", unknown))
		}
	}

	if _, exists := d.workers[w.ID]; !exists {
		d.order = append(d.order, w.ID)
	}
	d.workers[w.ID] = w.clone()
	d.logger.Info("registered worker",
		zap.String("id", w.ID),
		zap.String("name", w.Name),
		zap.String("org", w.OrganizationID))
	return w.clone()
}

// Unregister removes a worker. It reports whether an entry existed.
func (d *Directory) Unregister(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[id]; !ok {
		return false
	}
	delete(d.workers, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.logger.Info("unregistered worker", zap.String("id", id))
	return true
}

// Get returns a snapshot of the worker with the given ID.
func (d *Directory) Get(id string) (*Worker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[id]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// List returns snapshots of every worker matching f, in registration order.
func (d *Directory) List(f Filter) []*Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Worker
	for _, id := range d.order {
		w := d.workers[id]
		if f.Match(w) {
			out = append(out, w.clone())
		}
	}
	return out
}

// All returns a snapshot of every registered worker.
func (d *Directory) All() []*Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Worker, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.workers[id].clone())
	}
	return out
}

// FindBestMatch returns the highest scoring eligible worker, or nil when
// none qualifies. It does not reserve capacity.
func (d *Directory) FindBestMatch(c Criteria) *Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if best := d.bestLocked(c); best != nil {
		return best.clone()
	}
	return nil
}

func (d *Directory) bestLocked(c Criteria) *Worker {
	var candidates []*Worker
	for _, id := range d.order {
		if w := d.workers[id]; c.eligible(w) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return rank(candidates, d.now())[0].w
}

// ReserveBest finds the best match for c and takes one of its capacity
// slots in the same critical section. It returns nil when nothing matches.
func (d *Directory) ReserveBest(c Criteria, objectID string) *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.bestLocked(c)
	if w == nil {
		return nil
	}
	d.acquireLocked(w, objectID)
	return w.clone()
}

// Reserve takes a capacity slot on worker id, which must declare every
// capability in required.
func (d *Directory) Reserve(id string, required []string, objectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	if !ok {
		return fmt.Errorf("reserve %s: %w", id, ErrNotFound)
	}
	if err := checkTarget(w, required); err != nil {
		return err
	}
	d.acquireLocked(w, objectID)
	return nil
}

// Transfer moves one capacity slot from worker from (which may be empty)
// to worker to. Nothing changes unless to qualifies.
func (d *Directory) Transfer(from, to string, required []string, objectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.workers[to]
	if !ok {
		return fmt.Errorf("transfer to %s: %w", to, ErrNotFound)
	}
	if err := checkTarget(target, required); err != nil {
		return err
	}
	if prev, ok := d.workers[from]; ok && from != "" {
		d.releaseLocked(prev)
	}
	d.acquireLocked(target, objectID)
	return nil
}

func checkTarget(w *Worker, required []string) error {
	if !w.HasAll(required) {
		return fmt.Errorf("%w: %s has %v, needs %v", ErrMissingCapabilities, w.ID, w.Capabilities, required)
	}
	if !w.HasCapacity() {
		return fmt.Errorf("%w: %s is at %d/%d", ErrAtCapacity, w.ID, w.CurrentCount, w.MaxConcurrent)
	}
	return nil
}

func (d *Directory) acquireLocked(w *Worker, objectID string) {
	w.CurrentCount++
	w.CurrentObjectID = objectID
	if !w.HasCapacity() && w.Status == StatusActive {
		w.Status = StatusBusy
	}
	w.UpdatedAt = d.now()
}

// Release frees one capacity slot on worker id. The count never drops
// below zero. Unknown IDs are ignored.
func (d *Directory) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[id]; ok {
		d.releaseLocked(w)
	}
}

func (d *Directory) releaseLocked(w *Worker) {
	if w.CurrentCount > 0 {
		w.CurrentCount--
	}
	if w.CurrentCount == 0 {
		w.CurrentObjectID = ""
	}
	if w.Status == StatusBusy && w.HasCapacity() {
		w.Status = StatusActive
	}
	w.UpdatedAt = d.now()
}

// RecordOutcome counts a finished unit of work against worker id.
func (d *Directory) RecordOutcome(id string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	if !ok {
		d.logger.Warn("outcome for unknown worker", zap.String("worker", id))
		return
	}
	if success {
		w.Performance.TasksCompleted++
	} else {
		w.Performance.TasksFailed++
	}
	w.Performance.recomputeSuccessRate()
	w.Performance.LastActivity = d.now()
	w.UpdatedAt = w.Performance.LastActivity
}

// RecordPerformance folds a 0–100 score into the worker's running average.
// Unknown IDs are logged and ignored.
func (d *Directory) RecordPerformance(id string, score float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	if !ok {
		d.logger.Warn("performance for unknown worker", zap.String("worker", id))
		return
	}
	score = clamp(score, 0, 100)
	p := &w.Performance
	p.UsageCount++
	n := float64(p.UsageCount)
	p.AverageScore = (p.AverageScore*(n-1) + score) / n
	p.LastActivity = d.now()
}

// UpdateStatus sets a worker's operational status.
func (d *Directory) UpdateStatus(id string, s Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStatus, s)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	if !ok {
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	w.Status = s
	w.UpdatedAt = d.now()
	return nil
}

// SetAvailability toggles whether a worker may be matched.
func (d *Directory) SetAvailability(id string, available bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[id]
	if !ok {
		return fmt.Errorf("set availability %s: %w", id, ErrNotFound)
	}
	w.Available = available
	w.UpdatedAt = d.now()
	return nil
}

// Stats summarises the directory.
type Stats struct {
	Total              int            `json:"total"`
	Active             int            `json:"active"`
	ByType             map[string]int `json:"by_type"`
	ByStatus           map[Status]int `json:"by_status"`
	AverageSuccessRate float64        `json:"average_success_rate"`
}

// Stats returns counts by type and status and the mean success rate.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := Stats{
		ByType:   make(map[string]int),
		ByStatus: make(map[Status]int),
	}
	var rateSum float64
	for _, w := range d.workers {
		s.Total++
		if w.Status == StatusActive {
			s.Active++
		}
		s.ByType[w.Type]++
		s.ByStatus[w.Status]++
		rateSum += w.Performance.SuccessRate
	}
	if s.Total > 0 {
		s.AverageSuccessRate = rateSum / float64(s.Total)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
