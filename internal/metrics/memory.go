package metrics

import (
	"sync"
	"time"
)

// WorkerCounters are the per-worker totals kept by Memory.
type WorkerCounters struct {
	Name      string        `json:"name"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Total     time.Duration `json:"total_duration"`
}

// Snapshot is a point-in-time copy of Memory's counters.
type Snapshot struct {
	QueueDepth int                       `json:"queue_depth"`
	Tasks      map[string]int            `json:"tasks"`
	Workers    map[string]WorkerCounters `json:"workers"`
	Timings    map[string]int            `json:"timings"`
	LastTiming map[string]time.Duration  `json:"last_timing"`
}

// Memory keeps counters in process. It backs the metrics endpoint and tests.
type Memory struct {
	mu         sync.Mutex
	queueDepth int
	tasks      map[string]int
	workers    map[string]WorkerCounters
	timings    map[string]int
	lastTiming map[string]time.Duration
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]int),
		workers:    make(map[string]WorkerCounters),
		timings:    make(map[string]int),
		lastTiming: make(map[string]time.Duration),
	}
}

func (m *Memory) StartTimer(op string, md map[string]any) *Timer {
	return begin(op, md)
}

func (m *Memory) EndTimer(t *Timer, extra map[string]any) Timing {
	tm := finish(t, extra)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[tm.Operation]++
	m.lastTiming[tm.Operation] = tm.Duration
	return tm
}

func (m *Memory) RecordTaskOutcome(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[status]++
}

func (m *Memory) RecordWorkerOutcome(id, name string, success bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.workers[id]
	c.Name = name
	if success {
		c.Succeeded++
	} else {
		c.Failed++
	}
	c.Total += d
	m.workers[id] = c
}

func (m *Memory) SetQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = n
}

// Snapshot copies the current counters.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		QueueDepth: m.queueDepth,
		Tasks:      make(map[string]int, len(m.tasks)),
		Workers:    make(map[string]WorkerCounters, len(m.workers)),
		Timings:    make(map[string]int, len(m.timings)),
		LastTiming: make(map[string]time.Duration, len(m.lastTiming)),
	}
	for k, v := range m.tasks {
		s.Tasks[k] = v
	}
	for k, v := range m.workers {
		s.Workers[k] = v
	}
	for k, v := range m.timings {
		s.Timings[k] = v
	}
	for k, v := range m.lastTiming {
		s.LastTiming[k] = v
	}
	return s
}
