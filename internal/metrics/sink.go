// Package metrics defines the write-only observability sink the orchestrator
// reports timings and outcome counters to, along with its implementations.
package metrics

import "time"

// Sink receives timing and counter events. Implementations must not block
// the caller on backend failures.
type Sink interface {
	StartTimer(operation string, metadata map[string]any) *Timer
	EndTimer(t *Timer, extra map[string]any) Timing
	RecordTaskOutcome(status string, duration time.Duration)
	RecordWorkerOutcome(workerID, workerName string, success bool, duration time.Duration)
	SetQueueDepth(n int)
}

// Timer is the handle returned by StartTimer.
type Timer struct {
	Operation string
	Metadata  map[string]any
	start     time.Time
	subs      []*Timer
}

// Timing is a finished timer.
type Timing struct {
	Operation string         `json:"operation"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// begin and finish are shared by every sink so timings look the same
// regardless of backend.
func begin(operation string, metadata map[string]any) *Timer {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Timer{Operation: operation, Metadata: md, start: time.Now()}
}

func finish(t *Timer, extra map[string]any) Timing {
	if t == nil {
		return Timing{Timestamp: time.Now()}
	}
	md := make(map[string]any, len(t.Metadata)+len(extra))
	for k, v := range t.Metadata {
		md[k] = v
	}
	for k, v := range extra {
		md[k] = v
	}
	now := time.Now()
	return Timing{
		Operation: t.Operation,
		Duration:  now.Sub(t.start),
		Timestamp: now,
		Metadata:  md,
	}
}

// Nop discards every event.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) StartTimer(op string, md map[string]any) *Timer { return begin(op, md) }
func (Nop) EndTimer(t *Timer, extra map[string]any) Timing { return finish(t, extra) }
func (Nop) RecordTaskOutcome(string, time.Duration)        {}
func (Nop) SetQueueDepth(int)                              {}

func (Nop) RecordWorkerOutcome(string, string, bool, time.Duration) {}

// Multi fans every event out to several sinks. The timing returned by
// EndTimer comes from the first sink.
type Multi []Sink

var _ Sink = Multi(nil)

// StartTimer implements Sink.
func (m Multi) StartTimer(op string, md map[string]any) *Timer {
	t := begin(op, md)
	t.subs = make([]*Timer, len(m))
	for i, s := range m {
		t.subs[i] = s.StartTimer(op, md)
	}
	return t
}

// EndTimer implements Sink.
func (m Multi) EndTimer(t *Timer, extra map[string]any) Timing {
	if len(m) == 0 {
		return finish(t, extra)
	}
	var first Timing
	for i, s := range m {
		var sub *Timer
		if t != nil && i < len(t.subs) {
			sub = t.subs[i]
		}
		tm := s.EndTimer(sub, extra)
		if i == 0 {
			first = tm
		}
	}
	return first
}

func (m Multi) RecordTaskOutcome(status string, d time.Duration) {
	for _, s := range m {
		s.RecordTaskOutcome(status, d)
	}
}

func (m Multi) RecordWorkerOutcome(id, name string, success bool, d time.Duration) {
	for _, s := range m {
		s.RecordWorkerOutcome(id, name, success, d)
	}
}

func (m Multi) SetQueueDepth(n int) {
	for _, s := range m {
		s.SetQueueDepth(n)
	}
}
