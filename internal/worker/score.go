package worker

import (
	"math"
	"sort"
	"time"
)

// Criteria describes the work a best-match lookup is for.
type Criteria struct {
	Capabilities   []string
	OrganizationID string
	PhaseID        string
	WorkflowID     string
}

// eligible reports whether w may be matched against c. Workers that declare
// no phase or workflow affinity are never excluded by it.
func (c *Criteria) eligible(w *Worker) bool {
	if w.OrganizationID != c.OrganizationID {
		return false
	}
	if !w.Available || !w.HasCapacity() {
		return false
	}
	if !w.HasAll(c.Capabilities) {
		return false
	}
	if c.PhaseID != "" && w.PhaseID != "" && w.PhaseID != c.PhaseID {
		return false
	}
	if c.WorkflowID != "" && w.WorkflowID != "" && w.WorkflowID != c.WorkflowID {
		return false
	}
	return true
}

// Score weights recorded performance, free capacity, success rate and
// recency of activity into a 0–100 figure.
func Score(w *Worker, now time.Time) float64 {
	headroom := 0.0
	if w.MaxConcurrent > 0 {
		headroom = 100 * (1 - float64(w.CurrentCount)/float64(w.MaxConcurrent))
	}
	return 0.40*w.Performance.AverageScore +
		0.30*headroom +
		0.20*w.Performance.SuccessRate +
		0.10*recencyScore(w.Performance.LastActivity, now)
}

func recencyScore(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	days := now.Sub(last).Hours() / 24
	return math.Max(0, 100-10*days)
}

type scored struct {
	w     *Worker
	score float64
}

// rank orders candidates by descending score, keeping input order on ties.
func rank(candidates []*Worker, now time.Time) []scored {
	out := make([]scored, len(candidates))
	for i, w := range candidates {
		out[i] = scored{w: w, score: Score(w, now)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}
