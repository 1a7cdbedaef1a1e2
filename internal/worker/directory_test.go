package worker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/capability"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(capability.Default(), zap.NewNop())
	d.now = func() time.Time { return testNow }
	return d
}

func TestRegisterDefaults(t *testing.T) {
	d := newTestDirectory(t)
	w := d.Register(&Worker{Name: "scout", OrganizationID: "org_1"})
	if w.ID == "" {
		t.Fatal("expected generated ID")
	}
	if w.MaxConcurrent != 1 || !w.Available || w.Status != StatusActive {
		t.Fatalf("defaults not applied: %+v", w)
	}
	if !w.Performance.LastActivity.Equal(testNow) {
		t.Fatalf("last activity = %v", w.Performance.LastActivity)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1"})
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", Name: "renamed"})
	if n := len(d.All()); n != 1 {
		t.Fatalf("got %d workers, want 1", n)
	}
	w, _ := d.Get("w1")
	if w.Name != "renamed" {
		t.Fatalf("name = %q", w.Name)
	}
}

func TestReRegisterKeepsLiveState(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", Capabilities: []string{"research"}, MaxConcurrent: 1})
	if err := d.Reserve("w1", nil, "obj_1"); err != nil {
		t.Fatal(err)
	}
	d.RecordOutcome("w1", true)
	d.SetAvailability("w1", false)
	before, _ := d.Get("w1")

	d.now = func() time.Time { return testNow.Add(time.Hour) }
	d.Register(&Worker{ID: "w1", Name: "renamed", OrganizationID: "org_1", Capabilities: []string{"research", "analysis"}, MaxConcurrent: 1})

	w, _ := d.Get("w1")
	if w.Name != "renamed" || len(w.Capabilities) != 2 {
		t.Fatalf("identity not updated: %+v", w)
	}
	if w.CurrentCount != 1 || w.CurrentObjectID != "obj_1" {
		t.Fatalf("live load lost: count=%d object=%q", w.CurrentCount, w.CurrentObjectID)
	}
	if w.Available {
		t.Fatal("availability reset by re-register")
	}
	if w.Performance.TasksCompleted != before.Performance.TasksCompleted || !w.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("performance or created_at reset: %+v", w)
	}
	if w.Status != StatusBusy {
		t.Fatalf("status = %s, want busy", w.Status)
	}
	if err := d.Reserve("w1", nil, "obj_2"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("reserve after re-register: got %v, want ErrAtCapacity", err)
	}
}

func TestReRegisterLowerLimitKeepsCount(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", MaxConcurrent: 3})
	for i := 0; i < 2; i++ {
		if err := d.Reserve("w1", nil, "obj"); err != nil {
			t.Fatal(err)
		}
	}
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", MaxConcurrent: 1})

	w, _ := d.Get("w1")
	if w.CurrentCount != 2 || w.MaxConcurrent != 1 || w.HasCapacity() {
		t.Fatalf("after lowering limit: count=%d max=%d", w.CurrentCount, w.MaxConcurrent)
	}
	d.Release("w1")
	d.Release("w1")
	w, _ = d.Get("w1")
	if w.CurrentCount != 0 || !w.HasCapacity() || w.Status != StatusActive {
		t.Fatalf("after draining: %+v", w)
	}
}

func TestUnregister(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1"})
	if !d.Unregister("w1") {
		t.Fatal("first unregister should report existing entry")
	}
	if d.Unregister("w1") {
		t.Fatal("second unregister should report no entry")
	}
	if _, ok := d.Get("w1"); ok {
		t.Fatal("worker still present")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", Capabilities: []string{"research"}})
	w, _ := d.Get("w1")
	w.CurrentCount = 99
	w.Capabilities[0] = "outreach"
	again, _ := d.Get("w1")
	if again.CurrentCount != 0 || again.Capabilities[0] != "research" {
		t.Fatal("snapshot mutation leaked into directory")
	}
}

func TestListFilter(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "a", Type: "research", OrganizationID: "org_1", PhaseID: "discovery", Capabilities: []string{"research"}})
	d.Register(&Worker{ID: "b", Type: "outreach", OrganizationID: "org_1", Capabilities: []string{"outreach", "scheduling"}})
	d.Register(&Worker{ID: "c", Type: "research", OrganizationID: "org_2", Capabilities: []string{"research"}})
	_ = d.SetAvailability("b", false)

	got := d.List(Filter{OrganizationID: "org_1"})
	if len(got) != 2 {
		t.Fatalf("org filter: got %d, want 2", len(got))
	}

	got = d.List(Filter{OrganizationID: "org_1", Capabilities: []string{"scheduling", "analysis"}})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("capability overlap filter: %v", ids(got))
	}

	yes := true
	got = d.List(Filter{OrganizationID: "org_1", Available: &yes})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("availability filter: %v", ids(got))
	}

	got = d.List(Filter{OrganizationID: "org_1", PhaseID: "discovery", Types: []string{"research"}})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("phase+type filter: %v", ids(got))
	}

	after := testNow.Add(time.Hour)
	if got = d.List(Filter{OrganizationID: "org_1", CreatedAfter: &after}); len(got) != 0 {
		t.Fatalf("created-after filter: %v", ids(got))
	}

	got = d.List(Filter{OrganizationID: "org_1", Statuses: []Status{StatusMaintenance}})
	if len(got) != 0 {
		t.Fatalf("status filter: %v", ids(got))
	}
}

func TestFindBestMatchExcludesFullCapacity(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "star", OrganizationID: "org_1", Capabilities: []string{"research"}, MaxConcurrent: 1})
	d.Register(&Worker{ID: "plain", OrganizationID: "org_1", Capabilities: []string{"research"}, MaxConcurrent: 1})
	for i := 0; i < 5; i++ {
		d.RecordPerformance("star", 100)
	}
	c := Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1"}

	if best := d.FindBestMatch(c); best == nil || best.ID != "star" {
		t.Fatalf("best = %v, want star", best)
	}
	if err := d.Reserve("star", nil, "obj"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if best := d.FindBestMatch(c); best == nil || best.ID != "plain" {
		t.Fatalf("best after filling star = %v, want plain", best)
	}
}

func TestFindBestMatchRequiresAllCapabilities(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", Capabilities: []string{"research"}})
	c := Criteria{Capabilities: []string{"research", "outreach"}, OrganizationID: "org_1"}
	if best := d.FindBestMatch(c); best != nil {
		t.Fatalf("expected no match, got %s", best.ID)
	}
}

func TestFindBestMatchAffinity(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "pinned", OrganizationID: "org_1", PhaseID: "engagement", Capabilities: []string{"research"}})
	d.Register(&Worker{ID: "floating", OrganizationID: "org_1", Capabilities: []string{"research"}})
	d.RecordPerformance("pinned", 100)

	best := d.FindBestMatch(Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1", PhaseID: "discovery"})
	if best == nil || best.ID != "floating" {
		t.Fatalf("best = %v, want floating", best)
	}
	best = d.FindBestMatch(Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1", PhaseID: "engagement"})
	if best == nil || best.ID != "pinned" {
		t.Fatalf("best = %v, want pinned", best)
	}
}

func TestFindBestMatchSkipsUnavailableAndOtherOrgs(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "away", OrganizationID: "org_1", Capabilities: []string{"research"}})
	d.Register(&Worker{ID: "foreign", OrganizationID: "org_2", Capabilities: []string{"research"}})
	_ = d.SetAvailability("away", false)
	if best := d.FindBestMatch(Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1"}); best != nil {
		t.Fatalf("expected none, got %s", best.ID)
	}
}

func TestFindBestMatchTieKeepsRegistrationOrder(t *testing.T) {
	d := newTestDirectory(t)
	for _, id := range []string{"first", "second", "third"} {
		d.Register(&Worker{ID: id, OrganizationID: "org_1", Capabilities: []string{"research"}})
	}
	best := d.FindBestMatch(Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1"})
	if best == nil || best.ID != "first" {
		t.Fatalf("best = %v, want first", best)
	}
}

func TestScoreFormula(t *testing.T) {
	w := &Worker{
		MaxConcurrent: 4,
		CurrentCount:  1,
		Performance: Performance{
			AverageScore: 80,
			SuccessRate:  50,
			LastActivity: testNow.Add(-48 * time.Hour),
		},
	}
	// 0.4*80 + 0.3*75 + 0.2*50 + 0.1*80
	want := 32 + 22.5 + 10 + 8.0
	if got := Score(w, testNow); got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("Score = %v, want %v", got, want)
	}

	w.Performance.LastActivity = testNow.Add(-30 * 24 * time.Hour)
	if r := recencyScore(w.Performance.LastActivity, testNow); r != 0 {
		t.Fatalf("recency for stale worker = %v, want 0", r)
	}
}

func TestRecordPerformanceRunningAverage(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1"})
	d.RecordPerformance("w1", 100)
	d.RecordPerformance("w1", 0)
	d.RecordPerformance("w1", 50)
	w, _ := d.Get("w1")
	if w.Performance.UsageCount != 3 {
		t.Fatalf("usage = %d", w.Performance.UsageCount)
	}
	if w.Performance.AverageScore != 50 {
		t.Fatalf("avg = %v, want 50", w.Performance.AverageScore)
	}
	d.RecordPerformance("ghost", 100)
}

func TestRecordOutcomeSuccessRate(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1"})
	w, _ := d.Get("w1")
	if w.Performance.SuccessRate != 0 {
		t.Fatalf("fresh success rate = %v", w.Performance.SuccessRate)
	}
	d.RecordOutcome("w1", true)
	d.RecordOutcome("w1", true)
	d.RecordOutcome("w1", true)
	d.RecordOutcome("w1", false)
	w, _ = d.Get("w1")
	if w.Performance.TasksCompleted != 3 || w.Performance.TasksFailed != 1 {
		t.Fatalf("counts = %+v", w.Performance)
	}
	if w.Performance.SuccessRate != 75 {
		t.Fatalf("success rate = %v, want 75", w.Performance.SuccessRate)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", MaxConcurrent: 2})
	d.Release("w1")
	d.Release("w1")
	w, _ := d.Get("w1")
	if w.CurrentCount != 0 {
		t.Fatalf("count = %d", w.CurrentCount)
	}
}

func TestReserveBusyStatus(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", MaxConcurrent: 1})
	if err := d.Reserve("w1", nil, "obj_1"); err != nil {
		t.Fatal(err)
	}
	w, _ := d.Get("w1")
	if w.Status != StatusBusy || w.CurrentObjectID != "obj_1" {
		t.Fatalf("after reserve: %+v", w)
	}
	if err := d.Reserve("w1", nil, "obj_2"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("second reserve: got %v, want ErrAtCapacity", err)
	}
	d.Release("w1")
	w, _ = d.Get("w1")
	if w.Status != StatusActive || w.CurrentObjectID != "" {
		t.Fatalf("after release: %+v", w)
	}
}

func TestReserveBestConcurrent(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1", Capabilities: []string{"research"}, MaxConcurrent: 5})
	c := Criteria{Capabilities: []string{"research"}, OrganizationID: "org_1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.ReserveBest(c, "obj") != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("granted %d reservations, want 5", granted)
	}
	w, _ := d.Get("w1")
	if w.CurrentCount != 5 {
		t.Fatalf("count = %d, want 5", w.CurrentCount)
	}
}

func TestTransfer(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "from", OrganizationID: "org_1", Capabilities: []string{"research"}})
	d.Register(&Worker{ID: "full", OrganizationID: "org_1", Capabilities: []string{"research"}})
	d.Register(&Worker{ID: "unskilled", OrganizationID: "org_1", Capabilities: []string{"outreach"}})
	d.Register(&Worker{ID: "to", OrganizationID: "org_1", Capabilities: []string{"research"}})
	_ = d.Reserve("from", nil, "obj")
	_ = d.Reserve("full", nil, "other")

	req := []string{"research"}
	if err := d.Transfer("from", "full", req, "obj"); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("transfer to full: %v", err)
	}
	if err := d.Transfer("from", "unskilled", req, "obj"); !errors.Is(err, ErrMissingCapabilities) {
		t.Fatalf("transfer to unskilled: %v", err)
	}
	if err := d.Transfer("from", "ghost", req, "obj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("transfer to ghost: %v", err)
	}
	if w, _ := d.Get("from"); w.CurrentCount != 1 {
		t.Fatalf("failed transfers changed source count to %d", w.CurrentCount)
	}

	if err := d.Transfer("from", "to", req, "obj"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	from, _ := d.Get("from")
	to, _ := d.Get("to")
	if from.CurrentCount != 0 || to.CurrentCount != 1 || to.CurrentObjectID != "obj" {
		t.Fatalf("after transfer from=%d to=%d", from.CurrentCount, to.CurrentCount)
	}
}

func TestUpdateStatus(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "w1", OrganizationID: "org_1"})
	if err := d.UpdateStatus("w1", StatusMaintenance); err != nil {
		t.Fatal(err)
	}
	if err := d.UpdateStatus("w1", "sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("got %v, want ErrInvalidStatus", err)
	}
	if err := d.UpdateStatus("ghost", StatusIdle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	w, _ := d.Get("w1")
	if w.Status != StatusMaintenance {
		t.Fatalf("status = %s", w.Status)
	}
}

func TestStats(t *testing.T) {
	d := newTestDirectory(t)
	d.Register(&Worker{ID: "a", Type: "research", OrganizationID: "org_1"})
	d.Register(&Worker{ID: "b", Type: "research", OrganizationID: "org_1"})
	d.Register(&Worker{ID: "c", Type: "outreach", OrganizationID: "org_1"})
	_ = d.UpdateStatus("c", StatusOffline)
	d.RecordOutcome("a", true)
	d.RecordOutcome("b", false)

	s := d.Stats()
	if s.Total != 3 || s.Active != 2 {
		t.Fatalf("total=%d active=%d", s.Total, s.Active)
	}
	if s.ByType["research"] != 2 || s.ByStatus[StatusOffline] != 1 {
		t.Fatalf("breakdown = %+v", s)
	}
	want := 100.0 / 3
	if s.AverageSuccessRate < want-1e-9 || s.AverageSuccessRate > want+1e-9 {
		t.Fatalf("avg success = %v, want %v", s.AverageSuccessRate, want)
	}
}

func ids(ws []*Worker) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.ID
	}
	return out
}
