package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/pkg/models"
)

func completedEvent(id string, tier models.Tier, d time.Duration) events.Event {
	return events.Event{Type: events.SubtaskCompleted, SubtaskID: id, Tier: tier, Duration: d, Timestamp: time.Now()}
}

func TestRollingTierStats(t *testing.T) {
	m := New(events.NewBus(), nil, DefaultConfig())

	durations := []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second,
		5 * time.Second, 6 * time.Second, 7 * time.Second, 8 * time.Second,
	}
	for i, d := range durations {
		m.Observe(completedEvent(string(rune('a'+i)), models.TierStandard, d))
	}
	m.Observe(events.Event{Type: events.SubtaskFailed, SubtaskID: "x", Tier: models.TierStandard, Timestamp: time.Now()})
	m.Observe(events.Event{Type: events.SubtaskFailed, SubtaskID: "y", Tier: models.TierStandard, Timestamp: time.Now()})

	ts := m.Stats(models.TierStandard)
	if ts.Completed != 8 || ts.Failed != 2 {
		t.Fatalf("counts = %d/%d, want 8/2", ts.Completed, ts.Failed)
	}
	if ts.SuccessRate != 0.8 {
		t.Errorf("SuccessRate = %v, want 0.8", ts.SuccessRate)
	}
	if ts.P50 < 3*time.Second || ts.P50 > 5*time.Second {
		t.Errorf("P50 = %v, want around the median", ts.P50)
	}
	if ts.P95 < 7*time.Second {
		t.Errorf("P95 = %v, want near the top of the window", ts.P95)
	}
}

func TestWindowIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 4
	m := New(events.NewBus(), nil, cfg)

	for i := 0; i < 20; i++ {
		m.Observe(completedEvent("s", models.TierSimple, time.Duration(i)*time.Second))
	}

	m.mu.Lock()
	got := len(m.tiers[models.TierSimple].durations)
	m.mu.Unlock()
	if got != 4 {
		t.Errorf("window holds %d durations, want 4", got)
	}
}

func TestStallDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallThreshold = time.Minute
	m := New(events.NewBus(), nil, cfg)

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	m.Observe(events.Event{Type: events.SubtaskStarted, TaskID: "t1", SubtaskID: "stuck", WorkerID: "w1", Timestamp: base})

	// Fresh progress: no alert.
	m.Check()
	if n := len(m.Alerts()); n != 0 {
		t.Fatalf("got %d alerts before the threshold, want 0", n)
	}

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.Check()
	alerts := m.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Rule != "subtask_stalled" || alerts[0].Severity != SeverityCritical {
		t.Errorf("unexpected alert %+v", alerts[0])
	}

	// Progress clears the stall.
	m.Observe(events.Event{Type: events.SubtaskProgress, SubtaskID: "stuck", Timestamp: base.Add(2 * time.Minute)})
	m.now = func() time.Time { return base.Add(2*time.Minute + 30*time.Second) }
	m.Check()
	if n := len(m.Alerts()); n != 1 {
		t.Errorf("got %d alerts after progress, want still 1", n)
	}
}

func TestRuleCooldownSuppressesRefiring(t *testing.T) {
	m := New(events.NewBus(), nil, DefaultConfig())
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	var mu sync.Mutex
	fired := 0
	m.AddRule(Rule{
		Name:     "always",
		Severity: SeverityInfo,
		Cooldown: time.Minute,
		Condition: func(Snapshot) (bool, string) {
			mu.Lock()
			fired++
			mu.Unlock()
			return true, "always fires"
		},
	})

	m.Check()
	m.Check()
	m.Check()

	var count int
	for _, a := range m.Alerts() {
		if a.Rule == "always" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("rule fired %d times inside its cooldown, want 1", count)
	}

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.Check()
	count = 0
	for _, a := range m.Alerts() {
		if a.Rule == "always" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("rule fired %d times after cooldown expiry, want 2", count)
	}
}

func TestWorkerOfflineRaisesAlert(t *testing.T) {
	m := New(events.NewBus(), nil, DefaultConfig())
	m.Observe(events.Event{Type: events.WorkerOffline, WorkerID: "w9", Timestamp: time.Now()})

	alerts := m.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Rule != "worker_heartbeat_lapse" {
		t.Errorf("alert rule = %q", alerts[0].Rule)
	}
	if snap := m.SnapshotNow(); snap.OfflineWorkers != 1 {
		t.Errorf("OfflineWorkers = %d, want 1", snap.OfflineWorkers)
	}
}

func TestRuleActionRuns(t *testing.T) {
	m := New(events.NewBus(), nil, DefaultConfig())
	done := make(chan Alert, 1)
	m.AddRule(Rule{
		Name:      "with-action",
		Severity:  SeverityWarning,
		Cooldown:  time.Hour,
		Condition: func(Snapshot) (bool, string) { return true, "triggered" },
		Action:    func(a Alert) { done <- a },
	})

	m.Check()
	select {
	case a := <-done:
		if a.Rule != "with-action" {
			t.Errorf("action got alert %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action never ran")
	}
}

func TestMetricsCollectorObserves(t *testing.T) {
	mc := NewMetricsCollector()
	m := New(events.NewBus(), mc, DefaultConfig())

	m.Observe(completedEvent("s1", models.TierStandard, time.Second))
	m.Observe(events.Event{Type: events.WorkerLoadChanged, WorkerID: "w1", Load: 2, Timestamp: time.Now()})
	m.Observe(events.Event{Type: events.TaskCompleted, TaskID: "t1", Tier: models.TierStandard, Duration: 3 * time.Second, Timestamp: time.Now()})

	families, err := mc.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := map[string]bool{
		"ordino_subtask_total":            false,
		"ordino_subtask_duration_seconds": false,
		"ordino_worker_load":              false,
		"ordino_task_total":               false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestStartConsumesBus(t *testing.T) {
	bus := events.NewBus()
	m := New(bus, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(completedEvent("s1", models.TierBatch, time.Second))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Stats(models.TierBatch).Completed == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("published event never observed")
}
