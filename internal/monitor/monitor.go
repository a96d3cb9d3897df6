// Package monitor observes execution through the event bus. It maintains
// rolling per-tier metrics, detects stalled subtasks and lapsed workers,
// and raises declarative alerts. It never blocks or mutates execution.
package monitor

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/pkg/models"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one raised rule firing.
type Alert struct {
	Rule     string
	Severity Severity
	Message  string
	At       time.Time
}

// Rule is a declarative alert condition. Condition runs against a snapshot
// on every periodic check; Cooldown suppresses re-firing.
type Rule struct {
	Name      string
	Severity  Severity
	Cooldown  time.Duration
	Condition func(Snapshot) (bool, string)
	// Action, if set, runs asynchronously when the rule fires.
	Action func(Alert)
}

// TierStats summarizes one tier's rolling window.
type TierStats struct {
	Completed   int
	Failed      int
	SuccessRate float64
	P50         time.Duration
	P95         time.Duration
}

// RunningSubtask describes one in-flight subtask for stall checks.
type RunningSubtask struct {
	TaskID       string
	SubtaskID    string
	WorkerID     string
	StartedAt    time.Time
	LastProgress time.Time
}

// Snapshot is the monitor's view at one instant.
type Snapshot struct {
	Tiers   map[models.Tier]TierStats
	Running []RunningSubtask
	// OfflineWorkers counts heartbeat lapses observed so far.
	OfflineWorkers int
	At             time.Time
}

// Config tunes the monitor.
type Config struct {
	// StallThreshold marks a running subtask stalled when its last
	// progress is older than this.
	StallThreshold time.Duration
	// CheckInterval spaces the periodic rule evaluation.
	CheckInterval time.Duration
	// WindowSize bounds the per-tier duration window.
	WindowSize int
	// MaxAlerts bounds the retained alert history.
	MaxAlerts int
}

// DefaultConfig returns the built-in monitor tuning.
func DefaultConfig() Config {
	return Config{
		StallThreshold: 2 * time.Minute,
		CheckInterval:  15 * time.Second,
		WindowSize:     256,
		MaxAlerts:      128,
	}
}

type tierWindow struct {
	completed int
	failed    int
	durations []time.Duration
}

// Monitor consumes bus events into rolling state.
type Monitor struct {
	bus     *events.Bus
	metrics *MetricsCollector
	cfg     Config

	mu        sync.Mutex
	tiers     map[models.Tier]*tierWindow
	running   map[string]*RunningSubtask
	offline   int
	rules     []Rule
	lastFired map[string]time.Time
	alerts    []Alert

	now func() time.Time
}

// New creates a Monitor. metrics may be nil to disable Prometheus output.
func New(bus *events.Bus, metrics *MetricsCollector, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = def.StallThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = def.MaxAlerts
	}
	m := &Monitor{
		bus:       bus,
		metrics:   metrics,
		cfg:       cfg,
		tiers:     make(map[models.Tier]*tierWindow),
		running:   make(map[string]*RunningSubtask),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
	m.rules = m.defaultRules()
	return m
}

// AddRule registers an extra alert rule.
func (m *Monitor) AddRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// Start consumes events and runs periodic checks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ch := m.bus.Subscribe(512)
	go func() {
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.Observe(ev)
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Observe folds one event into the rolling state.
func (m *Monitor) Observe(ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case events.SubtaskStarted:
		m.running[ev.SubtaskID] = &RunningSubtask{
			TaskID:       ev.TaskID,
			SubtaskID:    ev.SubtaskID,
			WorkerID:     ev.WorkerID,
			StartedAt:    ev.Timestamp,
			LastProgress: ev.Timestamp,
		}
	case events.SubtaskProgress:
		if r, ok := m.running[ev.SubtaskID]; ok {
			r.LastProgress = ev.Timestamp
		}
	case events.SubtaskCompleted:
		delete(m.running, ev.SubtaskID)
		w := m.window(ev.Tier)
		w.completed++
		w.durations = append(w.durations, ev.Duration)
		if len(w.durations) > m.cfg.WindowSize {
			w.durations = w.durations[1:]
		}
		if m.metrics != nil {
			m.metrics.SubtasksTotal.WithLabelValues(string(ev.Tier), "completed").Inc()
			m.metrics.SubtaskDuration.WithLabelValues(string(ev.Tier)).Observe(ev.Duration.Seconds())
		}
	case events.SubtaskFailed:
		delete(m.running, ev.SubtaskID)
		m.window(ev.Tier).failed++
		if m.metrics != nil {
			m.metrics.SubtasksTotal.WithLabelValues(string(ev.Tier), "failed").Inc()
		}
	case events.TaskCompleted, events.TaskFailed, events.TaskCancelled:
		if m.metrics != nil {
			status := map[events.Type]string{
				events.TaskCompleted: "completed",
				events.TaskFailed:    "failed",
				events.TaskCancelled: "cancelled",
			}[ev.Type]
			m.metrics.TasksTotal.WithLabelValues(string(ev.Tier), status).Inc()
			if ev.Type == events.TaskCompleted {
				m.metrics.TaskDuration.WithLabelValues(string(ev.Tier)).Observe(ev.Duration.Seconds())
			}
		}
	case events.WorkerLoadChanged:
		if m.metrics != nil {
			m.metrics.WorkerLoad.WithLabelValues(ev.WorkerID).Set(float64(ev.Load))
		}
	case events.WorkerOffline:
		m.offline++
		if m.metrics != nil {
			m.metrics.WorkersOfflineTotal.Inc()
		}
		m.raiseLocked(Alert{
			Rule:     "worker_heartbeat_lapse",
			Severity: SeverityWarning,
			Message:  "worker " + ev.WorkerID + " heartbeat lapsed, marked offline",
			At:       m.now(),
		}, nil)
	case events.TierDowngraded:
		if m.metrics != nil {
			m.metrics.TierDowngradesTotal.WithLabelValues(string(ev.Tier)).Inc()
		}
	}
}

// Check evaluates all rules against the current snapshot.
func (m *Monitor) Check() {
	snap := m.SnapshotNow()

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, r := range m.rules {
		if last, ok := m.lastFired[r.Name]; ok && now.Sub(last) < r.Cooldown {
			continue
		}
		fired, msg := r.Condition(snap)
		if !fired {
			continue
		}
		m.lastFired[r.Name] = now
		m.raiseLocked(Alert{Rule: r.Name, Severity: r.Severity, Message: msg, At: now}, r.Action)
	}
}

// raiseLocked records an alert; callers hold m.mu. The action runs in its
// own goroutine so a slow callback cannot stall observation.
func (m *Monitor) raiseLocked(a Alert, action func(Alert)) {
	log.Printf("[monitor] %s alert %s: %s", a.Severity, a.Rule, a.Message)
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.cfg.MaxAlerts {
		m.alerts = m.alerts[1:]
	}
	if m.metrics != nil {
		m.metrics.AlertsTotal.WithLabelValues(a.Rule, string(a.Severity)).Inc()
	}
	if action != nil {
		go action(a)
	}
}

// SnapshotNow returns the monitor's current view.
func (m *Monitor) SnapshotNow() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Tiers:          make(map[models.Tier]TierStats, len(m.tiers)),
		OfflineWorkers: m.offline,
		At:             m.now(),
	}
	for tier, w := range m.tiers {
		snap.Tiers[tier] = w.stats()
	}
	for _, r := range m.running {
		snap.Running = append(snap.Running, *r)
	}
	return snap
}

// Stats returns the rolling stats for one tier.
func (m *Monitor) Stats(tier models.Tier) TierStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.tiers[tier]; ok {
		return w.stats()
	}
	return TierStats{}
}

// Alerts returns the retained alert history, newest last.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

func (m *Monitor) window(tier models.Tier) *tierWindow {
	w, ok := m.tiers[tier]
	if !ok {
		w = &tierWindow{}
		m.tiers[tier] = w
	}
	return w
}

func (m *Monitor) defaultRules() []Rule {
	return []Rule{
		{
			Name:     "subtask_stalled",
			Severity: SeverityCritical,
			Cooldown: time.Minute,
			Condition: func(s Snapshot) (bool, string) {
				for _, r := range s.Running {
					if s.At.Sub(r.LastProgress) > m.cfg.StallThreshold {
						return true, "subtask " + r.SubtaskID + " on worker " + r.WorkerID + " has made no progress since " + r.LastProgress.Format(time.RFC3339)
					}
				}
				return false, ""
			},
		},
		{
			Name:     "tier_success_rate_low",
			Severity: SeverityWarning,
			Cooldown: 5 * time.Minute,
			Condition: func(s Snapshot) (bool, string) {
				for tier, ts := range s.Tiers {
					if ts.Completed+ts.Failed >= 10 && ts.SuccessRate < 0.5 {
						return true, "tier " + string(tier) + " success rate dropped below 50%"
					}
				}
				return false, ""
			},
		},
	}
}

func (w *tierWindow) stats() TierStats {
	ts := TierStats{Completed: w.completed, Failed: w.failed}
	if total := w.completed + w.failed; total > 0 {
		ts.SuccessRate = float64(w.completed) / float64(total)
	}
	if len(w.durations) > 0 {
		sorted := append([]time.Duration(nil), w.durations...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		ts.P50 = percentile(sorted, 0.50)
		ts.P95 = percentile(sorted, 0.95)
	}
	return ts
}

// percentile reads from an already sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
