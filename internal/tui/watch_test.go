package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/pkg/models"
)

func feed(app *App, evs ...events.Event) {
	for _, ev := range evs {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		app.apply(ev)
	}
}

func TestTaskLifecycleRows(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	app := New(bus)

	feed(app,
		events.Event{Type: events.TaskSubmitted, TaskID: "t1"},
		events.Event{Type: events.TaskClassified, TaskID: "t1", Tier: models.TierBatch},
		events.Event{Type: events.SubtaskStarted, TaskID: "t1", SubtaskID: "scan"},
		events.Event{Type: events.SubtaskCompleted, TaskID: "t1", SubtaskID: "scan"},
		events.Event{Type: events.TaskCompleted, TaskID: "t1", Duration: 3 * time.Second},
	)

	row, ok := app.tasks["t1"]
	if !ok {
		t.Fatal("task row missing")
	}
	if row.Tier != "batch" {
		t.Errorf("tier = %s, want batch", row.Tier)
	}
	if row.Status != "completed" {
		t.Errorf("status = %s, want completed", row.Status)
	}
	if row.Done != 1 || row.Subtasks != 1 {
		t.Errorf("subtask counts = %d/%d, want 1/1", row.Done, row.Subtasks)
	}
	if row.Duration != 3*time.Second {
		t.Errorf("duration = %v, want 3s", row.Duration)
	}
}

func TestFailureAndDowngradeShown(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	app := New(bus)

	feed(app,
		events.Event{Type: events.TaskSubmitted, TaskID: "t2"},
		events.Event{Type: events.TaskClassified, TaskID: "t2", Tier: models.TierDeep},
		events.Event{Type: events.TierDowngraded, TaskID: "t2", Tier: models.TierOrchestrator},
		events.Event{Type: events.TaskFailed, TaskID: "t2", Err: errors.New("attempts exhausted")},
	)

	row := app.tasks["t2"]
	if row.Tier != "orchestrator" {
		t.Errorf("tier = %s, want orchestrator after downgrade", row.Tier)
	}
	if row.Status != "failed" {
		t.Errorf("status = %s, want failed", row.Status)
	}
	if row.LastErr == "" {
		t.Error("last error not captured")
	}
}

func TestWorkerRows(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	app := New(bus)

	feed(app,
		events.Event{Type: events.WorkerLoadChanged, WorkerID: "w1", Load: 2},
		events.Event{Type: events.WorkerOffline, WorkerID: "w2"},
	)

	if w := app.workers["w1"]; w.Load != 2 || w.Offline {
		t.Errorf("w1 = %+v, want load 2 online", w)
	}
	if w := app.workers["w2"]; !w.Offline {
		t.Errorf("w2 = %+v, want offline", w)
	}

	view := app.renderWorkers()
	if !strings.Contains(view, "w1") || !strings.Contains(view, "w2") {
		t.Errorf("worker view missing rows: %q", view)
	}
}

func TestEventLogBounded(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	app := New(bus)

	for i := 0; i < maxEventLog+50; i++ {
		feed(app, events.Event{Type: events.SubtaskProgress, TaskID: "t3"})
	}
	if len(app.log) != maxEventLog {
		t.Errorf("log length = %d, want %d", len(app.log), maxEventLog)
	}
}

func TestTabSwitching(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	app := New(bus)

	model, _ := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	app = model.(*App)
	if app.currentTab != TabWorkers {
		t.Errorf("tab = %d, want workers", app.currentTab)
	}

	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyTab})
	app = model.(*App)
	if app.currentTab != TabEvents {
		t.Errorf("tab = %d, want events after cycling", app.currentTab)
	}
}

func TestUpdateConsumesBusEvents(t *testing.T) {
	bus := events.NewBus()
	app := New(bus)

	bus.Publish(events.Event{Type: events.TaskSubmitted, TaskID: "t4"})
	bus.Close()

	// Drain the subscription the way Init's command chain would.
	for {
		msg := app.waitForEvent()()
		if _, closed := msg.(busClosedMsg); closed {
			break
		}
		model, _ := app.Update(msg)
		app = model.(*App)
	}

	if _, ok := app.tasks["t4"]; !ok {
		t.Error("bus event not folded into task state")
	}
}
