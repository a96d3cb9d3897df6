// Package tui provides the terminal watch view over the event bus.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ordino-dev/ordino/internal/events"
)

// Tab constants for navigation.
const (
	TabTasks = iota
	TabWorkers
	TabEvents
)

const maxEventLog = 200

// EventMsg wraps one bus event for the update loop.
type EventMsg struct {
	Event events.Event
}

// busClosedMsg signals the subscription channel was closed.
type busClosedMsg struct{}

// taskRow is the display state of one observed task.
type taskRow struct {
	ID        string
	Tier      string
	Status    string
	Subtasks  int
	Done      int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
	LastErr   string
}

// workerRow is the display state of one observed worker.
type workerRow struct {
	ID      string
	Load    int
	Offline bool
}

// logLine is one rendered event log entry.
type logLine struct {
	At   time.Time
	Text string
}

// App is the bubbletea model for the watch view. It is a passive observer:
// all state comes from bus events, nothing is written back.
type App struct {
	sub <-chan events.Event

	currentTab int
	tasks      map[string]*taskRow
	taskOrder  []string
	workers    map[string]*workerRow
	log        []logLine

	spin     spinner.Model
	eventsVP viewport.Model
	width    int
	height   int
	quitting bool
}

// New creates the watch view over a bus subscription.
func New(bus *events.Bus) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tierStyle

	return &App{
		sub:      bus.Subscribe(256),
		tasks:    make(map[string]*taskRow),
		workers:  make(map[string]*workerRow),
		spin:     sp,
		eventsVP: viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForEvent(), a.spin.Tick)
}

// waitForEvent blocks on the bus subscription and feeds the next event
// into the update loop.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.sub
		if !ok {
			return busClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.currentTab = (a.currentTab + 1) % 3
		case "1":
			a.currentTab = TabTasks
		case "2":
			a.currentTab = TabWorkers
		case "3":
			a.currentTab = TabEvents
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.eventsVP.Width = msg.Width - 2
		if msg.Height > 6 {
			a.eventsVP.Height = msg.Height - 6
		}

	case EventMsg:
		a.apply(msg.Event)
		return a, a.waitForEvent()

	case busClosedMsg:
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	return a, nil
}

// apply folds one bus event into the display state.
func (a *App) apply(ev events.Event) {
	a.appendLog(ev)

	switch ev.Type {
	case events.TaskSubmitted:
		a.task(ev.TaskID).Status = "pending"
		a.task(ev.TaskID).StartedAt = ev.Timestamp
	case events.TaskClassified:
		row := a.task(ev.TaskID)
		row.Tier = string(ev.Tier)
		row.Status = "running"
	case events.TierDowngraded:
		a.task(ev.TaskID).Tier = string(ev.Tier)
	case events.TaskCompleted:
		row := a.task(ev.TaskID)
		row.Status = "completed"
		row.Duration = ev.Duration
	case events.TaskFailed:
		row := a.task(ev.TaskID)
		row.Status = "failed"
		if ev.Err != nil {
			row.LastErr = ev.Err.Error()
		}
	case events.TaskCancelled:
		a.task(ev.TaskID).Status = "cancelled"

	case events.SubtaskStarted:
		a.task(ev.TaskID).Subtasks++
	case events.SubtaskCompleted:
		a.task(ev.TaskID).Done++
	case events.SubtaskFailed:
		a.task(ev.TaskID).Failed++

	case events.WorkerLoadChanged:
		w := a.worker(ev.WorkerID)
		w.Load = ev.Load
		w.Offline = false
	case events.WorkerOffline:
		a.worker(ev.WorkerID).Offline = true
	}
}

func (a *App) task(id string) *taskRow {
	if row, ok := a.tasks[id]; ok {
		return row
	}
	row := &taskRow{ID: id, Status: "pending"}
	a.tasks[id] = row
	a.taskOrder = append(a.taskOrder, id)
	return row
}

func (a *App) worker(id string) *workerRow {
	if row, ok := a.workers[id]; ok {
		return row
	}
	row := &workerRow{ID: id}
	a.workers[id] = row
	return row
}

func (a *App) appendLog(ev events.Event) {
	text := fmt.Sprintf("%-18s %s", ev.Type, ev.TaskID)
	if ev.SubtaskID != "" {
		text += "/" + ev.SubtaskID
	}
	if ev.WorkerID != "" {
		text += " @" + ev.WorkerID
	}
	if ev.Message != "" {
		text += " " + ev.Message
	}
	if ev.Err != nil {
		text += " err=" + ev.Err.Error()
	}
	a.log = append(a.log, logLine{At: ev.Timestamp, Text: text})
	if len(a.log) > maxEventLog {
		a.log = a.log[len(a.log)-maxEventLog:]
	}
	a.eventsVP.SetContent(a.renderLog())
	a.eventsVP.GotoBottom()
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("ordino watch"))
	b.WriteString("\n")
	b.WriteString(a.renderTabs())
	b.WriteString("\n\n")

	switch a.currentTab {
	case TabTasks:
		b.WriteString(a.renderTasks())
	case TabWorkers:
		b.WriteString(a.renderWorkers())
	case TabEvents:
		b.WriteString(a.eventsVP.View())
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("tab: switch  q: quit"))
	return b.String()
}

func (a *App) renderTabs() string {
	names := []string{"1 Tasks", "2 Workers", "3 Events"}
	parts := make([]string, len(names))
	for i, name := range names {
		if i == a.currentTab {
			parts[i] = activeTabStyle.Render(name)
		} else {
			parts[i] = tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a *App) renderTasks() string {
	if len(a.taskOrder) == 0 {
		return dimStyle.Render("  no tasks yet")
	}

	var b strings.Builder
	for _, id := range a.taskOrder {
		row := a.tasks[id]
		marker := "  "
		if row.Status == "running" {
			marker = a.spin.View()
		}
		line := fmt.Sprintf("%s %s  %s  %s", marker,
			valueStyle.Render(row.ID),
			tierStyle.Render(fmt.Sprintf("%-12s", row.Tier)),
			statusStyle(row.Status).Render(fmt.Sprintf("%-10s", row.Status)))
		if row.Subtasks > 0 {
			line += dimStyle.Render(fmt.Sprintf(" %d/%d subtasks", row.Done, row.Subtasks))
		}
		if row.Duration > 0 {
			line += dimStyle.Render(" " + row.Duration.Round(time.Millisecond).String())
		}
		if row.LastErr != "" {
			line += failureStyle.Render(" " + row.LastErr)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderWorkers() string {
	if len(a.workers) == 0 {
		return dimStyle.Render("  no workers observed")
	}

	ids := make([]string, 0, len(a.workers))
	for id := range a.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		w := a.workers[id]
		state := successStyle.Render("online")
		if w.Offline {
			state = failureStyle.Render("offline")
		}
		b.WriteString(fmt.Sprintf("  %s %s  %s %s\n",
			labelStyle.Render("worker"),
			valueStyle.Render(w.ID),
			state,
			dimStyle.Render(fmt.Sprintf("load=%d", w.Load))))
	}
	return b.String()
}

func (a *App) renderLog() string {
	var b strings.Builder
	for _, line := range a.log {
		b.WriteString(dimStyle.Render(line.At.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(line.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// NewProgram wires the app into a bubbletea program with the alt screen.
func NewProgram(bus *events.Bus) (*tea.Program, *App) {
	app := New(bus)
	return tea.NewProgram(app, tea.WithAltScreen()), app
}
