package models

import "time"

// WorkerStatus represents the health of a registered worker.
type WorkerStatus string

const (
	// WorkerHealthy indicates the worker is accepting subtasks.
	WorkerHealthy WorkerStatus = "healthy"
	// WorkerBusy indicates the worker is at capacity.
	WorkerBusy WorkerStatus = "busy"
	// WorkerOffline indicates the worker's heartbeat has lapsed.
	WorkerOffline WorkerStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerHealthy, WorkerBusy, WorkerOffline:
		return true
	default:
		return false
	}
}

// Worker is a registry entry describing one execution worker.
type Worker struct {
	// ID is the unique identifier assigned at registration.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Capabilities lists what this worker can do.
	Capabilities []string `json:"capabilities"`
	// MaxConcurrent is the maximum number of subtasks the worker runs at once.
	MaxConcurrent int `json:"max_concurrent"`
	// CurrentLoad is the number of subtasks currently assigned.
	// Invariant: 0 <= CurrentLoad <= MaxConcurrent, and it equals the number
	// of live routes bound to this worker.
	CurrentLoad int `json:"current_load"`
	// CostPerUnit is the declared cost per unit of work.
	CostPerUnit float64 `json:"cost_per_unit"`
	// Status is the current health state.
	Status WorkerStatus `json:"status"`
	// LastHeartbeat is when the worker last reported in.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// Completed is the lifetime count of successful subtasks.
	Completed int64 `json:"completed"`
	// Failed is the lifetime count of failed subtasks.
	Failed int64 `json:"failed"`
	// AvgDuration is the running average execution time.
	AvgDuration time.Duration `json:"avg_duration"`
}

// LoadRatio returns CurrentLoad / MaxConcurrent, or 1.0 when the worker has
// no capacity at all.
func (w *Worker) LoadRatio() float64 {
	if w.MaxConcurrent <= 0 {
		return 1.0
	}
	return float64(w.CurrentLoad) / float64(w.MaxConcurrent)
}

// HasCapability returns true if the worker declares the given capability.
func (w *Worker) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// FreeSlots returns the number of unassigned concurrency slots.
func (w *Worker) FreeSlots() int {
	free := w.MaxConcurrent - w.CurrentLoad
	if free < 0 {
		return 0
	}
	return free
}
