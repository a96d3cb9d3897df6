// Package events carries execution state transitions to passive observers.
// Publishing never blocks: observers that fall behind lose events, they do
// not slow execution down.
package events

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Type identifies the kind of event.
type Type string

const (
	// TaskSubmitted indicates a task entered the orchestrator.
	TaskSubmitted Type = "task_submitted"
	// TaskClassified indicates classification finished.
	TaskClassified Type = "task_classified"
	// TaskCompleted indicates a task produced its final result.
	TaskCompleted Type = "task_completed"
	// TaskFailed indicates a task failed terminally.
	TaskFailed Type = "task_failed"
	// TaskCancelled indicates a task was cancelled.
	TaskCancelled Type = "task_cancelled"
	// SubtaskRouted indicates a subtask was bound to a worker.
	SubtaskRouted Type = "subtask_routed"
	// SubtaskStarted indicates a subtask began executing.
	SubtaskStarted Type = "subtask_started"
	// SubtaskProgress is a periodic liveness marker from a running subtask.
	SubtaskProgress Type = "subtask_progress"
	// SubtaskCompleted indicates a subtask finished successfully.
	SubtaskCompleted Type = "subtask_completed"
	// SubtaskFailed indicates a subtask execution attempt failed.
	SubtaskFailed Type = "subtask_failed"
	// WorkerLoadChanged indicates a worker's load counter moved.
	WorkerLoadChanged Type = "worker_load_changed"
	// WorkerOffline indicates a worker's heartbeat lapsed.
	WorkerOffline Type = "worker_offline"
	// TierDowngraded indicates the downgrade chain stepped down a tier.
	TierDowngraded Type = "tier_downgraded"
)

// Event is one observed state transition.
type Event struct {
	// Type is the kind of event.
	Type Type
	// TaskID is the related task, if any.
	TaskID string
	// SubtaskID is the related subtask, if any.
	SubtaskID string
	// WorkerID is the related worker, if any.
	WorkerID string
	// Tier is the tier in effect, if any.
	Tier models.Tier
	// Message provides additional context.
	Message string
	// Err is the failure for failure events.
	Err error
	// Load is the worker load after a load change.
	Load int
	// Duration is the elapsed time for completion events.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Bus fans events out to subscribers over bounded channels.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	// dropped counts events lost to full subscriber buffers.
	dropped atomic.Int64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new observer and returns its channel. The buffer
// bounds how far the observer may lag before losing events.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking. Events
// to full subscribers are dropped and counted.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if n := b.dropped.Add(1); n%1000 == 1 {
				log.Printf("[events] %d events dropped so far (slow observer)", n)
			}
		}
	}
}

// Dropped returns the number of events lost to slow observers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
