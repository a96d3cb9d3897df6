package recovery

import (
	"context"
	"log"
	"sync"
	"time"
)

// Checkpoint is a durable progress marker allowing an operation to resume
// rather than restart after a failure.
type Checkpoint struct {
	// TaskID keys the checkpoint.
	TaskID string `json:"task_id"`
	// Step identifies the last successfully completed step.
	Step string `json:"step"`
	// Payload is opaque intermediate state.
	Payload string `json:"payload,omitempty"`
	// Attempt counts resume attempts so far.
	Attempt int `json:"attempt"`
	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointStore persists checkpoints keyed by task ID.
type CheckpointStore interface {
	// SaveCheckpoint writes or replaces the checkpoint for a task.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// LoadCheckpoint returns the checkpoint for a task, or false if none.
	LoadCheckpoint(ctx context.Context, taskID string) (Checkpoint, bool, error)
	// DeleteCheckpoint discards the checkpoint for a task.
	DeleteCheckpoint(ctx context.Context, taskID string) error
}

// MemoryCheckpoints is an in-memory CheckpointStore used when no durable
// store is wired in.
type MemoryCheckpoints struct {
	mu  sync.Mutex
	cps map[string]Checkpoint
}

// NewMemoryCheckpoints creates an empty in-memory store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{cps: make(map[string]Checkpoint)}
}

// SaveCheckpoint implements CheckpointStore.
func (m *MemoryCheckpoints) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.TaskID] = cp
	return nil
}

// LoadCheckpoint implements CheckpointStore.
func (m *MemoryCheckpoints) LoadCheckpoint(_ context.Context, taskID string) (Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[taskID]
	return cp, ok, nil
}

// DeleteCheckpoint implements CheckpointStore.
func (m *MemoryCheckpoints) DeleteCheckpoint(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, taskID)
	return nil
}

// CheckpointedOperation is a resumable unit of work. A non-nil checkpoint
// carries the progress marker of the previous attempt; the operation may
// save new checkpoints through the store as it passes risky steps.
type CheckpointedOperation func(ctx context.Context, cp *Checkpoint) error

// ExecuteWithCheckpoint runs the operation with resume support: the last
// checkpoint (if any) is attached on entry, and the checkpoint is discarded
// only on final success. A failed resume keeps its state so it can be
// resumed again.
func (e *Executor) ExecuteWithCheckpoint(ctx context.Context, taskID string, store CheckpointStore, op CheckpointedOperation) error {
	var attached *Checkpoint
	if cp, ok, err := store.LoadCheckpoint(ctx, taskID); err != nil {
		log.Printf("[recovery] load checkpoint for %s: %v (starting fresh)", taskID, err)
	} else if ok {
		cp.Attempt++
		attached = &cp
		if err := store.SaveCheckpoint(ctx, cp); err != nil {
			log.Printf("[recovery] bump checkpoint attempt for %s: %v", taskID, err)
		}
		log.Printf("[recovery] resuming task %s from step %q (attempt %d)", taskID, cp.Step, cp.Attempt)
	}

	if err := op(ctx, attached); err != nil {
		// State is kept on failure: the next call resumes again.
		return err
	}

	if err := store.DeleteCheckpoint(ctx, taskID); err != nil {
		log.Printf("[recovery] discard checkpoint for %s: %v", taskID, err)
	}
	return nil
}
