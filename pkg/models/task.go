package models

import "time"

// Task is the original natural-language request submitted to the orchestrator.
// Immutable once created.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Text is the raw request text.
	Text string `json:"text"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// SubtaskStatus represents the current state of a subtask.
type SubtaskStatus string

const (
	// SubtaskPending indicates the subtask has not been assigned yet.
	SubtaskPending SubtaskStatus = "pending"
	// SubtaskRouted indicates the subtask is assigned to a worker.
	SubtaskRouted SubtaskStatus = "routed"
	// SubtaskRunning indicates the subtask is executing.
	SubtaskRunning SubtaskStatus = "running"
	// SubtaskCompleted indicates the subtask finished successfully.
	SubtaskCompleted SubtaskStatus = "completed"
	// SubtaskFailed indicates the subtask failed terminally.
	SubtaskFailed SubtaskStatus = "failed"
	// SubtaskCancelled indicates the subtask was cancelled before finishing.
	SubtaskCancelled SubtaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskPending, SubtaskRouted, SubtaskRunning, SubtaskCompleted, SubtaskFailed, SubtaskCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed || s == SubtaskCancelled
}

// Subtask is one node of a decomposition graph. It is owned exclusively by
// the graph that contains it; only the execution engine mutates Status.
type Subtask struct {
	// ID is unique within the graph.
	ID string `json:"id"`
	// Description is what this subtask should do.
	Description string `json:"description"`
	// DependsOn lists subtask IDs that must complete before this one starts.
	DependsOn []string `json:"depends_on,omitempty"`
	// Capabilities lists the worker capabilities this subtask requires.
	Capabilities []string `json:"capabilities,omitempty"`
	// EstimatedDuration is the expected execution time.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// Status is the current state of the subtask.
	Status SubtaskStatus `json:"status"`
}

// DAGSummary is the decomposition shape reported back to callers.
type DAGSummary struct {
	// SubtaskCount is the total number of subtasks.
	SubtaskCount int `json:"subtask_count"`
	// GroupCount is the number of parallel groups.
	GroupCount int `json:"group_count"`
}
