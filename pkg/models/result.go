package models

import "time"

// Route is the ephemeral binding of one subtask to one worker for a single
// execution attempt. Superseded by a new Route on re-routing.
type Route struct {
	// SubtaskID is the subtask being executed.
	SubtaskID string `json:"subtask_id"`
	// WorkerID is the worker selected to execute it.
	WorkerID string `json:"worker_id"`
	// Strategy names the selection strategy that produced this route.
	Strategy string `json:"strategy"`
	// IsFallback is true when the route was produced by relaxing the
	// required-capability set. Aggregation weights such results lower.
	IsFallback bool `json:"is_fallback,omitempty"`
	// AssignedAt is when the route was created.
	AssignedAt time.Time `json:"assigned_at"`
}

// ExecutionResult is the outcome of one subtask execution.
type ExecutionResult struct {
	// SubtaskID identifies the subtask this result belongs to.
	SubtaskID string `json:"subtask_id"`
	// Success is true when the subtask completed.
	Success bool `json:"success"`
	// Payload is the produced output on success.
	Payload string `json:"payload,omitempty"`
	// Error is the failure message on failure.
	Error string `json:"error,omitempty"`
	// WorkerID is the worker that produced this result.
	WorkerID string `json:"worker_id"`
	// Confidence is the worker's declared confidence in the payload (0-1).
	Confidence float64 `json:"confidence,omitempty"`
	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`
}

// AttemptRecord is one entry of a task's retry/downgrade history.
type AttemptRecord struct {
	// Tier is the tier the attempt ran under.
	Tier Tier `json:"tier"`
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Downgraded is true when this attempt followed a tier downgrade.
	Downgraded bool `json:"downgraded,omitempty"`
	// Error is the failure that ended the attempt, empty on success.
	Error string `json:"error,omitempty"`
}

// FailureInfo carries enough structure about a total failure for the caller
// to decide whether to resubmit, downgrade manually, or escalate.
type FailureInfo struct {
	// Kind is the error taxonomy classification of the last error.
	Kind string `json:"kind"`
	// Tier is the tier in effect when the task finally failed.
	Tier Tier `json:"tier"`
	// Retries is the number of retries consumed.
	Retries int `json:"retries"`
	// LastError is the final error message.
	LastError string `json:"last_error"`
}

// TaskResult is the aggregated outcome of one submitted task.
type TaskResult struct {
	// TaskID identifies the originating task.
	TaskID string `json:"task_id"`
	// Success is true when the task produced a complete answer.
	Success bool `json:"success"`
	// Payload is the final aggregated output.
	Payload string `json:"payload,omitempty"`
	// TiersUsed lists the tiers the task ran under, in order.
	TiersUsed []Tier `json:"tiers_used"`
	// Duration is the total wall-clock time.
	Duration time.Duration `json:"duration"`
	// History is the retry/downgrade history.
	History []AttemptRecord `json:"history,omitempty"`
	// DAG summarizes the decomposition, nil when the task ran as one unit.
	DAG *DAGSummary `json:"dag,omitempty"`
	// Failure holds structured failure details when Success is false.
	Failure *FailureInfo `json:"failure,omitempty"`
}
