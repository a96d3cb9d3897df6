// Package runner defines the worker execution endpoint the orchestration
// core drives. Everything else in the core is orchestration around
// RunSubtask.
package runner

import (
	"context"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Runner executes one subtask on one worker. Implementations are injected;
// the engine's control flow is identical whichever implementation is wired
// in. Calls must honor ctx cancellation and may be retried, so they should
// be idempotent.
type Runner interface {
	RunSubtask(ctx context.Context, subtask *models.Subtask, workerID string) (models.ExecutionResult, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, subtask *models.Subtask, workerID string) (models.ExecutionResult, error)

// RunSubtask implements Runner.
func (f Func) RunSubtask(ctx context.Context, subtask *models.Subtask, workerID string) (models.ExecutionResult, error) {
	return f(ctx, subtask, workerID)
}
