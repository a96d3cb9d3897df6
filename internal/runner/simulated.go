package runner

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Simulated is a Runner that fabricates plausible results without any real
// worker endpoint. It exists for demos and tests and is selected purely by
// injection.
type Simulated struct {
	// Delay is the simulated execution time per subtask. Zero means a
	// small deterministic delay derived from the subtask ID.
	Delay time.Duration
	// FailEvery fails every Nth call with a transient error (0 disables).
	FailEvery int

	// calls is atomic: parallel groups hit one shared instance.
	calls atomic.Int64
}

// RunSubtask implements Runner.
func (s *Simulated) RunSubtask(ctx context.Context, subtask *models.Subtask, workerID string) (models.ExecutionResult, error) {
	start := time.Now()
	call := s.calls.Add(1)

	delay := s.Delay
	if delay == 0 {
		// Deterministic 10-50ms so demo runs are stable.
		h := fnv.New32a()
		h.Write([]byte(subtask.ID))
		delay = time.Duration(10+h.Sum32()%40) * time.Millisecond
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return models.ExecutionResult{}, ctx.Err()
	case <-t.C:
	}

	if s.FailEvery > 0 && call%int64(s.FailEvery) == 0 {
		return models.ExecutionResult{}, fmt.Errorf("simulated transient failure on %s", subtask.ID)
	}

	return models.ExecutionResult{
		SubtaskID:  subtask.ID,
		Success:    true,
		Payload:    fmt.Sprintf("[%s] done: %s", workerID, subtask.Description),
		WorkerID:   workerID,
		Confidence: 0.9,
		Duration:   time.Since(start),
	}, nil
}
