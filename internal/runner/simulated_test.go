package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

func TestSimulatedFailEveryCountsUnderConcurrency(t *testing.T) {
	s := &Simulated{Delay: time.Millisecond, FailEvery: 2}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := &models.Subtask{ID: fmt.Sprintf("s%d", i), Description: "work"}
			_, err := s.RunSubtask(context.Background(), st, "w1")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed != n/2 {
		t.Errorf("failed = %d of %d calls with FailEvery=2, want %d", failed, n, n/2)
	}
}

func TestSimulatedHonorsCancellation(t *testing.T) {
	s := &Simulated{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunSubtask(ctx, &models.Subtask{ID: "s1"}, "w1")
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
