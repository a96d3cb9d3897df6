package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ordino-dev/ordino/pkg/models"
)

// PoolResult pairs a finished submission with its outcome.
type PoolResult struct {
	Handle string
	Result models.TaskResult
	Err    error
}

// Pool runs concurrent submissions against one Orchestrator, fanning
// results out on a single channel. Admission control still bounds
// per-tier parallelism; the pool only manages goroutine lifecycle.
type Pool struct {
	orch *Orchestrator

	mu      sync.RWMutex
	pending map[string]string // handle -> task text, for status display

	results  chan PoolResult
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	draining bool
	seq      int
}

// NewPool creates a pool over the given orchestrator.
func NewPool(orch *Orchestrator) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		orch:    orch,
		pending: make(map[string]string),
		results: make(chan PoolResult, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit starts a task asynchronously and returns a pool handle. The
// outcome arrives on Results.
func (p *Pool) Submit(taskText string, opts SubmitOptions) (string, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return "", fmt.Errorf("pool is draining, not accepting new tasks")
	}
	p.seq++
	handle := fmt.Sprintf("p%04d", p.seq)
	p.pending[handle] = taskText
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		res, err := p.orch.Submit(p.ctx, taskText, opts)
		if err != nil {
			log.Printf("[pool] task %s (%s) failed: %v", handle, res.TaskID, err)
		}

		p.mu.Lock()
		delete(p.pending, handle)
		p.mu.Unlock()

		select {
		case p.results <- PoolResult{Handle: handle, Result: res, Err: err}:
		case <-p.ctx.Done():
		}
	}()

	return handle, nil
}

// Results returns the channel delivering finished submissions.
func (p *Pool) Results() <-chan PoolResult {
	return p.results
}

// Pending returns the number of submissions still in flight.
func (p *Pool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// Drain stops accepting new submissions and waits for in-flight tasks
// to finish.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Shutdown cancels all in-flight tasks and releases pool resources.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	p.orch.CancelAll()
	p.cancel()
	p.wg.Wait()
	close(p.results)
}
