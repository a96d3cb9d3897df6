// Package engine executes subtask graphs: parallel groups in order, group
// members concurrently, with re-routing and backoff on retryable failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/internal/graph"
	"github.com/ordino-dev/ordino/internal/recovery"
	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/internal/router"
	"github.com/ordino-dev/ordino/internal/runner"
	"github.com/ordino-dev/ordino/pkg/models"
)

// ErrDAGFailed indicates the graph could not be completed.
var ErrDAGFailed = errors.New("subtask graph failed")

// Config holds engine tuning.
type Config struct {
	// MaxAttempts is the attempt budget per subtask (first try included).
	MaxAttempts int
	// TimeoutMultiple scales a subtask's estimated duration into its
	// execution timeout. Exceeding it is a retryable failure.
	TimeoutMultiple float64
	// MinTimeout floors the computed subtask timeout.
	MinTimeout time.Duration
	// Backoff spaces retry attempts of one subtask.
	Backoff recovery.Backoff
	// ProgressInterval spaces the liveness events published while a
	// runner call is in flight, feeding the monitor's stall detector.
	ProgressInterval time.Duration
}

// DefaultConfig returns the built-in engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		TimeoutMultiple:  3.0,
		MinTimeout:       5 * time.Second,
		Backoff:          recovery.DefaultBackoff(),
		ProgressInterval: 5 * time.Second,
	}
}

// Engine drives one graph at a time through routing and execution.
type Engine struct {
	router *router.Router
	reg    *registry.Registry
	run    runner.Runner
	bus    *events.Bus
	cfg    Config
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine.
func New(rt *router.Router, reg *registry.Registry, run runner.Runner, bus *events.Bus, cfg Config) *Engine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.TimeoutMultiple <= 0 {
		cfg.TimeoutMultiple = DefaultConfig().TimeoutMultiple
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = DefaultConfig().MinTimeout
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultConfig().ProgressInterval
	}
	return &Engine{
		router: rt,
		reg:    reg,
		run:    run,
		bus:    bus,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

// ExecuteDAG runs the graph's parallel groups in order. A group launches
// only subtasks whose dependencies all completed, runs them concurrently,
// and settles fully before the next group starts. Any terminally failed
// subtask fails the whole graph: partial results are never presented as a
// complete answer.
func (e *Engine) ExecuteDAG(ctx context.Context, dag *graph.DAG, tier models.Tier) (map[string]models.ExecutionResult, error) {
	results := make(map[string]models.ExecutionResult)
	var mu sync.Mutex

	for gi, group := range dag.Groups() {
		if err := ctx.Err(); err != nil {
			dag.CancelPending()
			return results, err
		}

		// Subtasks whose dependencies did not all complete can never
		// become routable; that fails the graph instead of hanging it.
		var ready []*models.Subtask
		for _, id := range group {
			st := dag.Subtask(id)
			if st.Status.Terminal() {
				continue
			}
			if !dag.DepsCompleted(id) {
				dag.CancelPending()
				return results, fmt.Errorf("subtask %s has a failed dependency: %w", id, ErrDAGFailed)
			}
			ready = append(ready, st)
		}

		log.Printf("[engine] task %s: group %d/%d, launching %d subtasks", dag.TaskID(), gi+1, len(dag.Groups()), len(ready))

		var wg sync.WaitGroup
		for _, st := range ready {
			wg.Add(1)
			go func(st *models.Subtask) {
				defer wg.Done()
				res := e.runOne(ctx, dag, st, tier)
				mu.Lock()
				results[st.ID] = res
				mu.Unlock()
			}(st)
		}
		wg.Wait()

		// The group must settle completely before the next starts.
		for _, id := range group {
			if dag.Status(id) != models.SubtaskCompleted {
				mu.Lock()
				res := results[id]
				mu.Unlock()
				dag.CancelPending()
				err := fmt.Errorf("subtask %s did not complete: %s: %w", id, res.Error, ErrDAGFailed)
				if res.Error != "" {
					err = recovery.Wrap(recovery.Classify(errors.New(res.Error)), err)
				}
				return results, err
			}
		}
	}

	return results, nil
}

// runOne executes a single subtask through its attempt budget, re-routing
// away from failed workers between attempts.
func (e *Engine) runOne(ctx context.Context, dag *graph.DAG, st *models.Subtask, tier models.Tier) models.ExecutionResult {
	exclude := make(map[string]bool)
	var route models.Route
	var routed bool
	var lastErr error

	fail := func(err error) models.ExecutionResult {
		if routed {
			e.router.Release(route)
			e.publishLoad(route.WorkerID)
			routed = false
		}
		dag.SetStatus(st.ID, models.SubtaskFailed)
		return models.ExecutionResult{
			SubtaskID: st.ID,
			Success:   false,
			Error:     err.Error(),
			WorkerID:  route.WorkerID,
		}
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if routed {
				e.router.Release(route)
				e.publishLoad(route.WorkerID)
				routed = false
			}
			dag.SetStatus(st.ID, models.SubtaskCancelled)
			return models.ExecutionResult{SubtaskID: st.ID, Success: false, Error: err.Error()}
		}

		var err error
		if !routed {
			route, err = e.router.Route(st, exclude)
		} else {
			// ReRoute always drops the old reservation, even when no
			// replacement worker is found.
			prev := route
			routed = false
			route, err = e.router.ReRoute(prev, st, exclude)
		}
		if err != nil {
			return fail(fmt.Errorf("attempt %d: %w", attempt, err))
		}
		routed = true
		dag.SetStatus(st.ID, models.SubtaskRouted)
		e.publish(events.Event{Type: events.SubtaskRouted, TaskID: dag.TaskID(), SubtaskID: st.ID, WorkerID: route.WorkerID, Tier: tier})
		e.publishLoad(route.WorkerID)

		dag.SetStatus(st.ID, models.SubtaskRunning)
		e.publish(events.Event{Type: events.SubtaskStarted, TaskID: dag.TaskID(), SubtaskID: st.ID, WorkerID: route.WorkerID, Tier: tier})

		runCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(st))
		stopProgress := e.reportProgress(runCtx, dag.TaskID(), st.ID, route.WorkerID, tier)
		start := time.Now()
		res, err := e.run.RunSubtask(runCtx, st, route.WorkerID)
		stopProgress()
		cancel()
		elapsed := time.Since(start)

		if err == nil && !res.Success && res.Error != "" {
			err = errors.New(res.Error)
		}
		if err == nil {
			e.router.Release(route)
			e.reg.RecordOutcome(route.WorkerID, true, elapsed)
			e.publishLoad(route.WorkerID)
			dag.SetStatus(st.ID, models.SubtaskCompleted)
			res.SubtaskID = st.ID
			res.WorkerID = route.WorkerID
			if res.Duration == 0 {
				res.Duration = elapsed
			}
			// Fallback-routed results carry less weight downstream.
			if route.IsFallback && res.Confidence > 0.5 {
				res.Confidence = 0.5
			}
			e.publish(events.Event{Type: events.SubtaskCompleted, TaskID: dag.TaskID(), SubtaskID: st.ID, WorkerID: route.WorkerID, Tier: tier, Duration: elapsed})
			return res
		}

		lastErr = err
		kind := recovery.Classify(err)
		e.reg.RecordOutcome(route.WorkerID, false, elapsed)
		e.publish(events.Event{Type: events.SubtaskFailed, TaskID: dag.TaskID(), SubtaskID: st.ID, WorkerID: route.WorkerID, Tier: tier, Err: err})

		// Resource exhaustion belongs to the downgrade chain wrapping the
		// whole graph, not to per-subtask retries.
		if kind == recovery.KindResourceExhausted || !recovery.DefaultRetryable()[kind] {
			return fail(recovery.Wrap(kind, err))
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.cfg.Backoff.Delay(kind, attempt)
		log.Printf("[engine] subtask %s attempt %d failed on %s (%s), re-routing in %v", st.ID, attempt, route.WorkerID, kind, delay)
		if err := e.sleep(ctx, delay); err != nil {
			return fail(err)
		}
	}

	return fail(fmt.Errorf("attempts exhausted: %w", lastErr))
}

// reportProgress publishes a liveness marker for the in-flight attempt
// until the returned stop function is called or ctx expires. Without it
// the stall detector would only ever see a subtask's start time.
func (e *Engine) reportProgress(ctx context.Context, taskID, subtaskID, workerID string, tier models.Tier) func() {
	if e.bus == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.publish(events.Event{Type: events.SubtaskProgress, TaskID: taskID, SubtaskID: subtaskID, WorkerID: workerID, Tier: tier})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (e *Engine) timeoutFor(st *models.Subtask) time.Duration {
	d := time.Duration(float64(st.EstimatedDuration) * e.cfg.TimeoutMultiple)
	if d < e.cfg.MinTimeout {
		d = e.cfg.MinTimeout
	}
	return d
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishLoad(workerID string) {
	if e.bus == nil {
		return
	}
	if w, ok := e.reg.Get(workerID); ok {
		e.bus.Publish(events.Event{Type: events.WorkerLoadChanged, WorkerID: workerID, Load: w.CurrentLoad})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
