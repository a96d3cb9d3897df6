package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/internal/graph"
	"github.com/ordino-dev/ordino/internal/recovery"
	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/internal/router"
	"github.com/ordino-dev/ordino/internal/runner"
	"github.com/ordino-dev/ordino/pkg/models"
)

func newTestEngine(t *testing.T, workers []registry.WorkerInfo, run runner.Runner) (*Engine, *registry.Registry, []string) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	var ids []string
	for _, info := range workers {
		id, err := reg.Register(info)
		if err != nil {
			t.Fatalf("Register(%s): %v", info.Name, err)
		}
		ids = append(ids, id)
	}
	rt, err := router.New(reg, router.StrategyLoadBalance)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	eng := New(rt, reg, run, nil, DefaultConfig())
	eng.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return eng, reg, ids
}

func diamondDAG(t *testing.T) *graph.DAG {
	t.Helper()
	dag, err := graph.Build("task-1", []*models.Subtask{
		{ID: "a", Description: "scan", Capabilities: []string{"general"}},
		{ID: "b", Description: "left", DependsOn: []string{"a"}, Capabilities: []string{"general"}},
		{ID: "c", Description: "right", DependsOn: []string{"a"}, Capabilities: []string{"general"}},
		{ID: "d", Description: "merge", DependsOn: []string{"b", "c"}, Capabilities: []string{"general"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return dag
}

func TestExecuteDAGRespectsGroupOrder(t *testing.T) {
	var mu sync.Mutex
	order := make(map[string]int)
	seq := 0

	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		mu.Lock()
		order[st.ID] = seq
		seq++
		mu.Unlock()
		return models.ExecutionResult{Success: true, Payload: st.Description, Confidence: 0.9}, nil
	})

	eng, reg, ids := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 4},
	}, run)

	dag := diamondDAG(t)
	results, err := eng.ExecuteDAG(context.Background(), dag, models.TierStandard)
	if err != nil {
		t.Fatalf("ExecuteDAG: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for id, res := range results {
		if !res.Success {
			t.Errorf("subtask %s failed: %s", id, res.Error)
		}
	}

	// a before b and c, and both before d.
	if order["a"] > order["b"] || order["a"] > order["c"] {
		t.Errorf("root ran after its dependents: %v", order)
	}
	if order["d"] < order["b"] || order["d"] < order["c"] {
		t.Errorf("sink ran before its dependencies: %v", order)
	}

	// All reservations released after settlement.
	if w, _ := reg.Get(ids[0]); w.CurrentLoad != 0 {
		t.Errorf("worker load = %d after completion, want 0", w.CurrentLoad)
	}
}

func TestExecuteDAGReRoutesOnRetryableFailure(t *testing.T) {
	var mu sync.Mutex
	var firstWorker string
	var attempts []string

	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, workerID)
		if firstWorker == "" {
			firstWorker = workerID
		}
		if workerID == firstWorker {
			return models.ExecutionResult{}, errors.New("connection reset, transient failure")
		}
		return models.ExecutionResult{Success: true, Payload: "done"}, nil
	})

	eng, reg, ids := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 2},
		{Name: "w2", Capabilities: []string{"general"}, MaxConcurrent: 2},
	}, run)

	dag, err := graph.Build("task-2", []*models.Subtask{
		{ID: "only", Description: "solo", Capabilities: []string{"general"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	results, err := eng.ExecuteDAG(context.Background(), dag, models.TierStandard)
	if err != nil {
		t.Fatalf("ExecuteDAG: %v", err)
	}
	res := results["only"]
	if !res.Success {
		t.Fatalf("subtask failed: %s", res.Error)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2: %v", len(attempts), attempts)
	}
	if attempts[0] == attempts[1] {
		t.Errorf("retry reused the failed worker %s", attempts[0])
	}
	if res.WorkerID == firstWorker {
		t.Errorf("result attributed to the failed worker")
	}

	for _, id := range ids {
		if w, _ := reg.Get(id); w.CurrentLoad != 0 {
			t.Errorf("worker %s load = %d after settlement, want 0", id, w.CurrentLoad)
		}
	}
}

func TestExecuteDAGFailsWholeGraphOnTerminalFailure(t *testing.T) {
	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		if st.ID == "b" {
			return models.ExecutionResult{}, errors.New("invalid input: schema mismatch")
		}
		return models.ExecutionResult{Success: true}, nil
	})

	eng, _, _ := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 4},
	}, run)

	dag := diamondDAG(t)
	_, err := eng.ExecuteDAG(context.Background(), dag, models.TierStandard)
	if err == nil {
		t.Fatal("ExecuteDAG succeeded, want failure")
	}
	if !errors.Is(err, ErrDAGFailed) {
		t.Errorf("error %v does not wrap ErrDAGFailed", err)
	}
	if got := recovery.Classify(err); got != recovery.KindInvalidInput {
		t.Errorf("Classify(err) = %s, want %s", got, recovery.KindInvalidInput)
	}

	// Downstream of the failed subtask must be cancelled, never run.
	if got := dag.Status("d"); got != models.SubtaskCancelled {
		t.Errorf("sink status = %s, want %s", got, models.SubtaskCancelled)
	}
}

func TestExecuteDAGExhaustsAttempts(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return models.ExecutionResult{}, errors.New("transient flake")
	})

	eng, _, _ := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 2},
		{Name: "w2", Capabilities: []string{"general"}, MaxConcurrent: 2},
		{Name: "w3", Capabilities: []string{"general"}, MaxConcurrent: 2},
	}, run)

	dag, err := graph.Build("task-3", []*models.Subtask{
		{ID: "only", Description: "solo", Capabilities: []string{"general"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = eng.ExecuteDAG(context.Background(), dag, models.TierStandard)
	if err == nil {
		t.Fatal("ExecuteDAG succeeded, want failure")
	}
	if calls != DefaultConfig().MaxAttempts {
		t.Errorf("runner called %d times, want %d", calls, DefaultConfig().MaxAttempts)
	}
	if !strings.Contains(err.Error(), "did not complete") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestExecuteDAGResourceExhaustedFailsWithoutRetry(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return models.ExecutionResult{}, recovery.Wrap(recovery.KindResourceExhausted, errors.New("context window exceeded"))
	})

	eng, _, _ := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 2},
		{Name: "w2", Capabilities: []string{"general"}, MaxConcurrent: 2},
	}, run)

	dag, err := graph.Build("task-4", []*models.Subtask{
		{ID: "only", Description: "solo", Capabilities: []string{"general"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = eng.ExecuteDAG(context.Background(), dag, models.TierDeep)
	if err == nil {
		t.Fatal("ExecuteDAG succeeded, want failure")
	}
	if calls != 1 {
		t.Errorf("runner called %d times, want 1 (no retry on resource exhaustion)", calls)
	}
	if got := recovery.Classify(err); got != recovery.KindResourceExhausted {
		t.Errorf("Classify(err) = %s, want %s", got, recovery.KindResourceExhausted)
	}
}

func TestExecuteDAGHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		if st.ID == "a" {
			cancel()
			return models.ExecutionResult{Success: true}, nil
		}
		return models.ExecutionResult{Success: true}, nil
	})

	eng, _, _ := newTestEngine(t, []registry.WorkerInfo{
		{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 4},
	}, run)

	dag := diamondDAG(t)
	_, err := eng.ExecuteDAG(ctx, dag, models.TierStandard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExecuteDAG error = %v, want context.Canceled", err)
	}
	if got := dag.Status("d"); got != models.SubtaskCancelled {
		t.Errorf("sink status = %s, want %s", got, models.SubtaskCancelled)
	}
}

func TestExecuteDAGCapsFallbackConfidence(t *testing.T) {
	run := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		return models.ExecutionResult{Success: true, Confidence: 0.95}, nil
	})

	// The only worker covers just the essential first capability, so
	// routing has to fall back.
	eng, _, _ := newTestEngine(t, []registry.WorkerInfo{
		{Name: "narrow", Capabilities: []string{"general"}, MaxConcurrent: 2},
	}, run)

	dag, err := graph.Build("task-5", []*models.Subtask{
		{ID: "only", Description: "solo", Capabilities: []string{"general", "vision"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	results, err := eng.ExecuteDAG(context.Background(), dag, models.TierStandard)
	if err != nil {
		t.Fatalf("ExecuteDAG: %v", err)
	}
	res := results["only"]
	if !res.Success {
		t.Fatalf("subtask failed: %s", res.Error)
	}
	if res.Confidence > 0.5 {
		t.Errorf("fallback confidence = %v, want <= 0.5", res.Confidence)
	}
}

// A long-running attempt must keep publishing liveness markers, or the
// stall detector never sees anything past the start of the subtask.
func TestExecuteDAGPublishesProgressWhileRunning(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	if _, err := reg.Register(registry.WorkerInfo{Name: "w1", Capabilities: []string{"general"}, MaxConcurrent: 2}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rt, err := router.New(reg, router.StrategyLoadBalance)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe(64)

	slow := runner.Func(func(ctx context.Context, st *models.Subtask, workerID string) (models.ExecutionResult, error) {
		select {
		case <-ctx.Done():
			return models.ExecutionResult{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		return models.ExecutionResult{Success: true, Payload: "done", Confidence: 0.9}, nil
	})

	cfg := DefaultConfig()
	cfg.ProgressInterval = 10 * time.Millisecond
	eng := New(rt, reg, slow, bus, cfg)

	dag, err := graph.Build("task-6", []*models.Subtask{
		{ID: "a", Description: "slow", Capabilities: []string{"general"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := eng.ExecuteDAG(context.Background(), dag, models.TierStandard); err != nil {
		t.Fatalf("ExecuteDAG: %v", err)
	}

	progress := 0
drain:
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.SubtaskProgress && ev.SubtaskID == "a" {
				progress++
			}
		default:
			break drain
		}
	}
	if progress == 0 {
		t.Error("no subtask_progress events published during a slow attempt")
	}
}
