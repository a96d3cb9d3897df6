// Package orchestrator wires the full task pipeline: classification,
// confirmation, decomposition, admission, graph execution, aggregation,
// and recovery. Submit is the single entry point.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/internal/admission"
	"github.com/ordino-dev/ordino/internal/aggregate"
	"github.com/ordino-dev/ordino/internal/classify"
	"github.com/ordino-dev/ordino/internal/decompose"
	"github.com/ordino-dev/ordino/internal/engine"
	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/internal/recovery"
	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/internal/router"
	"github.com/ordino-dev/ordino/internal/runner"
	"github.com/ordino-dev/ordino/internal/state"
	"github.com/ordino-dev/ordino/pkg/models"
)

// SubmitOptions are the recognized per-task options.
type SubmitOptions struct {
	// ForceTier bypasses classification entirely.
	ForceTier models.Tier
	// MultiAgent allows decomposition into a subtask graph.
	MultiAgent bool
	// MaxRetries overrides the default retry budget when positive.
	MaxRetries int
	// Timeout bounds the whole submission when positive.
	Timeout time.Duration
	// Aggregation overrides the default merge strategy.
	Aggregation aggregate.Strategy
	// Priorities feeds the priority aggregation strategy.
	Priorities map[string]int
}

// Orchestrator drives tasks end to end.
type Orchestrator struct {
	classifier *classify.Classifier
	decomposer *decompose.Decomposer
	reg        *registry.Registry
	rt         *router.Router
	adm        *admission.Controller
	eng        *engine.Engine
	agg        *aggregate.Aggregator
	bus        *events.Bus
	opts       orchestratorOptions

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates an Orchestrator over the given registry and worker endpoint.
func New(reg *registry.Registry, run runner.Runner, bus *events.Bus, opts ...Option) (*Orchestrator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cls, err := classify.New(o.classifyConfig)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	decCfg := decompose.DefaultConfig()
	if o.maxSubtasks > 0 {
		decCfg.MaxSubtasks = o.maxSubtasks
	}

	rt, err := router.New(reg, o.routingStrategy)
	if err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		classifier: cls,
		decomposer: decompose.New(decCfg),
		reg:        reg,
		rt:         rt,
		adm:        admission.New(o.tierSpecs),
		eng:        engine.New(rt, reg, run, bus, engine.DefaultConfig()),
		agg:        aggregate.New(aggregate.DefaultConfig()),
		bus:        bus,
		opts:       o,
		active:     make(map[string]context.CancelFunc),
	}

	// Heartbeat lapses surface on the bus so the monitor and watch view
	// see them; the sweep itself runs once Registry.Start is called.
	reg.SetOnOffline(func(workerID string) {
		orch.publish(events.Event{Type: events.WorkerOffline, WorkerID: workerID})
	})

	return orch, nil
}

// Registry exposes the worker registry for registration and stats.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.reg
}

// Submit runs one task through the whole pipeline and reports the result.
// The returned TaskResult is populated on failure too: callers always get
// the taxonomy kind, tier, retry count and last error, never a bare bool.
func (o *Orchestrator) Submit(ctx context.Context, taskText string, opts SubmitOptions) (models.TaskResult, error) {
	if opts.ForceTier != "" && !opts.ForceTier.Valid() {
		return models.TaskResult{}, fmt.Errorf("forced tier %q is not a known tier", opts.ForceTier)
	}

	task := models.Task{ID: uuid.New().String()[:8], Text: taskText, CreatedAt: time.Now()}
	start := time.Now()
	result := models.TaskResult{TaskID: task.ID}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.active[task.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, task.ID)
		o.mu.Unlock()
	}()

	o.publish(events.Event{Type: events.TaskSubmitted, TaskID: task.ID, Message: task.Text})
	o.notify(task.ID, events.TaskSubmitted, task.Text)

	verdict := o.classifyTask(ctx, task, opts)
	tier := verdict.SuggestedTier
	if !opts.MultiAgent {
		verdict.ShouldDecompose = false
	}
	o.publish(events.Event{Type: events.TaskClassified, TaskID: task.ID, Tier: tier, Message: verdict.Reason})
	log.Printf("[orchestrator] task %s classified: tier=%s level=%s decompose=%v confidence=%.2f",
		task.ID, tier, verdict.Level, verdict.ShouldDecompose, verdict.Confidence)

	// The confirm gate sees non-trivial tiers before machinery is
	// allocated to them.
	if tier != models.TierSimple && o.opts.gate != nil {
		switch o.confirm(ctx, task, o.estimate(task, tier, verdict)) {
		case DecisionDowngrade:
			if next, ok := tier.Downgrade(); ok {
				log.Printf("[orchestrator] task %s downgraded to %s at the gate", task.ID, next)
				tier = next
			}
		case DecisionCancel:
			result.Duration = time.Since(start)
			result.TiersUsed = []models.Tier{tier}
			result.Failure = &models.FailureInfo{Kind: "cancelled", Tier: tier, LastError: "cancelled at confirmation"}
			o.publish(events.Event{Type: events.TaskCancelled, TaskID: task.ID, Tier: tier})
			o.notify(task.ID, events.TaskCancelled, "cancelled at confirmation")
			return result, nil
		}
	}

	policy := recovery.DefaultPolicy()
	if opts.MaxRetries > 0 {
		policy.MaxRetries = opts.MaxRetries
	}
	exec := recovery.NewExecutor(policy)

	var payload string
	var dagSummary *models.DAGSummary
	op := func(ctx context.Context, t models.Tier) error {
		return o.runTier(ctx, task, verdict, t, opts, &payload, &dagSummary)
	}

	var outcome recovery.Outcome
	if o.opts.checkpoints != nil {
		execErr := exec.ExecuteWithCheckpoint(ctx, task.ID, o.opts.checkpoints, func(ctx context.Context, cp *recovery.Checkpoint) error {
			if cp != nil {
				log.Printf("[orchestrator] task %s resuming (attempt %d, last step %q)", task.ID, cp.Attempt, cp.Step)
			}
			outcome = exec.Execute(ctx, tier, op)
			return outcome.Err
		})
		outcome.Err = execErr
	} else {
		outcome = exec.Execute(ctx, tier, op)
	}

	for _, rec := range outcome.History {
		if rec.Downgraded {
			o.publish(events.Event{Type: events.TierDowngraded, TaskID: task.ID, Tier: rec.Tier})
		}
	}

	result.Duration = time.Since(start)
	result.History = outcome.History
	result.TiersUsed = tiersUsed(outcome.History, tier)
	result.DAG = dagSummary

	if outcome.Err != nil {
		result.Failure = &models.FailureInfo{
			Kind:      string(recovery.Classify(outcome.Err)),
			Tier:      outcome.FinalTier,
			Retries:   outcome.Retries,
			LastError: outcome.Err.Error(),
		}
		o.publish(events.Event{Type: events.TaskFailed, TaskID: task.ID, Tier: outcome.FinalTier, Err: outcome.Err})
		o.notify(task.ID, events.TaskFailed, outcome.Err.Error())
		o.record(task, result)
		return result, outcome.Err
	}

	result.Success = true
	result.Payload = payload
	o.publish(events.Event{Type: events.TaskCompleted, TaskID: task.ID, Tier: result.TiersUsed[len(result.TiersUsed)-1], Duration: result.Duration})
	o.notify(task.ID, events.TaskCompleted, payload)
	o.record(task, result)
	return result, nil
}

// Cancel aborts a running task. All non-terminal subtasks become
// cancelled, slots and load reservations are released on the way out.
// Cancelling an unknown or already-terminal task is a no-op and returns
// false.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[taskID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	o.publish(events.Event{Type: events.TaskCancelled, TaskID: taskID})
	return true
}

// CancelAll aborts every running task.
func (o *Orchestrator) CancelAll() int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.Cancel(id)
	}
	return len(ids)
}

// runTier is one attempt of the whole pipeline under one tier's
// constraints. The recovery executor re-invokes it on a lower tier when
// resource exhaustion is hit.
func (o *Orchestrator) runTier(ctx context.Context, task models.Task, verdict models.Verdict, tier models.Tier, opts SubmitOptions, payload *string, dagSummary **models.DAGSummary) error {
	v := verdict
	v.SuggestedTier = tier
	if tier == models.TierSimple {
		v.ShouldDecompose = false
	}

	dag, err := o.decomposer.Decompose(task, v)
	if err != nil {
		// Construction errors are fatal, never retried.
		return recovery.Wrap(recovery.KindInvalidInput, err)
	}
	summary := dag.Summary()
	*dagSummary = &summary

	// Trivial single-node simple tasks skip admission entirely.
	if tier != models.TierSimple || dag.Size() > 1 {
		if err := o.adm.WaitForSlot(ctx, tier, task.ID, o.opts.slotWait); err != nil {
			// Slot starvation at a heavy tier is a capacity problem;
			// classify it so the downgrade chain can react.
			return recovery.Wrap(recovery.KindResourceExhausted, err)
		}
		defer o.adm.ReleaseSlot(tier, task.ID)
	}

	if o.opts.checkpoints != nil {
		cp := recovery.Checkpoint{
			TaskID:  task.ID,
			Step:    "decomposed",
			Payload: fmt.Sprintf("tier=%s subtasks=%d", tier, dag.Size()),
		}
		if err := o.opts.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			log.Printf("[orchestrator] save checkpoint for %s: %v", task.ID, err)
		}
	}

	results, err := o.eng.ExecuteDAG(ctx, dag, tier)
	if err != nil {
		return err
	}

	strategy := o.opts.aggStrategy
	if opts.Aggregation != "" {
		strategy = opts.Aggregation
	}
	res, err := o.agg.AggregateGraph(dag, results, strategy, aggregate.Options{Priorities: opts.Priorities})
	if err != nil {
		return recovery.Wrap(recovery.KindInvalidInput, err)
	}
	*payload = res.Payload
	return nil
}

// classifyTask produces the verdict: forced tier, rule-based, or the
// secondary classifier when confidence is low.
func (o *Orchestrator) classifyTask(ctx context.Context, task models.Task, opts SubmitOptions) models.Verdict {
	if opts.ForceTier != "" {
		return forcedVerdict(opts.ForceTier)
	}

	v := o.classifier.Classify(task.Text)
	if v.Confidence >= o.classifier.Threshold() || o.opts.secondary == nil {
		return v
	}

	sv, err := o.opts.secondary.Classify(ctx, task.Text)
	if err != nil {
		log.Printf("[orchestrator] secondary classifier failed, keeping rule-based verdict: %v", err)
		return v
	}
	if err := classify.ValidateExternal(sv); err != nil {
		log.Printf("[orchestrator] secondary verdict rejected: %v", err)
		return v
	}
	return sv
}

func forcedVerdict(tier models.Tier) models.Verdict {
	v := models.Verdict{
		SuggestedTier: tier,
		Level:         models.ComplexitySimple,
		Confidence:    1.0,
		Reason:        "tier forced by caller",
	}
	switch tier {
	case models.TierBatch, models.TierOrchestrator, models.TierDeep:
		v.Level = models.ComplexityComplex
		v.ShouldDecompose = true
		v.EstimatedSubtasks = 4
	case models.TierStandard:
		v.Level = models.ComplexityMedium
	}
	return v
}

// estimate builds what the confirm gate sees, calibrated from history
// when the store is reachable.
func (o *Orchestrator) estimate(task models.Task, tier models.Tier, verdict models.Verdict) Estimate {
	spec := o.opts.tierSpecs[tier]
	est := Estimate{
		Tier:     tier,
		Subtasks: verdict.EstimatedSubtasks,
		Cost:     spec.CostWeight * float64(utf8.RuneCountInString(task.Text)) / 100,
		Duration: spec.Timeout,
	}
	if est.Subtasks < 1 {
		est.Subtasks = 1
	}
	if o.opts.history == nil {
		return est
	}
	h, err := o.opts.history.TierStats(tier, 30)
	if err != nil {
		log.Printf("[orchestrator] history unavailable, using static estimates: %v", err)
		return est
	}
	if h.Total > 0 && h.AvgDuration > 0 {
		est.Duration = h.AvgDuration
	}
	return est
}

// confirm consults the gate, treating a stall past the grace period as an
// implicit proceed.
func (o *Orchestrator) confirm(ctx context.Context, task models.Task, est Estimate) Decision {
	type answer struct {
		d   Decision
		err error
	}
	cctx, cancel := context.WithTimeout(ctx, o.opts.confirmGrace)
	defer cancel()

	ch := make(chan answer, 1)
	go func() {
		d, err := o.opts.gate.Confirm(cctx, task.ID, est)
		ch <- answer{d, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			log.Printf("[orchestrator] confirm gate error for %s, proceeding: %v", task.ID, a.err)
			return DecisionProceed
		}
		switch a.d {
		case DecisionProceed, DecisionDowngrade, DecisionCancel:
			return a.d
		default:
			log.Printf("[orchestrator] confirm gate returned unknown decision %q, proceeding", a.d)
			return DecisionProceed
		}
	case <-cctx.Done():
		log.Printf("[orchestrator] confirm gate timed out for %s, proceeding after grace period", task.ID)
		return DecisionProceed
	}
}

func (o *Orchestrator) record(task models.Task, result models.TaskResult) {
	if o.opts.history == nil {
		return
	}
	out := state.Outcome{
		TaskID:   task.ID,
		Tier:     result.TiersUsed[len(result.TiersUsed)-1],
		Success:  result.Success,
		Duration: result.Duration,
	}
	if result.DAG != nil {
		out.Subtasks = result.DAG.SubtaskCount
	}
	for _, rec := range result.History {
		if rec.Downgraded {
			out.Downgrades++
		}
	}
	if result.Failure != nil {
		out.ErrorKind = result.Failure.Kind
	}
	if err := o.opts.history.RecordOutcome(out); err != nil {
		log.Printf("[orchestrator] record outcome for %s: %v", task.ID, err)
	}
}

// notify is fire-and-forget: a failing channel never affects execution.
func (o *Orchestrator) notify(taskID string, t events.Type, payload string) {
	if o.opts.notifier == nil {
		return
	}
	if err := o.opts.notifier.Notify(taskID, t, payload); err != nil {
		log.Printf("[orchestrator] notify %s for %s: %v", t, taskID, err)
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// tiersUsed extracts the ordered distinct tier sequence from the attempt
// history, falling back to the starting tier when the history is empty.
func tiersUsed(history []models.AttemptRecord, start models.Tier) []models.Tier {
	var out []models.Tier
	for _, rec := range history {
		if len(out) == 0 || out[len(out)-1] != rec.Tier {
			out = append(out, rec.Tier)
		}
	}
	if len(out) == 0 {
		out = []models.Tier{start}
	}
	return out
}
