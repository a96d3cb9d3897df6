package orchestrator

import (
	"time"

	"github.com/ordino-dev/ordino/internal/aggregate"
	"github.com/ordino-dev/ordino/internal/classify"
	"github.com/ordino-dev/ordino/internal/recovery"
	"github.com/ordino-dev/ordino/internal/router"
	"github.com/ordino-dev/ordino/pkg/models"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	notifier        Notifier
	gate            ConfirmGate
	history         History
	secondary       SecondaryClassifier
	checkpoints     recovery.CheckpointStore
	classifyConfig  classify.Config
	tierSpecs       map[models.Tier]models.TierSpec
	routingStrategy router.Strategy
	aggStrategy     aggregate.Strategy
	slotWait        time.Duration
	confirmGrace    time.Duration
	maxSubtasks     int
}

// WithNotifier sets the external notification channel.
func WithNotifier(n Notifier) Option {
	return func(o *orchestratorOptions) { o.notifier = n }
}

// WithConfirmGate sets the external confirmation gate.
func WithConfirmGate(g ConfirmGate) Option {
	return func(o *orchestratorOptions) { o.gate = g }
}

// WithHistory sets the historical outcome store.
func WithHistory(h History) Option {
	return func(o *orchestratorOptions) { o.history = h }
}

// WithSecondaryClassifier sets the model-backed classification fallback.
func WithSecondaryClassifier(s SecondaryClassifier) Option {
	return func(o *orchestratorOptions) { o.secondary = s }
}

// WithCheckpoints sets the durable checkpoint store.
func WithCheckpoints(cs recovery.CheckpointStore) Option {
	return func(o *orchestratorOptions) { o.checkpoints = cs }
}

// WithClassifyConfig overrides the rule-based classifier configuration.
func WithClassifyConfig(cfg classify.Config) Option {
	return func(o *orchestratorOptions) { o.classifyConfig = cfg }
}

// WithTierSpecs overrides the per-tier execution constraints.
func WithTierSpecs(specs map[models.Tier]models.TierSpec) Option {
	return func(o *orchestratorOptions) { o.tierSpecs = specs }
}

// WithRoutingStrategy sets the worker selection strategy.
func WithRoutingStrategy(s router.Strategy) Option {
	return func(o *orchestratorOptions) { o.routingStrategy = s }
}

// WithAggregationStrategy sets the result merge strategy.
func WithAggregationStrategy(s aggregate.Strategy) Option {
	return func(o *orchestratorOptions) { o.aggStrategy = s }
}

// WithSlotWait bounds how long a task waits for an admission slot.
func WithSlotWait(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.slotWait = d }
}

// WithConfirmGrace sets the grace period before a stalled confirm gate
// counts as proceed.
func WithConfirmGrace(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.confirmGrace = d }
}

// WithMaxSubtasks caps decomposition fan-out.
func WithMaxSubtasks(n int) Option {
	return func(o *orchestratorOptions) { o.maxSubtasks = n }
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		classifyConfig:  classify.DefaultConfig(),
		tierSpecs:       models.DefaultTierSpecs(),
		routingStrategy: router.StrategyLoadBalance,
		aggStrategy:     aggregate.StrategySmartMerge,
		slotWait:        30 * time.Second,
		confirmGrace:    15 * time.Second,
	}
}
