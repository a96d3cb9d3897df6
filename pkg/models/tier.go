package models

import "time"

// Tier represents the execution strategy tier for a task.
type Tier string

const (
	// TierSimple is for short, single-shot tasks with no decomposition.
	TierSimple Tier = "simple"
	// TierStandard is for ordinary tasks executed by a single worker.
	TierStandard Tier = "standard"
	// TierBatch is for many-targets tasks fanned out over parallel workers.
	TierBatch Tier = "batch"
	// TierOrchestrator is for multi-step tasks decomposed into a dependency graph.
	TierOrchestrator Tier = "orchestrator"
	// TierDeep is for long-running deep-analysis tasks.
	TierDeep Tier = "deep"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSimple, TierStandard, TierBatch, TierOrchestrator, TierDeep:
		return true
	default:
		return false
	}
}

// TierSpec holds the execution constraints attached to a tier.
// The tier set is closed; specs are configuration, not runtime-extensible.
type TierSpec struct {
	// MaxConcurrent is the maximum number of tasks of this tier running at once.
	MaxConcurrent int `json:"max_concurrent"`
	// Timeout is the default per-task timeout.
	Timeout time.Duration `json:"timeout"`
	// MaxRetries is the default retry budget.
	MaxRetries int `json:"max_retries"`
	// CostWeight is the relative cost per unit of task-text length.
	CostWeight float64 `json:"cost_weight"`
}

// DefaultTierSpecs returns the built-in constraints for every tier.
// Config may override these values but never add or remove tiers.
func DefaultTierSpecs() map[Tier]TierSpec {
	return map[Tier]TierSpec{
		TierSimple:       {MaxConcurrent: 8, Timeout: 30 * time.Second, MaxRetries: 1, CostWeight: 0.5},
		TierStandard:     {MaxConcurrent: 5, Timeout: 2 * time.Minute, MaxRetries: 2, CostWeight: 1.0},
		TierBatch:        {MaxConcurrent: 3, Timeout: 5 * time.Minute, MaxRetries: 2, CostWeight: 2.0},
		TierOrchestrator: {MaxConcurrent: 2, Timeout: 10 * time.Minute, MaxRetries: 3, CostWeight: 4.0},
		TierDeep:         {MaxConcurrent: 1, Timeout: 20 * time.Minute, MaxRetries: 3, CostWeight: 8.0},
	}
}

// Downgrade returns the next-lower tier to fall back to on resource
// exhaustion, and false when the tier is already the bottom of the chain.
func (t Tier) Downgrade() (Tier, bool) {
	switch t {
	case TierDeep:
		return TierOrchestrator, true
	case TierOrchestrator:
		return TierStandard, true
	case TierBatch:
		return TierStandard, true
	case TierStandard:
		return TierSimple, true
	default:
		return t, false
	}
}
