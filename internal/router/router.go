// Package router binds subtasks to workers. Selection and reservation are
// one step: a route is only returned after the chosen worker's load counter
// was incremented, so two concurrent calls can never double-assign the last
// free slot.
package router

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ordino-dev/ordino/internal/registry"
	"github.com/ordino-dev/ordino/pkg/models"
)

// ErrNoCapableWorker indicates discovery produced no routable candidate.
var ErrNoCapableWorker = errors.New("no capable worker")

// Strategy selects among candidate workers. The set is closed; new
// strategies are code changes, not runtime registration.
type Strategy string

const (
	// StrategyCapability ranks by fraction of required capabilities present.
	StrategyCapability Strategy = "capability"
	// StrategyLoadBalance ranks by lowest load ratio.
	StrategyLoadBalance Strategy = "load_balance"
	// StrategyCost ranks by lowest declared cost per unit.
	StrategyCost Strategy = "cost"
	// StrategyPerformance ranks by lowest historical average duration.
	StrategyPerformance Strategy = "performance"
	// StrategyRoundRobin cycles through candidates in turn.
	StrategyRoundRobin Strategy = "round_robin"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCapability, StrategyLoadBalance, StrategyCost, StrategyPerformance, StrategyRoundRobin:
		return true
	default:
		return false
	}
}

// Router routes subtasks onto registry workers.
type Router struct {
	reg      *registry.Registry
	strategy Strategy

	mu      sync.Mutex
	rrIndex uint64
}

// New creates a Router using the given default strategy.
func New(reg *registry.Registry, strategy Strategy) (*Router, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown routing strategy %q", strategy)
	}
	return &Router{reg: reg, strategy: strategy}, nil
}

// Route selects and reserves a worker for the subtask. Workers whose IDs
// appear in exclude are skipped. When strict discovery yields nothing, the
// required-capability set is relaxed to its first (most essential)
// capability and retried once; such routes are flagged IsFallback.
func (r *Router) Route(subtask *models.Subtask, exclude map[string]bool) (models.Route, error) {
	route, err := r.routeWith(subtask, subtask.Capabilities, exclude)
	if err == nil {
		return route, nil
	}
	if !errors.Is(err, ErrNoCapableWorker) || len(subtask.Capabilities) <= 1 {
		return models.Route{}, err
	}

	essential := subtask.Capabilities[:1]
	log.Printf("[router] no worker for %s with caps %v, relaxing to %v", subtask.ID, subtask.Capabilities, essential)
	route, err = r.routeWith(subtask, essential, exclude)
	if err != nil {
		return models.Route{}, err
	}
	route.IsFallback = true
	return route, nil
}

// ReRoute releases the failed route's reservation, excludes its worker, and
// routes again.
func (r *Router) ReRoute(failed models.Route, subtask *models.Subtask, exclude map[string]bool) (models.Route, error) {
	if err := r.reg.UpdateLoad(failed.WorkerID, -1); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
		log.Printf("[router] release load of %s: %v", failed.WorkerID, err)
	}
	if exclude == nil {
		exclude = make(map[string]bool)
	}
	exclude[failed.WorkerID] = true
	return r.Route(subtask, exclude)
}

// Release drops the reservation held by a route after its subtask settled.
func (r *Router) Release(route models.Route) {
	if err := r.reg.UpdateLoad(route.WorkerID, -1); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
		log.Printf("[router] release load of %s: %v", route.WorkerID, err)
	}
}

func (r *Router) routeWith(subtask *models.Subtask, caps []string, exclude map[string]bool) (models.Route, error) {
	candidates := r.discover(caps)

	ranked := r.rank(candidates, caps)
	for _, w := range ranked {
		if exclude[w.ID] {
			continue
		}
		// The reservation itself is the atomic step; a candidate that
		// filled up since the snapshot simply fails and the next is tried.
		if err := r.reg.UpdateLoad(w.ID, 1); err != nil {
			continue
		}
		return models.Route{
			SubtaskID:  subtask.ID,
			WorkerID:   w.ID,
			Strategy:   string(r.strategy),
			AssignedAt: time.Now(),
		}, nil
	}
	return models.Route{}, fmt.Errorf("route subtask %s: %w", subtask.ID, ErrNoCapableWorker)
}

// discover snapshots routable candidates. The capability strategy matches
// partially and scores the fraction itself; every other strategy requires
// the full capability set.
func (r *Router) discover(caps []string) []models.Worker {
	if r.strategy == StrategyCapability {
		all := r.reg.Discover(registry.Requirements{PreferHealthy: true})
		var out []models.Worker
		for _, w := range all {
			if capabilityScore(&w, caps) > 0 {
				out = append(out, w)
			}
		}
		return out
	}
	return r.reg.Discover(registry.Requirements{Capabilities: caps, PreferHealthy: true})
}

// rank orders candidates best-first per the configured strategy.
func (r *Router) rank(candidates []models.Worker, caps []string) []models.Worker {
	if len(candidates) == 0 {
		return nil
	}
	out := append([]models.Worker(nil), candidates...)

	switch r.strategy {
	case StrategyCapability:
		sort.SliceStable(out, func(i, j int) bool {
			return capabilityScore(&out[i], caps) > capabilityScore(&out[j], caps)
		})
	case StrategyLoadBalance:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].LoadRatio() < out[j].LoadRatio()
		})
	case StrategyCost:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CostPerUnit < out[j].CostPerUnit
		})
	case StrategyPerformance:
		sort.SliceStable(out, func(i, j int) bool {
			// Workers with no history sort last.
			ad, bd := out[i].AvgDuration, out[j].AvgDuration
			if ad == 0 {
				return false
			}
			if bd == 0 {
				return true
			}
			return ad < bd
		})
	case StrategyRoundRobin:
		r.mu.Lock()
		start := int(r.rrIndex % uint64(len(out)))
		r.rrIndex++
		r.mu.Unlock()
		rotated := make([]models.Worker, 0, len(out))
		rotated = append(rotated, out[start:]...)
		rotated = append(rotated, out[:start]...)
		out = rotated
	}
	return out
}

// capabilityScore is the fraction of required capabilities the worker
// declares. An empty requirement matches fully.
func capabilityScore(w *models.Worker, caps []string) float64 {
	if len(caps) == 0 {
		return 1.0
	}
	var have int
	for _, c := range caps {
		if w.HasCapability(c) {
			have++
		}
	}
	return float64(have) / float64(len(caps))
}

