// Package registry tracks execution workers, their capabilities, load, and
// health. It is the single owner of worker load counters; all load changes
// go through atomic check-and-update operations under one lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/models"
)

// ErrWorkerNotFound indicates an operation referenced an unknown worker.
var ErrWorkerNotFound = errors.New("worker not found")

// Config holds registry tuning.
type Config struct {
	// HealthInterval is how often the background loop scans for stale workers.
	HealthInterval time.Duration
	// OfflineThreshold is how long a worker may go without a heartbeat
	// before it is flipped offline.
	OfflineThreshold time.Duration
}

// DefaultConfig returns the built-in registry tuning.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   30 * time.Second,
		OfflineThreshold: 90 * time.Second,
	}
}

// WorkerInfo describes a worker at registration time.
type WorkerInfo struct {
	// Name is the display name.
	Name string
	// Capabilities lists what the worker can do.
	Capabilities []string
	// MaxConcurrent is the worker's concurrency capacity.
	MaxConcurrent int
	// CostPerUnit is the declared cost per unit of work.
	CostPerUnit float64
}

// Requirements filters worker discovery.
type Requirements struct {
	// Capabilities are the capabilities a candidate must all declare.
	Capabilities []string
	// PreferHealthy sorts healthy workers ahead of busy ones.
	PreferHealthy bool
}

// OnOffline is invoked (outside the registry lock) when the health loop
// flips a worker offline. The execution engine uses this to treat in-flight
// subtasks on that worker as failed-and-retryable.
type OnOffline func(workerID string)

// Registry is the mutex-guarded worker table.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*models.Worker
	cfg       Config
	onOffline OnOffline
	now       func() time.Time
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = DefaultConfig().OfflineThreshold
	}
	return &Registry{
		workers: make(map[string]*models.Worker),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetOnOffline sets the callback invoked when a worker is presumed dead.
func (r *Registry) SetOnOffline(fn OnOffline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOffline = fn
}

// Register adds a worker and returns its assigned ID.
func (r *Registry) Register(info WorkerInfo) (string, error) {
	if info.MaxConcurrent <= 0 {
		return "", fmt.Errorf("worker %q has non-positive capacity %d", info.Name, info.MaxConcurrent)
	}
	if len(info.Capabilities) == 0 {
		return "", fmt.Errorf("worker %q declares no capabilities", info.Name)
	}

	id := uuid.New().String()[:8]
	w := &models.Worker{
		ID:            id,
		Name:          info.Name,
		Capabilities:  append([]string(nil), info.Capabilities...),
		MaxConcurrent: info.MaxConcurrent,
		CostPerUnit:   info.CostPerUnit,
		Status:        models.WorkerHealthy,
		LastHeartbeat: r.now(),
	}

	r.mu.Lock()
	r.workers[id] = w
	r.mu.Unlock()

	log.Printf("[registry] registered worker %s (%s) caps=%v capacity=%d", id, info.Name, info.Capabilities, info.MaxConcurrent)
	return id, nil
}

// Unregister removes a worker. Returns false if the worker was unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return false
	}
	delete(r.workers, id)
	log.Printf("[registry] unregistered worker %s", id)
	return true
}

// Heartbeat records that a worker is alive. An offline worker that
// heartbeats again is restored to healthy with zero load.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("heartbeat from %s: %w", id, ErrWorkerNotFound)
	}
	w.LastHeartbeat = r.now()
	if w.Status == models.WorkerOffline {
		w.Status = models.WorkerHealthy
		w.CurrentLoad = 0
		log.Printf("[registry] worker %s back online", id)
	}
	return nil
}

// UpdateLoad adjusts a worker's load counter by delta, atomically with the
// capacity check. A positive delta that would exceed capacity is rejected,
// which is how routing reserves the last free slot without double-assigning
// it.
func (r *Registry) UpdateLoad(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("update load of %s: %w", id, ErrWorkerNotFound)
	}

	next := w.CurrentLoad + delta
	if next < 0 {
		next = 0
	}
	if delta > 0 {
		if w.Status == models.WorkerOffline {
			return fmt.Errorf("worker %s is offline", id)
		}
		if next > w.MaxConcurrent {
			return fmt.Errorf("worker %s is at capacity (%d/%d)", id, w.CurrentLoad, w.MaxConcurrent)
		}
	}
	w.CurrentLoad = next

	if w.Status != models.WorkerOffline {
		if w.CurrentLoad >= w.MaxConcurrent {
			w.Status = models.WorkerBusy
		} else {
			w.Status = models.WorkerHealthy
		}
	}
	return nil
}

// RecordOutcome folds one execution outcome into a worker's lifetime stats.
func (r *Registry) RecordOutcome(id string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	total := w.Completed + w.Failed
	if success {
		w.Completed++
	} else {
		w.Failed++
	}
	// Running average over all observed executions.
	w.AvgDuration = time.Duration((int64(w.AvgDuration)*total + int64(duration)) / (total + 1))
}

// Discover returns workers able to take the given work: online, declaring
// every required capability, with at least one free slot. Candidates are
// sorted healthy-first then lowest-load-ratio-first when PreferHealthy is
// requested, else lowest-load-ratio-first only.
func (r *Registry) Discover(req Requirements) []models.Worker {
	r.mu.RLock()
	var out []models.Worker
	for _, w := range r.workers {
		if w.Status == models.WorkerOffline {
			continue
		}
		if w.FreeSlots() == 0 {
			continue
		}
		ok := true
		for _, cap := range req.Capabilities {
			if !w.HasCapability(cap) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		out = append(out, *w)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if req.PreferHealthy && out[i].Status != out[j].Status {
			return out[i].Status == models.WorkerHealthy
		}
		return out[i].LoadRatio() < out[j].LoadRatio()
	})
	return out
}

// Get returns a snapshot of one worker.
func (r *Registry) Get(id string) (models.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return models.Worker{}, false
	}
	return *w, true
}

// Stats summarizes the registry.
type Stats struct {
	// Total is the number of registered workers.
	Total int
	// Healthy, Busy, Offline count workers per status.
	Healthy int
	Busy    int
	Offline int
	// TotalLoad is the sum of current loads.
	TotalLoad int
	// TotalCapacity is the sum of max concurrency.
	TotalCapacity int
}

// GetStats returns a summary of the registry.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for _, w := range r.workers {
		s.Total++
		s.TotalLoad += w.CurrentLoad
		s.TotalCapacity += w.MaxConcurrent
		switch w.Status {
		case models.WorkerHealthy:
			s.Healthy++
		case models.WorkerBusy:
			s.Busy++
		case models.WorkerOffline:
			s.Offline++
		}
	}
	return s
}

// Start runs the background health loop until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepStale()
			}
		}
	}()
}

// SweepStale flips workers whose heartbeat exceeds the offline threshold to
// offline and resets their load. Load is unrecoverable once a worker is
// presumed dead; in-flight subtasks on it must be re-routed, never awaited.
func (r *Registry) SweepStale() {
	cutoff := r.now().Add(-r.cfg.OfflineThreshold)

	r.mu.Lock()
	var flipped []string
	for id, w := range r.workers {
		if w.Status != models.WorkerOffline && w.LastHeartbeat.Before(cutoff) {
			w.Status = models.WorkerOffline
			w.CurrentLoad = 0
			flipped = append(flipped, id)
		}
	}
	fn := r.onOffline
	r.mu.Unlock()

	for _, id := range flipped {
		log.Printf("[registry] worker %s heartbeat lapsed, marked offline", id)
		if fn != nil {
			fn(id)
		}
	}
}

// setNow overrides the clock for tests.
func (r *Registry) setNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}
