// Package admission bounds how many tasks of each tier run at once.
// Slots are independent of worker routing: they govern how many tasks of a
// tier may run, not which worker runs them.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// ErrSlotTimeout indicates a slot wait expired before a slot freed up.
var ErrSlotTimeout = errors.New("timed out waiting for admission slot")

// Controller is the mutex-guarded slot table. All check-and-reserve logic
// happens under one lock so two callers can never both observe a free slot
// and both take it.
type Controller struct {
	mu sync.Mutex
	// limits is the per-tier concurrent-task cap.
	limits map[models.Tier]int
	// holders maps tier to the set of task IDs currently holding a slot.
	holders map[models.Tier]map[string]bool
	// pollInterval is how often WaitForSlot re-attempts acquisition.
	pollInterval time.Duration
}

// New creates a Controller from per-tier specs.
func New(specs map[models.Tier]models.TierSpec) *Controller {
	limits := make(map[models.Tier]int, len(specs))
	holders := make(map[models.Tier]map[string]bool, len(specs))
	for tier, spec := range specs {
		limits[tier] = spec.MaxConcurrent
		holders[tier] = make(map[string]bool)
	}
	return &Controller{
		limits:       limits,
		holders:      holders,
		pollInterval: 100 * time.Millisecond,
	}
}

// AcquireSlot attempts to reserve a slot for the task. The count check and
// the reservation are one indivisible operation. Acquiring a slot the task
// already holds is a no-op success.
func (c *Controller) AcquireSlot(tier models.Tier, taskID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[tier]
	if !ok {
		return false, fmt.Errorf("unknown tier %q", tier)
	}
	held := c.holders[tier]
	if held[taskID] {
		return true, nil
	}
	if len(held) >= limit {
		return false, nil
	}
	held[taskID] = true
	return true, nil
}

// WaitForSlot polls AcquireSlot until success, context cancellation, or the
// timeout, at which point it returns ErrSlotTimeout rather than blocking
// forever.
func (c *Controller) WaitForSlot(ctx context.Context, tier models.Tier, taskID string, timeout time.Duration) error {
	ok, err := c.AcquireSlot(tier, taskID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("tier %s, task %s: %w", tier, taskID, ErrSlotTimeout)
		case <-ticker.C:
			ok, err := c.AcquireSlot(tier, taskID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}

// ReleaseSlot frees the task's slot. Releasing a slot the task does not
// hold is a no-op; callers release on every exit path, including
// cancellation, because a leaked slot permanently shrinks the tier's
// capacity.
func (c *Controller) ReleaseSlot(tier models.Tier, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.holders[tier]
	if !ok {
		return
	}
	if held[taskID] {
		delete(held, taskID)
		log.Printf("[admission] released %s slot for task %s (%d/%d in use)", tier, taskID, len(held), c.limits[tier])
	}
}

// InUse returns the number of slots currently held for a tier.
func (c *Controller) InUse(tier models.Tier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders[tier])
}

// SetPollInterval overrides the wait poll interval (tests shorten it).
func (c *Controller) SetPollInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.pollInterval = d
	}
}
