package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

// Policy configures the retry executor.
type Policy struct {
	// MaxRetries is the retry budget per tier attempt.
	MaxRetries int
	// Retryable is the set of error kinds worth retrying.
	Retryable map[Kind]bool
	// Backoff computes delays between retries.
	Backoff Backoff
	// Downgrade enables the tier downgrade chain on resource exhaustion.
	Downgrade bool
}

// DefaultPolicy returns the built-in retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Retryable:  DefaultRetryable(),
		Backoff:    DefaultBackoff(),
		Downgrade:  true,
	}
}

// Operation is a retryable unit of work executed under a tier's
// constraints. Implementations must be safe to invoke repeatedly.
type Operation func(ctx context.Context, tier models.Tier) error

// Outcome reports what the executor did.
type Outcome struct {
	// Err is nil on success.
	Err error
	// Kind classifies the final error.
	Kind Kind
	// FinalTier is the tier the last attempt ran under.
	FinalTier models.Tier
	// Retries is the number of retries consumed across all tiers.
	Retries int
	// History records every attempt in order.
	History []models.AttemptRecord
}

// Executor retries operations with backoff and walks the tier downgrade
// chain on resource exhaustion.
type Executor struct {
	policy Policy
	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given policy.
func NewExecutor(policy Policy) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Retryable == nil {
		policy.Retryable = DefaultRetryable()
	}
	return &Executor{
		policy: policy,
		sleep:  sleepCtx,
	}
}

// Execute runs the operation under the given tier, retrying retryable
// failures with backoff. A resource-exhaustion failure re-invokes the
// operation under the next-lower tier's constraints instead of retrying
// identically; once the chain bottoms out, the failure is terminal.
func (e *Executor) Execute(ctx context.Context, tier models.Tier, op Operation) Outcome {
	out := Outcome{FinalTier: tier}
	downgraded := false

	for {
		err := e.attemptTier(ctx, tier, op, downgraded, &out)
		if err == nil {
			out.Err = nil
			return out
		}

		kind := Classify(err)
		out.Err = err
		out.Kind = kind
		out.FinalTier = tier

		if kind != KindResourceExhausted || !e.policy.Downgrade {
			return out
		}
		next, ok := tier.Downgrade()
		if !ok {
			log.Printf("[recovery] tier %s exhausted at the bottom of the chain, failing terminally", tier)
			return out
		}
		log.Printf("[recovery] resource exhaustion at tier %s, downgrading to %s", tier, next)
		tier = next
		downgraded = true
	}
}

// attemptTier runs the retry loop for one tier.
func (e *Executor) attemptTier(ctx context.Context, tier models.Tier, op Operation, downgraded bool, out *Outcome) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, tier)
		rec := models.AttemptRecord{
			Tier:       tier,
			Attempt:    attempt,
			Downgraded: downgraded && attempt == 1,
		}
		if err == nil {
			out.History = append(out.History, rec)
			return nil
		}
		rec.Error = err.Error()
		out.History = append(out.History, rec)
		lastErr = err

		kind := Classify(err)
		if kind == KindUnknown {
			log.Printf("[recovery] unclassified error (retrying conservatively): %v", err)
		}
		// Resource exhaustion propagates to the downgrade chain.
		if kind == KindResourceExhausted {
			return err
		}
		if !e.policy.Retryable[kind] {
			return err
		}
		if attempt == e.policy.MaxRetries+1 {
			break
		}

		out.Retries++
		delay := e.policy.Backoff.Delay(kind, attempt)
		log.Printf("[recovery] attempt %d at tier %s failed (%s), retrying in %v", attempt, tier, kind, delay)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("retries exhausted at tier %s: %w", tier, lastErr)
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
