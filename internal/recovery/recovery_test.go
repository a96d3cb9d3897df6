package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

func instantExecutor(policy Policy) *Executor {
	e := NewExecutor(policy)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed wins", Wrapf(KindQuota, "soft limit"), KindQuota},
		{"wrapped typed", Wrap(KindPermission, errors.New("nope")), KindPermission},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"rate limited", errors.New("429 too many requests"), KindRateLimited},
		{"resource", errors.New("model overloaded"), KindResourceExhausted},
		{"permission", errors.New("access denied for user"), KindPermission},
		{"invalid", errors.New("malformed payload"), KindInvalidInput},
		{"not found", errors.New("worker not found"), KindNotFound},
		{"quota", errors.New("monthly quota exceeded"), KindQuota},
		{"network", errors.New("connection reset by peer"), KindTransient},
		{"mystery", errors.New("splines unreticulated"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	d1 := b.Delay(KindTransient, 1)
	d3 := b.Delay(KindTransient, 3)
	if d3 <= d1 {
		t.Errorf("delay did not grow: attempt1=%v attempt3=%v", d1, d3)
	}
	if d := b.Delay(KindTransient, 20); d > time.Second {
		t.Errorf("delay %v exceeds cap", d)
	}
}

func TestBackoff_RateLimitBacksOffHarder(t *testing.T) {
	b := DefaultBackoff()
	b.JitterFraction = 0
	if rl, tr := b.Delay(KindRateLimited, 1), b.Delay(KindTransient, 1); rl <= tr {
		t.Errorf("rate-limit delay %v not longer than transient %v", rl, tr)
	}
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	e := instantExecutor(DefaultPolicy())

	var calls int
	out := e.Execute(context.Background(), models.TierStandard, func(ctx context.Context, tier models.Tier) error {
		calls++
		if calls < 3 {
			return Wrapf(KindTransient, "flaky network")
		}
		return nil
	})

	if out.Err != nil {
		t.Fatalf("Execute failed: %v", out.Err)
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}
	if out.Retries != 2 {
		t.Errorf("Retries = %d, want 2", out.Retries)
	}
}

func TestExecute_FatalKindsAreNotRetried(t *testing.T) {
	for _, kind := range []Kind{KindPermission, KindInvalidInput, KindNotFound, KindQuota} {
		t.Run(string(kind), func(t *testing.T) {
			e := instantExecutor(DefaultPolicy())
			var calls int
			out := e.Execute(context.Background(), models.TierStandard, func(ctx context.Context, tier models.Tier) error {
				calls++
				return Wrapf(kind, "fatal")
			})
			if out.Err == nil {
				t.Fatal("Execute succeeded on a fatal error")
			}
			if calls != 1 {
				t.Errorf("fatal %s invoked the operation %d times, want 1", kind, calls)
			}
			if out.Kind != kind {
				t.Errorf("Kind = %s, want %s", out.Kind, kind)
			}
		})
	}
}

func TestExecute_DowngradeChain(t *testing.T) {
	e := instantExecutor(DefaultPolicy())

	var tiers []models.Tier
	out := e.Execute(context.Background(), models.TierDeep, func(ctx context.Context, tier models.Tier) error {
		tiers = append(tiers, tier)
		if tier == models.TierDeep {
			return Wrapf(KindResourceExhausted, "model too large")
		}
		return nil
	})

	if out.Err != nil {
		t.Fatalf("Execute failed: %v", out.Err)
	}
	want := []models.Tier{models.TierDeep, models.TierOrchestrator}
	if len(tiers) != len(want) || tiers[0] != want[0] || tiers[1] != want[1] {
		t.Errorf("tiers tried = %v, want %v", tiers, want)
	}
	if out.FinalTier != models.TierOrchestrator {
		t.Errorf("FinalTier = %s, want orchestrator", out.FinalTier)
	}
	// History marks the first attempt after a downgrade.
	var sawDowngrade bool
	for _, rec := range out.History {
		if rec.Downgraded {
			sawDowngrade = true
		}
	}
	if !sawDowngrade {
		t.Error("history has no downgraded attempt record")
	}
}

func TestExecute_DowngradeChainTerminates(t *testing.T) {
	e := instantExecutor(DefaultPolicy())

	var calls int
	out := e.Execute(context.Background(), models.TierDeep, func(ctx context.Context, tier models.Tier) error {
		calls++
		return Wrapf(KindResourceExhausted, "always exhausted")
	})

	if out.Err == nil {
		t.Fatal("Execute succeeded despite exhaustion at every tier")
	}
	if out.Kind != KindResourceExhausted {
		t.Errorf("Kind = %s, want resource_exhausted", out.Kind)
	}
	if out.FinalTier != models.TierSimple {
		t.Errorf("FinalTier = %s, want the bottom tier simple", out.FinalTier)
	}
	// deep -> orchestrator -> standard -> simple: one call each, no loop.
	if calls != 4 {
		t.Errorf("operation invoked %d times, want 4", calls)
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxRetries = 2
	e := instantExecutor(policy)

	var calls int
	out := e.Execute(context.Background(), models.TierStandard, func(ctx context.Context, tier models.Tier) error {
		calls++
		return Wrapf(KindTransient, "still flaky")
	})

	if out.Err == nil {
		t.Fatal("Execute succeeded despite persistent failure")
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3 (1 + 2 retries)", calls)
	}
	if len(out.History) != 3 {
		t.Errorf("history has %d records, want 3", len(out.History))
	}
}

func TestExecuteWithCheckpoint_ResumeAndDiscard(t *testing.T) {
	e := instantExecutor(DefaultPolicy())
	store := NewMemoryCheckpoints()
	ctx := context.Background()

	// First run fails after saving progress.
	err := e.ExecuteWithCheckpoint(ctx, "t1", store, func(ctx context.Context, cp *Checkpoint) error {
		if cp != nil {
			t.Error("fresh run received a checkpoint")
		}
		if err := store.SaveCheckpoint(ctx, Checkpoint{TaskID: "t1", Step: "half-done", Payload: "partial"}); err != nil {
			t.Fatalf("SaveCheckpoint returned error: %v", err)
		}
		return errors.New("crashed mid-way")
	})
	if err == nil {
		t.Fatal("first run unexpectedly succeeded")
	}

	// Failure keeps the checkpoint for another resume.
	if _, ok, _ := store.LoadCheckpoint(ctx, "t1"); !ok {
		t.Fatal("checkpoint discarded on failure")
	}

	// Second run resumes and fails again; state must survive.
	err = e.ExecuteWithCheckpoint(ctx, "t1", store, func(ctx context.Context, cp *Checkpoint) error {
		if cp == nil || cp.Step != "half-done" {
			t.Errorf("resume checkpoint = %+v, want step half-done", cp)
		}
		return errors.New("crashed again")
	})
	if err == nil {
		t.Fatal("second run unexpectedly succeeded")
	}
	if cp, ok, _ := store.LoadCheckpoint(ctx, "t1"); !ok || cp.Attempt != 1 {
		t.Fatalf("checkpoint after second failure = %+v ok=%v, want kept with attempt 1", cp, ok)
	}

	// Third run succeeds; only now is the checkpoint discarded.
	err = e.ExecuteWithCheckpoint(ctx, "t1", store, func(ctx context.Context, cp *Checkpoint) error {
		if cp == nil {
			t.Error("resume run received no checkpoint")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	if _, ok, _ := store.LoadCheckpoint(ctx, "t1"); ok {
		t.Error("checkpoint not discarded on final success")
	}
}
