package orchestrator

import (
	"context"
	"time"

	"github.com/ordino-dev/ordino/internal/events"
	"github.com/ordino-dev/ordino/internal/state"
	"github.com/ordino-dev/ordino/pkg/models"
)

// Notifier is the external progress channel. Calls are fire-and-forget:
// the orchestrator works correctly, just silently, when they fail.
type Notifier interface {
	Notify(taskID string, event events.Type, payload string) error
}

// Decision is the confirm gate's answer.
type Decision string

const (
	DecisionProceed   Decision = "proceed"
	DecisionDowngrade Decision = "downgrade"
	DecisionCancel    Decision = "cancel"
)

// Estimate is what the confirm gate sees before approving a tier.
type Estimate struct {
	Tier models.Tier
	// Subtasks is the expected subtask count.
	Subtasks int
	// Cost is the relative cost, tier weight scaled by task length.
	Cost float64
	// Duration is the expected wall-clock time, calibrated from history
	// when available.
	Duration time.Duration
}

// ConfirmGate is a blocking external decision point, consulted for
// non-trivial tiers. A gate that stalls past the grace period counts as
// an implicit proceed.
type ConfirmGate interface {
	Confirm(ctx context.Context, taskID string, est Estimate) (Decision, error)
}

// History reads and appends past task outcomes. The orchestrator degrades
// to static defaults when the store is unavailable.
type History interface {
	TierStats(tier models.Tier, windowDays int) (state.TierHistory, error)
	RecordOutcome(o state.Outcome) error
}

// SecondaryClassifier is the model-backed fallback, consulted only below
// the rule-based classifier's confidence threshold. Its verdicts are
// validated before trust.
type SecondaryClassifier interface {
	Classify(ctx context.Context, text string) (models.Verdict, error)
}
