package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ordino-dev/ordino/pkg/models"
)

// batchCountRe extracts a numeric target count from batch language, e.g.
// "10个" or "10 files".
var batchCountRe = regexp.MustCompile(`(\d+)\s*(?:个|份|条|files?|items?|targets?|documents?|pages?)`)

// Config holds classifier tuning. The zero value is not usable; call
// DefaultConfig.
type Config struct {
	// Markers are the marker phrases per family.
	Markers Markers
	// Priority is the resolution order of marker families.
	Priority []MarkerKind
	// ConfidenceThreshold is the confidence below which callers may consult
	// a secondary classifier.
	ConfidenceThreshold float64
	// MaxBatchSubtasks caps the subtask estimate derived from a batch count.
	MaxBatchSubtasks int
}

// DefaultConfig returns the built-in classifier configuration.
func DefaultConfig() Config {
	return Config{
		Markers:             DefaultMarkers,
		Priority:            append([]MarkerKind{}, DefaultPriority...),
		ConfidenceThreshold: 0.6,
		MaxBatchSubtasks:    20,
	}
}

// Classifier scores task text into a complexity verdict. It is a pure
// function of its configuration: no I/O, deterministic for the same input.
type Classifier struct {
	cfg Config
}

// New creates a Classifier with the given configuration.
func New(cfg Config) (*Classifier, error) {
	if len(cfg.Priority) == 0 {
		return nil, fmt.Errorf("classifier priority order is empty")
	}
	for _, kind := range cfg.Priority {
		switch kind {
		case MarkerDeep, MarkerSequence, MarkerMultiStep, MarkerBatch:
		default:
			return nil, fmt.Errorf("unknown marker kind %q in priority order", kind)
		}
	}
	return &Classifier{cfg: cfg}, nil
}

// Threshold returns the configured confidence threshold.
func (c *Classifier) Threshold() float64 {
	return c.cfg.ConfidenceThreshold
}

// Classify scores the task text and returns a verdict. Marker families are
// resolved in the configured priority order; the first match wins.
func (c *Classifier) Classify(text string) models.Verdict {
	lower := strings.ToLower(text)
	score := lengthScore(text)

	for _, kind := range c.cfg.Priority {
		phrase, ok := c.match(kind, lower)
		if !ok {
			continue
		}
		return c.verdictFor(kind, phrase, lower, score)
	}

	// No markers: short texts are simple, long texts still warrant a
	// standard single-worker run.
	v := models.Verdict{
		Score:             score,
		Level:             models.ComplexitySimple,
		ShouldDecompose:   false,
		EstimatedSubtasks: 1,
		SuggestedTier:     models.TierSimple,
		Confidence:        0.8,
		Reason:            "no markers matched",
	}
	if score >= 2 {
		v.Level = models.ComplexityMedium
		v.SuggestedTier = models.TierStandard
		v.Confidence = 0.6
		v.Reason = "long text, no markers"
	}
	return v
}

// match returns the first matching phrase of the given family.
func (c *Classifier) match(kind MarkerKind, lower string) (string, bool) {
	var phrases []string
	switch kind {
	case MarkerDeep:
		phrases = c.cfg.Markers.Deep
	case MarkerSequence:
		phrases = c.cfg.Markers.Sequence
	case MarkerMultiStep:
		phrases = c.cfg.Markers.MultiStep
	case MarkerBatch:
		phrases = c.cfg.Markers.Batch
	}
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func (c *Classifier) verdictFor(kind MarkerKind, phrase, lower string, base int) models.Verdict {
	switch kind {
	case MarkerDeep:
		return models.Verdict{
			Score:             base + 5,
			Level:             models.ComplexityComplex,
			ShouldDecompose:   true,
			EstimatedSubtasks: 3,
			SuggestedTier:     models.TierDeep,
			Confidence:        0.85,
			Reason:            "matched deep-analysis marker",
			MatchedMarker:     phrase,
		}
	case MarkerSequence:
		return models.Verdict{
			Score:             base + 4,
			Level:             models.ComplexityComplex,
			ShouldDecompose:   true,
			EstimatedSubtasks: 4,
			SuggestedTier:     models.TierOrchestrator,
			Confidence:        0.8,
			Reason:            "matched sequence marker",
			MatchedMarker:     phrase,
		}
	case MarkerMultiStep:
		return models.Verdict{
			Score:             base + 3,
			Level:             models.ComplexityMedium,
			ShouldDecompose:   true,
			EstimatedSubtasks: 3,
			SuggestedTier:     models.TierOrchestrator,
			Confidence:        0.7,
			Reason:            "matched multi-step marker",
			MatchedMarker:     phrase,
		}
	case MarkerBatch:
		count := extractBatchCount(lower)
		est := count
		if est <= 0 {
			est = 5
		}
		if est > c.cfg.MaxBatchSubtasks {
			est = c.cfg.MaxBatchSubtasks
		}
		return models.Verdict{
			Score:             base + 3,
			Level:             models.ComplexityMedium,
			ShouldDecompose:   true,
			EstimatedSubtasks: est + 2, // scan + N process + aggregate
			SuggestedTier:     models.TierBatch,
			Confidence:        0.75,
			Reason:            "matched batch marker",
			MatchedMarker:     phrase,
			BatchCount:        count,
		}
	}
	// Unreachable: New validates the priority order.
	return models.Verdict{Level: models.ComplexitySimple, SuggestedTier: models.TierSimple, EstimatedSubtasks: 1, Confidence: 0.5}
}

// lengthScore buckets the text length in runes.
func lengthScore(text string) int {
	n := utf8.RuneCountInString(text)
	switch {
	case n < 20:
		return 0
	case n < 100:
		return 1
	case n < 300:
		return 2
	default:
		return 3
	}
}

// extractBatchCount pulls a literal target count out of batch language.
// Returns 0 when no count is present.
func extractBatchCount(lower string) int {
	m := batchCountRe.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ValidateExternal checks a verdict produced by a secondary classifier
// before it may be trusted. The tier must be in the closed set, the level
// known, and the numeric fields sane.
func ValidateExternal(v models.Verdict) error {
	if !v.SuggestedTier.Valid() {
		return fmt.Errorf("suggested tier %q is not a known tier", v.SuggestedTier)
	}
	if !v.Level.Valid() {
		return fmt.Errorf("complexity level %q is not a known level", v.Level)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", v.Confidence)
	}
	if v.EstimatedSubtasks < 0 {
		return fmt.Errorf("estimated subtasks %d is negative", v.EstimatedSubtasks)
	}
	return nil
}
