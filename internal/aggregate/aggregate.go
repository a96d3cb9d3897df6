// Package aggregate merges per-subtask results into one output. The
// strategy set is closed; callers pick one per task, and DAG results are
// folded hierarchically so sibling outputs merge before unrelated ones.
package aggregate

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"unicode"

	"github.com/ordino-dev/ordino/internal/graph"
	"github.com/ordino-dev/ordino/pkg/models"
)

// Strategy names an aggregation method.
type Strategy string

const (
	// StrategyConcat joins payloads with separators, losing nothing.
	StrategyConcat Strategy = "concat"
	// StrategySmartMerge deduplicates and resolves near-duplicate conflicts
	// by declared confidence.
	StrategySmartMerge Strategy = "smart_merge"
	// StrategyVote returns the most frequent identical payload.
	StrategyVote Strategy = "vote"
	// StrategyPriority picks the winner per a caller-supplied priority map.
	StrategyPriority Strategy = "priority"
	// StrategySummarize extracts key points from the concatenated text.
	StrategySummarize Strategy = "summarize"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyConcat, StrategySmartMerge, StrategyVote, StrategyPriority, StrategySummarize:
		return true
	default:
		return false
	}
}

// Config tunes aggregation.
type Config struct {
	// Separator joins payloads under concat and smart merge.
	Separator string
	// ConflictLow and ConflictHigh bound the token-overlap band in which
	// two payloads count as conflicting near-duplicates. Overlap above
	// ConflictHigh is treated as a duplicate outright.
	ConflictLow  float64
	ConflictHigh float64
	// MaxKeyPoints caps the summarize strategy's output lines.
	MaxKeyPoints int
}

// DefaultConfig returns the built-in aggregation tuning.
func DefaultConfig() Config {
	return Config{
		Separator:    "\n\n",
		ConflictLow:  0.3,
		ConflictHigh: 0.8,
		MaxKeyPoints: 5,
	}
}

// Options carries per-call inputs some strategies need.
type Options struct {
	// Priorities ranks subtask IDs for the priority strategy; higher wins.
	// Subtasks absent from the map rank lowest.
	Priorities map[string]int
}

// Result is one aggregation outcome.
type Result struct {
	Payload    string
	Confidence float64
	Strategy   Strategy
	// Sources is how many inputs contributed.
	Sources int
	// Conflicts counts near-duplicate pairs resolved by confidence.
	Conflicts int
}

// Aggregator folds execution results into a single output.
type Aggregator struct {
	cfg Config
}

// New creates an Aggregator. Zero config fields fall back to defaults.
func New(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.Separator == "" {
		cfg.Separator = def.Separator
	}
	if cfg.ConflictLow <= 0 {
		cfg.ConflictLow = def.ConflictLow
	}
	if cfg.ConflictHigh <= 0 || cfg.ConflictHigh <= cfg.ConflictLow {
		cfg.ConflictHigh = def.ConflictHigh
	}
	if cfg.MaxKeyPoints <= 0 {
		cfg.MaxKeyPoints = def.MaxKeyPoints
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate merges results under the given strategy. Results without a
// payload are skipped. An empty input yields an empty Result, not an error.
func (a *Aggregator) Aggregate(results []models.ExecutionResult, strategy Strategy, opts Options) (Result, error) {
	if !strategy.Valid() {
		return Result{}, fmt.Errorf("unknown aggregation strategy %q", strategy)
	}

	var in []models.ExecutionResult
	for _, r := range results {
		if r.Payload != "" {
			in = append(in, r)
		}
	}
	if len(in) == 0 {
		return Result{Strategy: strategy}, nil
	}
	if len(in) == 1 {
		return Result{
			Payload:    in[0].Payload,
			Confidence: effectiveConfidence(in[0]),
			Strategy:   strategy,
			Sources:    1,
		}, nil
	}

	switch strategy {
	case StrategyConcat:
		return a.concat(in), nil
	case StrategySmartMerge:
		return a.smartMerge(in), nil
	case StrategyVote:
		return a.vote(in), nil
	case StrategyPriority:
		return a.priority(in, opts), nil
	case StrategySummarize:
		return a.summarize(in), nil
	}
	return Result{}, fmt.Errorf("unknown aggregation strategy %q", strategy)
}

// AggregateGraph folds a DAG's result map hierarchically: each parallel
// group aggregates first, then the group-level payloads fold into the
// final result. Sibling outputs merge before mixing with downstream ones.
func (a *Aggregator) AggregateGraph(dag *graph.DAG, results map[string]models.ExecutionResult, strategy Strategy, opts Options) (Result, error) {
	var groupResults []models.ExecutionResult
	var conflicts int

	for _, group := range dag.Groups() {
		var members []models.ExecutionResult
		for _, id := range group {
			if r, ok := results[id]; ok {
				members = append(members, r)
			}
		}
		if len(members) == 0 {
			continue
		}
		gr, err := a.Aggregate(members, strategy, opts)
		if err != nil {
			return Result{}, err
		}
		conflicts += gr.Conflicts
		if gr.Payload == "" {
			continue
		}
		groupResults = append(groupResults, models.ExecutionResult{
			Payload:    gr.Payload,
			Confidence: gr.Confidence,
			Success:    true,
		})
	}

	final, err := a.Aggregate(groupResults, strategy, opts)
	if err != nil {
		return Result{}, err
	}
	final.Sources = len(results)
	final.Conflicts += conflicts
	log.Printf("[aggregate] task %s: %d results folded over %d groups via %s", dag.TaskID(), len(results), len(dag.Groups()), strategy)
	return final, nil
}

func (a *Aggregator) concat(in []models.ExecutionResult) Result {
	parts := make([]string, 0, len(in))
	var conf float64
	for _, r := range in {
		parts = append(parts, r.Payload)
		conf += effectiveConfidence(r)
	}
	return Result{
		Payload:    strings.Join(parts, a.cfg.Separator),
		Confidence: conf / float64(len(in)),
		Strategy:   StrategyConcat,
		Sources:    len(in),
	}
}

// smartMerge deduplicates exact matches, drops near-identical payloads in
// favor of the more confident one, and flags conflicting near-duplicates
// in the configured overlap band, again keeping the more confident side.
func (a *Aggregator) smartMerge(in []models.ExecutionResult) Result {
	type kept struct {
		payload    string
		confidence float64
	}
	var out []kept
	var conflicts int

	for _, r := range in {
		c := effectiveConfidence(r)
		merged := false
		for i := range out {
			if out[i].payload == r.Payload {
				if c > out[i].confidence {
					out[i].confidence = c
				}
				merged = true
				break
			}
			sim := tokenOverlap(out[i].payload, r.Payload)
			if sim > a.cfg.ConflictHigh {
				if c > out[i].confidence {
					out[i] = kept{r.Payload, c}
				}
				merged = true
				break
			}
			if sim >= a.cfg.ConflictLow {
				conflicts++
				if c > out[i].confidence {
					out[i] = kept{r.Payload, c}
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, kept{r.Payload, c})
		}
	}

	parts := make([]string, 0, len(out))
	var conf float64
	for _, k := range out {
		parts = append(parts, k.payload)
		conf += k.confidence
	}
	return Result{
		Payload:    strings.Join(parts, a.cfg.Separator),
		Confidence: conf / float64(len(out)),
		Strategy:   StrategySmartMerge,
		Sources:    len(in),
		Conflicts:  conflicts,
	}
}

// vote returns the most frequent identical payload; confidence is its
// vote share. Ties resolve to the earliest-seen payload.
func (a *Aggregator) vote(in []models.ExecutionResult) Result {
	counts := make(map[string]int)
	order := make([]string, 0, len(in))
	for _, r := range in {
		if counts[r.Payload] == 0 {
			order = append(order, r.Payload)
		}
		counts[r.Payload]++
	}

	winner := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[winner] {
			winner = p
		}
	}
	return Result{
		Payload:    winner,
		Confidence: float64(counts[winner]) / float64(len(in)),
		Strategy:   StrategyVote,
		Sources:    len(in),
	}
}

func (a *Aggregator) priority(in []models.ExecutionResult, opts Options) Result {
	best := in[0]
	bestPrio := opts.Priorities[best.SubtaskID]
	for _, r := range in[1:] {
		if p := opts.Priorities[r.SubtaskID]; p > bestPrio {
			best = r
			bestPrio = p
		}
	}
	return Result{
		Payload:    best.Payload,
		Confidence: effectiveConfidence(best),
		Strategy:   StrategyPriority,
		Sources:    len(in),
	}
}

// summarize extracts the highest-scoring lines of the concatenated text,
// scored by the frequency of their tokens across all inputs, preserving
// original order.
func (a *Aggregator) summarize(in []models.ExecutionResult) Result {
	joined := a.concat(in)

	var lines []string
	for _, l := range strings.Split(joined.Payload, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= a.cfg.MaxKeyPoints {
		return Result{
			Payload:    "- " + strings.Join(lines, "\n- "),
			Confidence: joined.Confidence,
			Strategy:   StrategySummarize,
			Sources:    len(in),
		}
	}

	freq := make(map[string]int)
	for _, l := range lines {
		for _, tok := range tokenize(l) {
			freq[tok]++
		}
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(lines))
	for i, l := range lines {
		toks := tokenize(l)
		var s float64
		for _, tok := range toks {
			s += float64(freq[tok])
		}
		if len(toks) > 0 {
			s /= float64(len(toks))
		}
		ranked[i] = scored{i, s}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := ranked[:a.cfg.MaxKeyPoints]
	sort.Slice(top, func(i, j int) bool { return top[i].index < top[j].index })

	parts := make([]string, 0, len(top))
	for _, s := range top {
		parts = append(parts, lines[s.index])
	}
	return Result{
		Payload:    "- " + strings.Join(parts, "\n- "),
		Confidence: joined.Confidence,
		Strategy:   StrategySummarize,
		Sources:    len(in),
	}
}

// tokenOverlap is Jaccard similarity over the two payloads' token sets.
func tokenOverlap(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	var inter int
	for tok := range sa {
		if sb[tok] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenize(s) {
		out[tok] = true
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// effectiveConfidence defaults an undeclared confidence to 0.5 so such
// results neither dominate nor vanish under confidence-weighted merges.
func effectiveConfidence(r models.ExecutionResult) float64 {
	if r.Confidence <= 0 {
		return 0.5
	}
	if r.Confidence > 1 {
		return 1
	}
	return r.Confidence
}
