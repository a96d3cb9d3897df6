// Package decompose builds subtask graphs from classified tasks.
package decompose

import (
	"fmt"
	"time"

	"github.com/ordino-dev/ordino/internal/graph"
	"github.com/ordino-dev/ordino/pkg/models"
)

// Config holds decomposition limits.
type Config struct {
	// MaxSubtasks caps the total subtask count of one graph. Batch templates
	// shrink proportionally to fit; nothing is silently truncated.
	MaxSubtasks int
	// DefaultBatchSize is the process fan-out when batch language carries no
	// literal count.
	DefaultBatchSize int
}

// DefaultConfig returns the built-in decomposition limits.
func DefaultConfig() Config {
	return Config{MaxSubtasks: 20, DefaultBatchSize: 5}
}

// Decomposer turns a task plus its verdict into a dependency graph.
type Decomposer struct {
	cfg Config
}

// New creates a Decomposer with the given configuration.
func New(cfg Config) *Decomposer {
	if cfg.MaxSubtasks < 3 {
		cfg.MaxSubtasks = 3
	}
	if cfg.DefaultBatchSize < 1 {
		cfg.DefaultBatchSize = 1
	}
	return &Decomposer{cfg: cfg}
}

// Decompose selects a template from the verdict and builds the graph.
// When the verdict says not to decompose, the result is a trivial
// single-node graph.
func (d *Decomposer) Decompose(task models.Task, verdict models.Verdict) (*graph.DAG, error) {
	if !verdict.ShouldDecompose {
		return d.trivial(task)
	}

	var subtasks []*models.Subtask
	switch verdict.SuggestedTier {
	case models.TierBatch:
		subtasks = d.batchTemplate(task, verdict)
	case models.TierDeep:
		subtasks = d.deepTemplate(task)
	case models.TierOrchestrator:
		subtasks = d.stepsTemplate(task, verdict)
	default:
		subtasks = d.genericTemplate(task, verdict)
	}

	if len(subtasks) > d.cfg.MaxSubtasks {
		// Templates size themselves to the cap; exceeding it here means a
		// template bug, not an input problem.
		return nil, fmt.Errorf("template produced %d subtasks, cap is %d", len(subtasks), d.cfg.MaxSubtasks)
	}

	dag, err := graph.Build(task.ID, subtasks)
	if err != nil {
		return nil, fmt.Errorf("build subtask graph: %w", err)
	}
	return dag, nil
}

// trivial returns a single-node graph executing the task as-is.
func (d *Decomposer) trivial(task models.Task) (*graph.DAG, error) {
	st := &models.Subtask{
		ID:                "main",
		Description:       task.Text,
		Capabilities:      []string{"execute"},
		EstimatedDuration: 30 * time.Second,
	}
	return graph.Build(task.ID, []*models.Subtask{st})
}

// batchTemplate emits scan -> N parallel process -> aggregate.
// The fan-out shrinks proportionally when the literal count would overflow
// the subtask cap.
func (d *Decomposer) batchTemplate(task models.Task, verdict models.Verdict) []*models.Subtask {
	count := verdict.BatchCount
	if count <= 0 {
		count = d.cfg.DefaultBatchSize
	}
	// Two slots are reserved for scan and aggregate.
	if max := d.cfg.MaxSubtasks - 2; count > max {
		count = max
	}

	subtasks := []*models.Subtask{{
		ID:                "scan",
		Description:       fmt.Sprintf("Enumerate targets for: %s", task.Text),
		Capabilities:      []string{"search"},
		EstimatedDuration: 20 * time.Second,
	}}

	processIDs := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		id := fmt.Sprintf("process-%d", i)
		processIDs = append(processIDs, id)
		subtasks = append(subtasks, &models.Subtask{
			ID:                id,
			Description:       fmt.Sprintf("Process target %d of %d for: %s", i, count, task.Text),
			DependsOn:         []string{"scan"},
			Capabilities:      []string{"process"},
			EstimatedDuration: 60 * time.Second,
		})
	}

	subtasks = append(subtasks, &models.Subtask{
		ID:                "aggregate",
		Description:       fmt.Sprintf("Combine processed targets for: %s", task.Text),
		DependsOn:         processIDs,
		Capabilities:      []string{"summarize"},
		EstimatedDuration: 30 * time.Second,
	})
	return subtasks
}

// stepsTemplate emits a sequential chain of steps.
func (d *Decomposer) stepsTemplate(task models.Task, verdict models.Verdict) []*models.Subtask {
	n := verdict.EstimatedSubtasks
	if n < 2 {
		n = 2
	}
	if n > d.cfg.MaxSubtasks {
		n = d.cfg.MaxSubtasks
	}

	subtasks := make([]*models.Subtask, 0, n)
	for i := 1; i <= n; i++ {
		st := &models.Subtask{
			ID:                fmt.Sprintf("step-%d", i),
			Description:       fmt.Sprintf("Step %d of %d for: %s", i, n, task.Text),
			Capabilities:      []string{"execute"},
			EstimatedDuration: 60 * time.Second,
		}
		if i > 1 {
			st.DependsOn = []string{fmt.Sprintf("step-%d", i-1)}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks
}

// deepTemplate emits collect -> {analyze-breadth, analyze-depth} -> synthesize.
func (d *Decomposer) deepTemplate(task models.Task) []*models.Subtask {
	return []*models.Subtask{
		{
			ID:                "collect",
			Description:       fmt.Sprintf("Collect source material for: %s", task.Text),
			Capabilities:      []string{"search"},
			EstimatedDuration: 90 * time.Second,
		},
		{
			ID:                "analyze-breadth",
			Description:       fmt.Sprintf("Survey the collected material for: %s", task.Text),
			DependsOn:         []string{"collect"},
			Capabilities:      []string{"analyze"},
			EstimatedDuration: 3 * time.Minute,
		},
		{
			ID:                "analyze-depth",
			Description:       fmt.Sprintf("Examine key findings in depth for: %s", task.Text),
			DependsOn:         []string{"collect"},
			Capabilities:      []string{"analyze"},
			EstimatedDuration: 5 * time.Minute,
		},
		{
			ID:                "synthesize",
			Description:       fmt.Sprintf("Synthesize the analysis for: %s", task.Text),
			DependsOn:         []string{"analyze-breadth", "analyze-depth"},
			Capabilities:      []string{"summarize"},
			EstimatedDuration: 2 * time.Minute,
		},
	}
}

// genericTemplate emits plan -> N parallel work items -> review.
func (d *Decomposer) genericTemplate(task models.Task, verdict models.Verdict) []*models.Subtask {
	n := verdict.EstimatedSubtasks - 2
	if n < 1 {
		n = 1
	}
	if max := d.cfg.MaxSubtasks - 2; n > max {
		n = max
	}

	subtasks := []*models.Subtask{{
		ID:                "plan",
		Description:       fmt.Sprintf("Plan the work for: %s", task.Text),
		Capabilities:      []string{"analyze"},
		EstimatedDuration: 30 * time.Second,
	}}

	workIDs := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("work-%d", i)
		workIDs = append(workIDs, id)
		subtasks = append(subtasks, &models.Subtask{
			ID:                id,
			Description:       fmt.Sprintf("Work item %d of %d for: %s", i, n, task.Text),
			DependsOn:         []string{"plan"},
			Capabilities:      []string{"execute"},
			EstimatedDuration: 60 * time.Second,
		})
	}

	subtasks = append(subtasks, &models.Subtask{
		ID:                "review",
		Description:       fmt.Sprintf("Review the combined output for: %s", task.Text),
		DependsOn:         workIDs,
		Capabilities:      []string{"summarize"},
		EstimatedDuration: 30 * time.Second,
	})
	return subtasks
}
