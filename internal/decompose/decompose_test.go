package decompose

import (
	"strings"
	"testing"
	"time"

	"github.com/ordino-dev/ordino/pkg/models"
)

func newTask(text string) models.Task {
	return models.Task{ID: "task-1", Text: text, CreatedAt: time.Now()}
}

func TestDecompose_TrivialWhenNotWarranted(t *testing.T) {
	d := New(DefaultConfig())
	verdict := models.Verdict{
		Level:           models.ComplexitySimple,
		ShouldDecompose: false,
		SuggestedTier:   models.TierSimple,
	}

	dag, err := d.Decompose(newTask("你好"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}
	if dag.Size() != 1 {
		t.Errorf("trivial graph has %d subtasks, want 1", dag.Size())
	}
	if groups := dag.Groups(); len(groups) != 1 {
		t.Errorf("trivial graph has %d groups, want 1", len(groups))
	}
}

func TestDecompose_BatchTemplate(t *testing.T) {
	d := New(DefaultConfig())
	verdict := models.Verdict{
		Level:           models.ComplexityMedium,
		ShouldDecompose: true,
		SuggestedTier:   models.TierBatch,
		BatchCount:      10,
	}

	dag, err := d.Decompose(newTask("批量转换10个文件"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}

	// scan + 10 process + aggregate
	if dag.Size() != 12 {
		t.Errorf("batch graph has %d subtasks, want 12", dag.Size())
	}

	scan := dag.Subtask("scan")
	if scan == nil || len(scan.DependsOn) != 0 {
		t.Fatal("batch graph is missing an independent scan subtask")
	}

	var processCount int
	for _, st := range dag.Subtasks() {
		if strings.HasPrefix(st.ID, "process-") {
			processCount++
			if len(st.DependsOn) != 1 || st.DependsOn[0] != "scan" {
				t.Errorf("process subtask %s depends on %v, want [scan]", st.ID, st.DependsOn)
			}
		}
	}
	if processCount != 10 {
		t.Errorf("batch graph has %d process subtasks, want 10", processCount)
	}

	agg := dag.Subtask("aggregate")
	if agg == nil {
		t.Fatal("batch graph is missing the aggregate subtask")
	}
	if len(agg.DependsOn) != processCount {
		t.Errorf("aggregate depends on %d subtasks, want %d", len(agg.DependsOn), processCount)
	}
}

func TestDecompose_BatchShrinksToCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSubtasks = 8
	d := New(cfg)
	verdict := models.Verdict{
		ShouldDecompose: true,
		SuggestedTier:   models.TierBatch,
		BatchCount:      100,
	}

	dag, err := d.Decompose(newTask("batch process 100 files"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}
	if dag.Size() != 8 {
		t.Errorf("capped batch graph has %d subtasks, want 8", dag.Size())
	}
	// Shrunk fan-out still keeps scan and aggregate intact.
	if dag.Subtask("scan") == nil || dag.Subtask("aggregate") == nil {
		t.Error("cap shrink dropped the scan or aggregate subtask")
	}
}

func TestDecompose_StepsTemplateIsSequential(t *testing.T) {
	d := New(DefaultConfig())
	verdict := models.Verdict{
		ShouldDecompose:   true,
		SuggestedTier:     models.TierOrchestrator,
		EstimatedSubtasks: 4,
	}

	dag, err := d.Decompose(newTask("first do a, then b, then c, finally d"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}

	groups := dag.Groups()
	if len(groups) != 4 {
		t.Fatalf("steps graph has %d groups, want 4", len(groups))
	}
	for _, g := range groups {
		if len(g) != 1 {
			t.Errorf("sequential group has %d members, want 1: %v", len(g), g)
		}
	}
}

func TestDecompose_DeepTemplateShape(t *testing.T) {
	d := New(DefaultConfig())
	verdict := models.Verdict{
		ShouldDecompose: true,
		SuggestedTier:   models.TierDeep,
	}

	dag, err := d.Decompose(newTask("深入分析市场趋势"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}

	groups := dag.Groups()
	if len(groups) != 3 {
		t.Fatalf("deep graph has %d groups, want 3: %v", len(groups), groups)
	}
	if len(groups[1]) != 2 {
		t.Errorf("deep graph middle group has %d members, want 2 parallel analyses", len(groups[1]))
	}
}

func TestDecompose_GenericFallback(t *testing.T) {
	d := New(DefaultConfig())
	verdict := models.Verdict{
		ShouldDecompose:   true,
		SuggestedTier:     models.TierStandard,
		EstimatedSubtasks: 5,
	}

	dag, err := d.Decompose(newTask("do several loosely related things"), verdict)
	if err != nil {
		t.Fatalf("Decompose returned error: %v", err)
	}
	if dag.Size() != 5 {
		t.Errorf("generic graph has %d subtasks, want 5", dag.Size())
	}
	if dag.Subtask("plan") == nil || dag.Subtask("review") == nil {
		t.Error("generic graph is missing plan or review")
	}
}
