package llm

import (
	"strings"
	"testing"

	"github.com/ordino-dev/ordino/internal/classify"
	"github.com/ordino-dev/ordino/pkg/models"
)

func TestParseVerdict(t *testing.T) {
	raw := "```json\n" + `{"score": 72, "level": "complex", "should_decompose": true, "estimated_subtasks": 5, "suggested_tier": "orchestrator", "confidence": 0.85, "reason": "multiple dependent steps"}` + "\n```"

	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if v.Score != 72 || v.Level != models.ComplexityComplex {
		t.Errorf("score/level = %d/%s", v.Score, v.Level)
	}
	if !v.ShouldDecompose || v.EstimatedSubtasks != 5 {
		t.Errorf("decompose fields = %v/%d", v.ShouldDecompose, v.EstimatedSubtasks)
	}
	if v.SuggestedTier != models.TierOrchestrator || v.Confidence != 0.85 {
		t.Errorf("tier/confidence = %s/%v", v.SuggestedTier, v.Confidence)
	}
	if err := classify.ValidateExternal(v); err != nil {
		t.Errorf("parsed verdict failed validation: %v", err)
	}
}

func TestParseVerdictToleratesProse(t *testing.T) {
	raw := `Here is my assessment: {"score": 10, "level": "simple", "should_decompose": false, "estimated_subtasks": 1, "suggested_tier": "simple", "confidence": 0.9, "reason": "greeting"} Hope that helps.`
	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if v.SuggestedTier != models.TierSimple {
		t.Errorf("tier = %s", v.SuggestedTier)
	}
}

func TestParseVerdictRejectsNonJSON(t *testing.T) {
	if _, err := parseVerdict("I cannot classify this."); err == nil {
		t.Fatal("non-JSON output accepted")
	}
}

func TestInventedTierFailsValidation(t *testing.T) {
	raw := `{"score": 50, "level": "medium", "should_decompose": true, "estimated_subtasks": 3, "suggested_tier": "hyperdrive", "confidence": 0.7, "reason": ""}`
	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	err = classify.ValidateExternal(v)
	if err == nil {
		t.Fatal("invented tier passed validation")
	}
	if !strings.Contains(err.Error(), "hyperdrive") {
		t.Errorf("error does not name the bad tier: %v", err)
	}
}

func TestNewClassifierRequiresCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClassifier(ClientConfig{}); err == nil {
		t.Fatal("NewClassifier succeeded without credentials")
	}
}
