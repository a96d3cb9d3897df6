package models

// ComplexityLevel is the categorical complexity of a task.
type ComplexityLevel string

const (
	// ComplexitySimple indicates a short, single-step task.
	ComplexitySimple ComplexityLevel = "simple"
	// ComplexityMedium indicates a task with moderate structure.
	ComplexityMedium ComplexityLevel = "medium"
	// ComplexityComplex indicates a multi-step or deep-analysis task.
	ComplexityComplex ComplexityLevel = "complex"
)

// Valid returns true if the level is a known value.
func (l ComplexityLevel) Valid() bool {
	switch l {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Verdict is the classifier's assessment of one task. Produced fresh per
// task; never mutated and never persisted.
type Verdict struct {
	// Score is the numeric complexity score.
	Score int `json:"score"`
	// Level is the categorical complexity.
	Level ComplexityLevel `json:"level"`
	// ShouldDecompose is true when the task warrants a subtask graph.
	ShouldDecompose bool `json:"should_decompose"`
	// EstimatedSubtasks is the expected subtask count if decomposed.
	EstimatedSubtasks int `json:"estimated_subtasks"`
	// SuggestedTier is the recommended execution tier.
	SuggestedTier Tier `json:"suggested_tier"`
	// Confidence is how certain the classification is (0-1). Below the
	// configured threshold the caller may consult a secondary classifier.
	Confidence float64 `json:"confidence"`
	// Reason explains the classification.
	Reason string `json:"reason,omitempty"`
	// MatchedMarker is the marker that drove the classification, if any.
	MatchedMarker string `json:"matched_marker,omitempty"`
	// BatchCount is the extracted target count for batch tasks (0 if none).
	BatchCount int `json:"batch_count,omitempty"`
}
