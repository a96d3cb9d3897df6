// Package classify turns a task description into a complexity verdict.
package classify

// MarkerKind identifies one family of classification markers.
type MarkerKind string

const (
	// MarkerDeep marks deep-analysis language.
	MarkerDeep MarkerKind = "deep"
	// MarkerSequence marks explicit dependency/sequence language.
	MarkerSequence MarkerKind = "sequence"
	// MarkerMultiStep marks multi-step language without explicit ordering.
	MarkerMultiStep MarkerKind = "multistep"
	// MarkerBatch marks many-targets language.
	MarkerBatch MarkerKind = "batch"
)

// Markers is the single source of truth for classification marker phrases.
// Matching is case-insensitive substring containment, the same for Latin and
// CJK phrases.
type Markers struct {
	// Deep phrases indicate thorough, long-running analysis.
	Deep []string
	// Sequence phrases indicate ordered, dependent steps.
	Sequence []string
	// MultiStep phrases indicate several loosely ordered steps.
	MultiStep []string
	// Batch phrases indicate fan-out over many similar targets.
	Batch []string
}

// DefaultMarkers returns the built-in marker phrases.
var DefaultMarkers = Markers{
	Deep: []string{
		"deep analysis",
		"in depth",
		"in-depth",
		"thorough",
		"comprehensive",
		"detailed analysis",
		"深入",
		"深度分析",
		"详细分析",
		"全面分析",
	},
	Sequence: []string{
		"step by step",
		"first",
		"then",
		"after that",
		"finally",
		"in order",
		"depends on",
		"先",
		"然后",
		"接着",
		"最后",
		"按顺序",
	},
	MultiStep: []string{
		"multiple steps",
		"several steps",
		"and also",
		"as well as",
		"多个步骤",
		"并且",
		"同时",
	},
	Batch: []string{
		"all files",
		"each file",
		"every file",
		"batch",
		"for each",
		"all of the",
		"批量",
		"所有",
		"每个",
		"逐个",
	},
}

// DefaultPriority is the order marker families are resolved in. An earlier
// kind wins when several families match the same text; naive independent
// evaluation misclassifies texts where markers co-occur. The order is
// configuration, not a law: tune it against a labeled corpus.
var DefaultPriority = []MarkerKind{MarkerDeep, MarkerSequence, MarkerMultiStep, MarkerBatch}
