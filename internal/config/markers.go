package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ordino-dev/ordino/internal/classify"
)

// markerFile represents the classifier section of a .ordino.yaml file.
// Only the families present in the file are overridden; omitted families
// keep the built-in phrases.
type markerFile struct {
	Classifier struct {
		Markers struct {
			Deep      []string `yaml:"deep"`
			Sequence  []string `yaml:"sequence"`
			MultiStep []string `yaml:"multistep"`
			Batch     []string `yaml:"batch"`
		} `yaml:"markers"`
		Priority []string `yaml:"priority"`
	} `yaml:"classifier"`
}

// LoadMarkers reads classifier marker overrides from a .ordino.yaml file.
// A missing file returns the defaults unchanged.
func LoadMarkers(path string) (classify.Markers, []classify.MarkerKind, error) {
	markers := classify.DefaultMarkers
	priority := append([]classify.MarkerKind(nil), classify.DefaultPriority...)

	if path == "" {
		return markers, priority, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return markers, priority, nil
		}
		return markers, priority, fmt.Errorf("read marker config %s: %w", path, err)
	}

	var mf markerFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return markers, priority, fmt.Errorf("parse marker config %s: %w", path, err)
	}

	if len(mf.Classifier.Markers.Deep) > 0 {
		markers.Deep = mf.Classifier.Markers.Deep
	}
	if len(mf.Classifier.Markers.Sequence) > 0 {
		markers.Sequence = mf.Classifier.Markers.Sequence
	}
	if len(mf.Classifier.Markers.MultiStep) > 0 {
		markers.MultiStep = mf.Classifier.Markers.MultiStep
	}
	if len(mf.Classifier.Markers.Batch) > 0 {
		markers.Batch = mf.Classifier.Markers.Batch
	}

	if len(mf.Classifier.Priority) > 0 {
		var p []classify.MarkerKind
		for _, name := range mf.Classifier.Priority {
			kind := classify.MarkerKind(name)
			switch kind {
			case classify.MarkerDeep, classify.MarkerSequence, classify.MarkerMultiStep, classify.MarkerBatch:
				p = append(p, kind)
			default:
				return markers, priority, fmt.Errorf("marker config %s: unknown marker kind %q", path, name)
			}
		}
		priority = p
	}

	return markers, priority, nil
}
