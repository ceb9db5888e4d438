// Package callbacks provides stock implementations of the engine's
// callback protocol: stopping criteria, learning-rate scheduling, result
// logging and checkpointing.
package callbacks

import (
	"fmt"
	"math"

	"github.com/gantryml/gantry/engine"
)

// Mode states whether lower or higher metric values are better.
type Mode string

const (
	MinMode Mode = "min"
	MaxMode Mode = "max"
)

// Monitored identifies one metric in the results history: the value of one
// evaluator on one dataset.
type Monitored struct {
	Dataset   string
	Evaluator string
	Mode      Mode
}

// lastValue reads the monitored metric from the most recent history entry.
func (m Monitored) lastValue(tc *engine.TrainingContext) (float32, error) {
	if len(tc.ResultsHistory) == 0 {
		return 0, fmt.Errorf("results history is empty; is evaluation configured?")
	}
	entry := tc.ResultsHistory[len(tc.ResultsHistory)-1]
	datasetResults, ok := entry[m.Dataset]
	if !ok {
		return 0, fmt.Errorf("no results for dataset %q", m.Dataset)
	}
	result, ok := datasetResults[m.Evaluator]
	if !ok {
		return 0, fmt.Errorf("no results for evaluator %q on dataset %q", m.Evaluator, m.Dataset)
	}
	return result.Value(), nil
}

// improved reports whether current beats best by more than minDelta.
func (m Monitored) improved(current, best, minDelta float32) bool {
	if m.Mode == MaxMode {
		return current > best+minDelta
	}
	return current < best-minDelta
}

// worst returns the starting "best" value for the mode.
func (m Monitored) worst() float32 {
	if m.Mode == MaxMode {
		return float32(math.Inf(-1))
	}
	return float32(math.Inf(1))
}
