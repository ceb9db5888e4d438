package native

import (
	"fmt"
	"math"

	"github.com/gantryml/gantry/tensor"
)

// Result is a scalar evaluation outcome.
type Result struct {
	Name  string
	Score float32
}

// Value returns the scalar score.
func (r Result) Value() float32 {
	return r.Score
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %.4f", r.Name, r.Score)
}

// predAndTarget extracts activated predictions and targets for one batch.
func predAndTarget(output tensor.Output, batch tensor.Batch, targetKey string, lastActivation tensor.Activation) ([]float32, []float32, error) {
	if lastActivation != nil {
		activated, err := lastActivation(output)
		if err != nil {
			return nil, nil, err
		}
		output = activated
	}
	if output.IsNamed() || output.Value == nil {
		return nil, nil, fmt.Errorf("evaluator requires a single-valued output")
	}
	pred, err := output.Value.Float32s()
	if err != nil {
		return nil, nil, err
	}

	raw, ok := batch[targetKey]
	if !ok {
		return nil, nil, fmt.Errorf("batch has no field %q", targetKey)
	}
	targetValue, ok := raw.(tensor.Value)
	if !ok {
		return nil, nil, fmt.Errorf("batch field %q must be a tensor.Value, got %T", targetKey, raw)
	}
	target, err := targetValue.Float32s()
	if err != nil {
		return nil, nil, err
	}
	if len(target) != len(pred) {
		return nil, nil, fmt.Errorf("target length %d does not match prediction length %d", len(target), len(pred))
	}
	return pred, target, nil
}

// MAE accumulates mean absolute error. It satisfies tensor.Evaluator.
type MAE struct {
	// TargetKey is the batch field holding the targets. Defaults to
	// "target".
	TargetKey string

	sum   float64
	count int
}

// NewMAE creates a mean-absolute-error evaluator.
func NewMAE() *MAE {
	return &MAE{TargetKey: "target"}
}

// Reset clears the accumulated error.
func (m *MAE) Reset() {
	m.sum = 0
	m.count = 0
}

// Step folds one batch into the metric.
func (m *MAE) Step(output tensor.Output, batch tensor.Batch, lastActivation tensor.Activation) error {
	pred, target, err := predAndTarget(output, batch, m.TargetKey, lastActivation)
	if err != nil {
		return err
	}
	for i := range pred {
		m.sum += math.Abs(float64(pred[i] - target[i]))
	}
	m.count += len(pred)
	return nil
}

// Calculate produces the mean absolute error seen since Reset.
func (m *MAE) Calculate() (tensor.EvaluatorResult, error) {
	if m.count == 0 {
		return nil, fmt.Errorf("no batches evaluated")
	}
	return Result{Name: "mae", Score: float32(m.sum / float64(m.count))}, nil
}

// Accuracy accumulates binary accuracy at a 0.5 threshold. It satisfies
// tensor.Evaluator.
type Accuracy struct {
	// TargetKey is the batch field holding 0/1 targets. Defaults to
	// "target".
	TargetKey string

	correct int
	count   int
}

// NewAccuracy creates a binary accuracy evaluator.
func NewAccuracy() *Accuracy {
	return &Accuracy{TargetKey: "target"}
}

// Reset clears the accumulated counts.
func (a *Accuracy) Reset() {
	a.correct = 0
	a.count = 0
}

// Step folds one batch into the metric.
func (a *Accuracy) Step(output tensor.Output, batch tensor.Batch, lastActivation tensor.Activation) error {
	pred, target, err := predAndTarget(output, batch, a.TargetKey, lastActivation)
	if err != nil {
		return err
	}
	for i := range pred {
		predicted := float32(0)
		if pred[i] >= 0.5 {
			predicted = 1
		}
		if predicted == target[i] {
			a.correct++
		}
	}
	a.count += len(pred)
	return nil
}

// Calculate produces the accuracy seen since Reset.
func (a *Accuracy) Calculate() (tensor.EvaluatorResult, error) {
	if a.count == 0 {
		return nil, fmt.Errorf("no batches evaluated")
	}
	return Result{Name: "accuracy", Score: float32(a.correct) / float32(a.count)}, nil
}
