package native

import (
	"fmt"

	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/tensor"
)

// MSELoss is a mean-squared-error loss wrapper over a Linear model. The
// batch must carry the regression targets under TargetKey.
type MSELoss struct {
	module *Linear

	// TargetKey is the batch field holding the targets. Defaults to
	// "target".
	TargetKey string
}

// NewMSELoss creates an MSE loss wrapper bound to the given model.
func NewMSELoss(module *Linear) (*MSELoss, error) {
	if module == nil {
		return nil, fmt.Errorf("module cannot be nil")
	}
	return &MSELoss{module: module, TargetKey: "target"}, nil
}

// ComputeLoss computes the mean squared error between the model output and
// the batch targets. The last activation, when present, is applied to the
// output first.
func (m *MSELoss) ComputeLoss(output tensor.Output, batch tensor.Batch, tc *engine.TrainingContext, lastActivation tensor.Activation) (tensor.LossValue, error) {
	if lastActivation != nil {
		activated, err := lastActivation(output)
		if err != nil {
			return nil, err
		}
		output = activated
	}
	if output.IsNamed() || output.Value == nil {
		return nil, fmt.Errorf("mse loss requires a single-valued output")
	}

	pred, err := output.Value.Float32s()
	if err != nil {
		return nil, err
	}

	rawTarget, ok := batch[m.TargetKey]
	if !ok {
		return nil, fmt.Errorf("batch has no field %q", m.TargetKey)
	}
	targetValue, ok := rawTarget.(tensor.Value)
	if !ok {
		return nil, fmt.Errorf("batch field %q must be a tensor.Value, got %T", m.TargetKey, rawTarget)
	}
	target, err := targetValue.Float32s()
	if err != nil {
		return nil, err
	}
	if len(target) != len(pred) {
		return nil, fmt.Errorf("target length %d does not match prediction length %d", len(target), len(pred))
	}

	var sum float32
	for i := range pred {
		diff := pred[i] - target[i]
		sum += diff * diff
	}

	return &mseLossValue{
		module: m.module,
		pred:   pred,
		target: target,
		value:  sum / float32(len(pred)),
	}, nil
}

var _ engine.LossWrapper = (*MSELoss)(nil)

// mseLossValue is the scalar-bearing result of one MSE computation.
type mseLossValue struct {
	module *Linear
	pred   []float32
	target []float32
	value  float32
}

// Backward folds the loss gradient into the model's accumulators. Repeated
// Backward calls across batches accumulate, which is what the gradient
// accumulation windows of the training engine rely on.
func (v *mseLossValue) Backward() error {
	grad := make([]float32, len(v.pred))
	scale := 2 / float32(len(v.pred))
	for i := range v.pred {
		grad[i] = scale * (v.pred[i] - v.target[i])
	}
	return v.module.accumulateGrad(grad)
}

// Item returns the scalar loss.
func (v *mseLossValue) Item() float32 {
	return v.value
}
