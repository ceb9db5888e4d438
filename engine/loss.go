package engine

import "github.com/gantryml/gantry/tensor"

// LossWrapper computes a scalar-bearing loss from one batch's model output.
// The whole training context is supplied so loss implementations can read
// epoch or history state; the last activation is supplied because some
// losses work on logits while others need activated outputs.
type LossWrapper interface {
	ComputeLoss(output tensor.Output, batch tensor.Batch, tc *TrainingContext, lastActivation tensor.Activation) (tensor.LossValue, error)
}

// LossFunc adapts a plain function to the LossWrapper interface.
type LossFunc func(output tensor.Output, batch tensor.Batch, tc *TrainingContext, lastActivation tensor.Activation) (tensor.LossValue, error)

// ComputeLoss calls f.
func (f LossFunc) ComputeLoss(output tensor.Output, batch tensor.Batch, tc *TrainingContext, lastActivation tensor.Activation) (tensor.LossValue, error) {
	return f(output, batch, tc, lastActivation)
}
