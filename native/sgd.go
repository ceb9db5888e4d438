package native

import (
	"fmt"

	"github.com/gantryml/gantry/tensor"
)

// SGD is a plain stochastic gradient descent optimizer over a Linear model.
// It satisfies tensor.Optimizer and tensor.LearningRateSetter.
type SGD struct {
	module *Linear
	lr     float32
}

// NewSGD creates an SGD optimizer for the given model.
func NewSGD(module *Linear, learningRate float32) (*SGD, error) {
	if module == nil {
		return nil, fmt.Errorf("module cannot be nil")
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", learningRate)
	}
	return &SGD{module: module, lr: learningRate}, nil
}

// Step applies one parameter update from the accumulated gradients.
func (s *SGD) Step() error {
	for i := range s.module.weight {
		s.module.weight[i] -= s.lr * s.module.gradWeight[i]
	}
	for i := range s.module.bias {
		s.module.bias[i] -= s.lr * s.module.gradBias[i]
	}
	return nil
}

// ZeroGrad clears the accumulated gradients.
func (s *SGD) ZeroGrad() error {
	s.module.zeroGrad()
	return nil
}

// SetLearningRate updates the learning rate.
func (s *SGD) SetLearningRate(lr float32) {
	s.lr = lr
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float32 {
	return s.lr
}

var _ tensor.Optimizer = (*SGD)(nil)
var _ tensor.LearningRateSetter = (*SGD)(nil)
