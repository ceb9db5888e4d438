package callbacks

import (
	"fmt"
	"math"

	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/tensor"
)

// LRScheduler decays the optimizer's learning rate exponentially per epoch:
// lr = initial * gamma^epoch. It requires an optimizer implementing the
// tensor.LearningRateSetter capability.
type LRScheduler struct {
	engine.BaseCallback

	// Gamma is the per-epoch multiplicative decay factor.
	Gamma float32

	initial float32
}

// NewLRScheduler creates an exponential learning-rate schedule.
func NewLRScheduler(gamma float32) *LRScheduler {
	return &LRScheduler{Gamma: gamma}
}

// OnTrainingStart captures the optimizer's initial learning rate.
func (s *LRScheduler) OnTrainingStart(tc *engine.TrainingContext) error {
	if s.Gamma <= 0 {
		return fmt.Errorf("lr scheduler gamma must be positive, got %f", s.Gamma)
	}
	setter, ok := tc.Optimizer.(tensor.LearningRateSetter)
	if !ok {
		return fmt.Errorf("optimizer %T does not support learning rate updates", tc.Optimizer)
	}
	s.initial = setter.LearningRate()
	return nil
}

// OnEpochStart applies the decayed rate for the starting epoch.
func (s *LRScheduler) OnEpochStart(tc *engine.TrainingContext) error {
	setter := tc.Optimizer.(tensor.LearningRateSetter)
	decay := float32(math.Pow(float64(s.Gamma), float64(tc.CurrentEpoch)))
	setter.SetLearningRate(s.initial * decay)
	return nil
}
