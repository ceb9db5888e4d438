package native

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/gantryml/gantry/tensor"
)

// Linear is a fully connected layer y = Wx + b acting as a whole model. It
// satisfies tensor.Module and tensor.GradTracker. Gradients are analytic:
// the training forward pass captures its inputs and predictions, and the
// MSE loss folds them into the layer's gradient accumulators on Backward.
type Linear struct {
	in  int
	out int

	weight []float32 // out*in, row-major
	bias   []float32 // out

	gradWeight []float32
	gradBias   []float32

	device      tensor.Device
	training    bool
	gradEnabled bool

	// forward capture for the analytic backward pass
	lastInput []float32 // n*in
	lastPred  []float32 // n*out
	lastRows  int
}

// NewLinear creates a linear model with in inputs and out outputs. Weights
// are initialized Xavier-style from the given seed.
func NewLinear(in, out int, seed int64) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid linear dimensions %dx%d", in, out)
	}

	rng := rand.New(rand.NewSource(seed))
	scale := float32(math.Sqrt(2.0 / float64(in+out)))

	l := &Linear{
		in:          in,
		out:         out,
		weight:      make([]float32, in*out),
		bias:        make([]float32, out),
		gradWeight:  make([]float32, in*out),
		gradBias:    make([]float32, out),
		device:      tensor.CPU,
		gradEnabled: true,
	}
	for i := range l.weight {
		l.weight[i] = (rng.Float32()*2 - 1) * scale
	}
	return l, nil
}

// Forward computes y = Wx + b for one input of shape [n, in] or [in].
func (l *Linear) Forward(inputs ...tensor.Value) (tensor.Output, error) {
	if len(inputs) != 1 {
		return tensor.Output{}, fmt.Errorf("linear model takes exactly 1 input, got %d", len(inputs))
	}

	x, err := inputs[0].Float32s()
	if err != nil {
		return tensor.Output{}, err
	}
	shape := inputs[0].Shape()

	var rows int
	switch {
	case len(shape) == 1 && shape[0] == l.in:
		rows = 1
	case len(shape) == 2 && shape[1] == l.in:
		rows = shape[0]
	default:
		return tensor.Output{}, fmt.Errorf("input shape %v incompatible with linear %dx%d", shape, l.in, l.out)
	}

	y := make([]float32, rows*l.out)
	for r := 0; r < rows; r++ {
		xr := x[r*l.in : (r+1)*l.in]
		for o := 0; o < l.out; o++ {
			y[r*l.out+o] = dot(l.weight[o*l.in:(o+1)*l.in], xr) + l.bias[o]
		}
	}

	tracking := l.training && l.gradEnabled
	if tracking {
		l.lastInput = append(l.lastInput[:0], x...)
		l.lastPred = append(l.lastPred[:0], y...)
		l.lastRows = rows
	}

	result, err := NewTensor(y, []int{rows, l.out})
	if err != nil {
		return tensor.Output{}, err
	}
	result.device = l.device
	result.attached = tracking
	return tensor.Single(result), nil
}

// SetTraining switches between training and inference mode.
func (l *Linear) SetTraining(training bool) {
	l.training = training
}

// Training reports the current mode.
func (l *Linear) Training() bool {
	return l.training
}

// To moves the model to the given device.
func (l *Linear) To(device tensor.Device) error {
	if err := Probe(device); err != nil {
		return err
	}
	l.device = device
	return nil
}

// SetGradEnabled toggles gradient tracking for forward passes.
func (l *Linear) SetGradEnabled(enabled bool) {
	l.gradEnabled = enabled
}

// GradEnabled reports whether forward passes track gradients.
func (l *Linear) GradEnabled() bool {
	return l.gradEnabled
}

// StateDict returns the learnable parameters.
func (l *Linear) StateDict() map[string]tensor.Value {
	return map[string]tensor.Value{
		"weight": MustTensor(l.weight, []int{l.out, l.in}),
		"bias":   MustTensor(l.bias, []int{l.out}),
	}
}

// LoadStateDict sets exactly the given parameters.
func (l *Linear) LoadStateDict(state map[string]tensor.Value) error {
	for key, value := range state {
		data, err := value.Float32s()
		if err != nil {
			return err
		}
		switch key {
		case "weight":
			if len(data) != len(l.weight) {
				return fmt.Errorf("weight size mismatch: expected %d, got %d", len(l.weight), len(data))
			}
			copy(l.weight, data)
		case "bias":
			if len(data) != len(l.bias) {
				return fmt.Errorf("bias size mismatch: expected %d, got %d", len(l.bias), len(data))
			}
			copy(l.bias, data)
		default:
			return fmt.Errorf("unknown parameter %q", key)
		}
	}
	return nil
}

// accumulateGrad folds the loss gradient with respect to the predictions
// (n*out, row-major) into the gradient accumulators, using the inputs
// captured by the most recent tracked forward pass.
func (l *Linear) accumulateGrad(predGrad []float32) error {
	if l.lastRows == 0 {
		return fmt.Errorf("no tracked forward pass to backpropagate through")
	}
	if len(predGrad) != l.lastRows*l.out {
		return fmt.Errorf("gradient size mismatch: expected %d, got %d", l.lastRows*l.out, len(predGrad))
	}

	for r := 0; r < l.lastRows; r++ {
		xr := l.lastInput[r*l.in : (r+1)*l.in]
		for o := 0; o < l.out; o++ {
			g := predGrad[r*l.out+o]
			l.gradBias[o] += g
			wRow := l.gradWeight[o*l.in : (o+1)*l.in]
			for i := range xr {
				wRow[i] += g * xr[i]
			}
		}
	}
	return nil
}

// zeroGrad clears the gradient accumulators.
func (l *Linear) zeroGrad() {
	for i := range l.gradWeight {
		l.gradWeight[i] = 0
	}
	for i := range l.gradBias {
		l.gradBias[i] = 0
	}
}
