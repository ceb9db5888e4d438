package native

import (
	"testing"

	"github.com/gantryml/gantry/tensor"
)

// fixedLinear returns a 2-in 1-out model with weight [3 -2] and bias [0.5].
func fixedLinear(t *testing.T) *Linear {
	t.Helper()
	l, err := NewLinear(2, 1, 1)
	if err != nil {
		t.Fatalf("failed to create linear: %v", err)
	}
	err = l.LoadStateDict(map[string]tensor.Value{
		"weight": MustTensor([]float32{3, -2}, []int{1, 2}),
		"bias":   MustTensor([]float32{0.5}, []int{1}),
	})
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	return l
}

func TestNewLinearValidation(t *testing.T) {
	if _, err := NewLinear(0, 1, 1); err == nil {
		t.Error("expected an error for zero input size")
	}
	if _, err := NewLinear(2, -1, 1); err == nil {
		t.Error("expected an error for negative output size")
	}
}

func TestLinearForward(t *testing.T) {
	l := fixedLinear(t)

	t.Run("batched input", func(t *testing.T) {
		input := MustTensor([]float32{1, 1, 2, 0}, []int{2, 2})
		output, err := l.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}

		got, err := output.Value.Float32s()
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		// 3*1 - 2*1 + 0.5 = 1.5 and 3*2 - 2*0 + 0.5 = 6.5
		if got[0] != 1.5 || got[1] != 6.5 {
			t.Errorf("expected [1.5 6.5], got %v", got)
		}
		if shape := output.Value.Shape(); shape[0] != 2 || shape[1] != 1 {
			t.Errorf("expected shape [2 1], got %v", shape)
		}
	})

	t.Run("single row input", func(t *testing.T) {
		output, err := l.Forward(MustTensor([]float32{1, 1}, []int{2}))
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		got, err := output.Value.Float32s()
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		if got[0] != 1.5 {
			t.Errorf("expected 1.5, got %f", got[0])
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		if _, err := l.Forward(MustTensor([]float32{1, 2, 3}, []int{3})); err == nil {
			t.Error("expected an error for an incompatible shape")
		}
	})

	t.Run("input count", func(t *testing.T) {
		if _, err := l.Forward(); err == nil {
			t.Error("expected an error for zero inputs")
		}
	})
}

func TestLinearGradTracking(t *testing.T) {
	l := fixedLinear(t)
	input := MustTensor([]float32{1, 1}, []int{1, 2})

	t.Run("inference passes are untracked", func(t *testing.T) {
		output, err := l.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if output.Value.(*Tensor).Attached() {
			t.Error("inference output should not be attached to a gradient graph")
		}
		if err := l.accumulateGrad([]float32{1}); err == nil {
			t.Error("expected an error backpropagating without a tracked pass")
		}
	})

	t.Run("training passes are tracked", func(t *testing.T) {
		l.SetTraining(true)
		output, err := l.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if !output.Value.(*Tensor).Attached() {
			t.Error("training output should be attached to a gradient graph")
		}
		if err := l.accumulateGrad([]float32{1}); err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		// dL/db = g, dL/dW = g * x
		if l.gradBias[0] != 1 {
			t.Errorf("expected bias grad 1, got %f", l.gradBias[0])
		}
		if l.gradWeight[0] != 1 || l.gradWeight[1] != 1 {
			t.Errorf("expected weight grad [1 1], got %v", l.gradWeight)
		}
	})

	t.Run("disabled tracking wins over training mode", func(t *testing.T) {
		l.SetGradEnabled(false)
		output, err := l.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if output.Value.(*Tensor).Attached() {
			t.Error("output should not be attached while tracking is disabled")
		}
	})
}

func TestLinearStateDict(t *testing.T) {
	l := fixedLinear(t)

	state := l.StateDict()
	weight, err := state["weight"].Float32s()
	if err != nil {
		t.Fatalf("failed to read weight: %v", err)
	}
	if weight[0] != 3 || weight[1] != -2 {
		t.Errorf("unexpected weight: %v", weight)
	}

	t.Run("unknown key", func(t *testing.T) {
		err := l.LoadStateDict(map[string]tensor.Value{
			"gamma": MustTensor([]float32{1}, []int{1}),
		})
		if err == nil {
			t.Error("expected an error for an unknown parameter")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		err := l.LoadStateDict(map[string]tensor.Value{
			"bias": MustTensor([]float32{1, 2}, []int{2}),
		})
		if err == nil {
			t.Error("expected an error for a bias size mismatch")
		}
	})
}
