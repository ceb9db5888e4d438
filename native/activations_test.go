package native

import (
	"math"
	"testing"

	"github.com/gantryml/gantry/tensor"
)

func TestActivationsRegistered(t *testing.T) {
	for _, name := range []string{ActivationIdentity, ActivationSigmoid} {
		if _, ok := tensor.ActivationByName(name); !ok {
			t.Errorf("activation %q should be registered", name)
		}
	}
}

func TestSigmoid(t *testing.T) {
	output := tensor.Single(MustTensor([]float32{0, 10, -10}, []int{3}))

	activated, err := Sigmoid(output)
	if err != nil {
		t.Fatalf("sigmoid failed: %v", err)
	}
	got, err := activated.Value.Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	if got[0] != 0.5 {
		t.Errorf("sigmoid(0) should be 0.5, got %f", got[0])
	}
	if math.Abs(float64(got[1]-1)) > 1e-4 {
		t.Errorf("sigmoid(10) should be near 1, got %f", got[1])
	}
	if math.Abs(float64(got[2])) > 1e-4 {
		t.Errorf("sigmoid(-10) should be near 0, got %f", got[2])
	}

	// The input must not be mutated.
	original, err := output.Value.Float32s()
	if err != nil {
		t.Fatalf("failed to read input: %v", err)
	}
	if original[0] != 0 {
		t.Errorf("sigmoid mutated its input: %v", original)
	}
}

func TestSigmoidNamedOutput(t *testing.T) {
	named := tensor.NamedOutput(map[string]tensor.Output{
		"logits": tensor.Single(MustTensor([]float32{0}, []int{1})),
	})

	activated, err := Sigmoid(named)
	if err != nil {
		t.Fatalf("sigmoid failed: %v", err)
	}
	sub, err := activated.At("logits")
	if err != nil {
		t.Fatalf("missing named entry: %v", err)
	}
	got, err := sub.Value.Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got[0] != 0.5 {
		t.Errorf("expected 0.5, got %f", got[0])
	}
}

func TestIdentityActivation(t *testing.T) {
	identity, ok := tensor.ActivationByName(ActivationIdentity)
	if !ok {
		t.Fatal("identity activation should be registered")
	}
	output := tensor.Single(MustTensor([]float32{42}, []int{1}))
	same, err := identity(output)
	if err != nil {
		t.Fatalf("identity failed: %v", err)
	}
	got, err := same.Value.Float32s()
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got[0] != 42 {
		t.Errorf("identity should pass values through, got %f", got[0])
	}
}
