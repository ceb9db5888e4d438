package native

import (
	"math"

	"github.com/gantryml/gantry/tensor"
)

// Activation names registered by this runtime.
const (
	ActivationIdentity = "identity"
	ActivationSigmoid  = "sigmoid"
)

func init() {
	tensor.RegisterActivation(ActivationIdentity, func(o tensor.Output) (tensor.Output, error) {
		return o, nil
	})
	tensor.RegisterActivation(ActivationSigmoid, Sigmoid)
}

// Sigmoid applies the logistic function element-wise, recursing through
// named outputs.
func Sigmoid(output tensor.Output) (tensor.Output, error) {
	return mapOutput(output, func(x float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(x))))
	})
}

// mapOutput applies f element-wise to every value in an output.
func mapOutput(output tensor.Output, f func(float32) float32) (tensor.Output, error) {
	if output.IsNamed() {
		mapped := make(map[string]tensor.Output, len(output.Named))
		for k, sub := range output.Named {
			m, err := mapOutput(sub, f)
			if err != nil {
				return tensor.Output{}, err
			}
			mapped[k] = m
		}
		return tensor.Output{Named: mapped}, nil
	}
	if output.Value == nil {
		return output, nil
	}

	data, err := output.Value.Float32s()
	if err != nil {
		return tensor.Output{}, err
	}
	for i := range data {
		data[i] = f(data[i])
	}

	mapped, err := NewTensor(data, output.Value.Shape())
	if err != nil {
		return tensor.Output{}, err
	}
	mapped.device = output.Value.Device()
	return tensor.Single(mapped), nil
}
