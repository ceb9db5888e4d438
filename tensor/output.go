package tensor

import "fmt"

// Output is the result of a forward pass: either a single Value or a named
// collection of outputs. Named entries may themselves be named, so nested
// runtime outputs survive a round trip through the orchestration layer.
type Output struct {
	Value Value
	Named map[string]Output
}

// Single wraps one value as an output.
func Single(v Value) Output {
	return Output{Value: v}
}

// NamedOutput wraps a named collection of values as an output.
func NamedOutput(values map[string]Output) Output {
	return Output{Named: values}
}

// IsNamed reports whether the output is a named collection.
func (o Output) IsNamed() bool {
	return o.Named != nil
}

// At returns the named sub-output for key.
func (o Output) At(key string) (Output, error) {
	if !o.IsNamed() {
		return Output{}, fmt.Errorf("output is not a named collection, cannot index %q", key)
	}
	sub, ok := o.Named[key]
	if !ok {
		return Output{}, fmt.Errorf("output has no entry %q", key)
	}
	return sub, nil
}

// Detach returns the output with every value disconnected from any gradient
// graph, recursing through named collections.
func (o Output) Detach() Output {
	if o.IsNamed() {
		detached := make(map[string]Output, len(o.Named))
		for k, sub := range o.Named {
			detached[k] = sub.Detach()
		}
		return Output{Named: detached}
	}
	if o.Value == nil {
		return o
	}
	return Output{Value: o.Value.Detach()}
}

// To returns the output with every value moved to the given device,
// recursing through named collections.
func (o Output) To(device Device) (Output, error) {
	if o.IsNamed() {
		moved := make(map[string]Output, len(o.Named))
		for k, sub := range o.Named {
			m, err := sub.To(device)
			if err != nil {
				return Output{}, err
			}
			moved[k] = m
		}
		return Output{Named: moved}, nil
	}
	if o.Value == nil {
		return o, nil
	}
	v, err := o.Value.To(device)
	if err != nil {
		return Output{}, err
	}
	return Output{Value: v}, nil
}
