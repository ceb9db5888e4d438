package tensor

import (
	"fmt"
	"sync"
)

// Activation applies a final non-linearity outside the model's forward
// pass. Some losses work on logits, so the model may leave the last
// activation to the facade at inference time.
type Activation func(Output) (Output, error)

var (
	activationsMu sync.RWMutex
	activations   = make(map[string]Activation)
)

// RegisterActivation makes an activation available under a stable name.
// Persisted models reference activations by name because functions cannot
// be serialized. Registering an already-registered name panics.
func RegisterActivation(name string, fn Activation) {
	activationsMu.Lock()
	defer activationsMu.Unlock()
	if name == "" {
		panic("tensor: activation name must not be empty")
	}
	if fn == nil {
		panic("tensor: activation function must not be nil")
	}
	if _, exists := activations[name]; exists {
		panic(fmt.Sprintf("tensor: activation %q already registered", name))
	}
	activations[name] = fn
}

// ActivationByName returns the registered activation for name.
func ActivationByName(name string) (Activation, bool) {
	activationsMu.RLock()
	defer activationsMu.RUnlock()
	fn, ok := activations[name]
	return fn, ok
}
