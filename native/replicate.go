package native

import (
	"fmt"
	"strings"

	"github.com/gantryml/gantry/tensor"
)

// mirror is a replication wrapper around a module. The native runtime has
// only one real device, so the mirror just namespaces parameter state under
// the replica prefix and delegates everything else; it exists to exercise
// the orchestration layer's replication paths.
type mirror struct {
	inner   tensor.Module
	devices []tensor.Device
}

// Replicate wraps a module for multi-device execution. Every requested
// device must be usable on this host; an unavailable device fails fast
// before any training state is touched.
func Replicate(m tensor.Module, devices []tensor.Device) (tensor.ReplicatedModule, error) {
	if m == nil {
		return nil, fmt.Errorf("module cannot be nil")
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("replication requires at least one device")
	}
	for _, d := range devices {
		if err := Probe(d); err != nil {
			return nil, err
		}
	}
	return &mirror{inner: m, devices: devices}, nil
}

func (m *mirror) Forward(inputs ...tensor.Value) (tensor.Output, error) {
	return m.inner.Forward(inputs...)
}

func (m *mirror) SetTraining(training bool) {
	m.inner.SetTraining(training)
}

func (m *mirror) To(device tensor.Device) error {
	return m.inner.To(device)
}

// StateDict returns the inner parameters under the replica prefix.
func (m *mirror) StateDict() map[string]tensor.Value {
	inner := m.inner.StateDict()
	state := make(map[string]tensor.Value, len(inner))
	for key, value := range inner {
		state[tensor.ReplicaPrefix+key] = value
	}
	return state
}

// LoadStateDict strips the replica prefix and delegates.
func (m *mirror) LoadStateDict(state map[string]tensor.Value) error {
	inner := make(map[string]tensor.Value, len(state))
	for key, value := range state {
		if !strings.HasPrefix(key, tensor.ReplicaPrefix) {
			return fmt.Errorf("replicated parameter %q lacks prefix %q", key, tensor.ReplicaPrefix)
		}
		inner[strings.TrimPrefix(key, tensor.ReplicaPrefix)] = value
	}
	return m.inner.LoadStateDict(inner)
}

// Unwrap returns the underlying module.
func (m *mirror) Unwrap() tensor.Module {
	return m.inner
}

// SetGradEnabled delegates when the inner module tracks gradients.
func (m *mirror) SetGradEnabled(enabled bool) {
	if tracker, ok := m.inner.(tensor.GradTracker); ok {
		tracker.SetGradEnabled(enabled)
	}
}

// GradEnabled delegates when the inner module tracks gradients.
func (m *mirror) GradEnabled() bool {
	if tracker, ok := m.inner.(tensor.GradTracker); ok {
		return tracker.GradEnabled()
	}
	return false
}

var _ tensor.ReplicatedModule = (*mirror)(nil)
var _ tensor.GradTracker = (*mirror)(nil)
