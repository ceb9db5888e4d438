package native

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/gantryml/gantry/tensor"
)

// Codec serializes native runtime objects as JSON. It satisfies
// tensor.Codec. Decoded objects always materialize on the CPU.
type Codec struct{}

type moduleBlob struct {
	Type   string    `json:"type"`
	In     int       `json:"in"`
	Out    int       `json:"out"`
	Weight []float32 `json:"weight"`
	Bias   []float32 `json:"bias"`
}

type stateEntry struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// EncodeModule serializes a Linear model. Replication wrappers are
// unwrapped first; replication is a device-placement concern, not part of
// the persisted architecture.
func (Codec) EncodeModule(w io.Writer, m tensor.Module) error {
	if rm, ok := m.(tensor.ReplicatedModule); ok {
		m = rm.Unwrap()
	}
	linear, ok := m.(*Linear)
	if !ok {
		return fmt.Errorf("native codec cannot encode module type %T", m)
	}

	blob := moduleBlob{
		Type:   "linear",
		In:     linear.in,
		Out:    linear.out,
		Weight: linear.weight,
		Bias:   linear.bias,
	}
	if err := json.NewEncoder(w).Encode(blob); err != nil {
		return fmt.Errorf("failed to encode module: %v", err)
	}
	return nil
}

// DecodeModule materializes a Linear model on the CPU.
func (Codec) DecodeModule(r io.Reader) (tensor.Module, error) {
	var blob moduleBlob
	if err := json.NewDecoder(r).Decode(&blob); err != nil {
		return nil, fmt.Errorf("failed to decode module: %v", err)
	}
	if blob.Type != "linear" {
		return nil, fmt.Errorf("unsupported module type %q", blob.Type)
	}

	linear, err := NewLinear(blob.In, blob.Out, 0)
	if err != nil {
		return nil, err
	}
	if len(blob.Weight) != len(linear.weight) || len(blob.Bias) != len(linear.bias) {
		return nil, fmt.Errorf("module blob has inconsistent parameter sizes")
	}
	copy(linear.weight, blob.Weight)
	copy(linear.bias, blob.Bias)
	return linear, nil
}

// EncodeState serializes a parameter state map.
func (Codec) EncodeState(w io.Writer, state map[string]tensor.Value) error {
	entries := make(map[string]stateEntry, len(state))
	for key, value := range state {
		data, err := value.Float32s()
		if err != nil {
			return fmt.Errorf("failed to read parameter %q: %v", key, err)
		}
		entries[key] = stateEntry{Shape: value.Shape(), Data: data}
	}
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		return fmt.Errorf("failed to encode state: %v", err)
	}
	return nil
}

// DecodeState materializes a parameter state map on the CPU.
func (Codec) DecodeState(r io.Reader) (map[string]tensor.Value, error) {
	var entries map[string]stateEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode state: %v", err)
	}

	state := make(map[string]tensor.Value, len(entries))
	for key, entry := range entries {
		value, err := NewTensor(entry.Data, entry.Shape)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q: %v", key, err)
		}
		state[key] = value
	}
	return state, nil
}

var _ tensor.Codec = Codec{}
