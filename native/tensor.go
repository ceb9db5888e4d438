package native

import (
	"fmt"

	"github.com/gantryml/gantry/tensor"
)

// Tensor is a dense float32 value. It satisfies tensor.Value.
type Tensor struct {
	data     []float32
	shape    []int
	device   tensor.Device
	attached bool // part of a live gradient graph
}

// NewTensor creates a CPU tensor over a copy of data.
func NewTensor(data []float32, shape []int) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("shape cannot be empty")
	}
	elements := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		elements *= dim
	}
	if elements != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, elements, len(data))
	}

	t := &Tensor{
		data:   make([]float32, len(data)),
		shape:  make([]int, len(shape)),
		device: tensor.CPU,
	}
	copy(t.data, data)
	copy(t.shape, shape)
	return t, nil
}

// MustTensor is NewTensor that panics on error. Intended for tests and
// fixed-shape literals.
func MustTensor(data []float32, shape []int) *Tensor {
	t, err := NewTensor(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the dimensions (defensive copy).
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Device returns where the tensor resides.
func (t *Tensor) Device() tensor.Device {
	return t.device
}

// To returns a copy of the tensor on the given device.
func (t *Tensor) To(device tensor.Device) (tensor.Value, error) {
	if err := Probe(device); err != nil {
		return nil, err
	}
	moved := t.clone()
	moved.device = device
	return moved, nil
}

// Detach returns a copy disconnected from any gradient graph.
func (t *Tensor) Detach() tensor.Value {
	detached := t.clone()
	detached.attached = false
	return detached
}

// Float32s returns the contents in row-major order (defensive copy).
func (t *Tensor) Float32s() ([]float32, error) {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return data, nil
}

// Attached reports whether the tensor is part of a live gradient graph.
func (t *Tensor) Attached() bool {
	return t.attached
}

func (t *Tensor) clone() *Tensor {
	c := &Tensor{
		data:     make([]float32, len(t.data)),
		shape:    make([]int, len(t.shape)),
		device:   t.device,
		attached: t.attached,
	}
	copy(c.data, t.data)
	copy(c.shape, t.shape)
	return c
}
