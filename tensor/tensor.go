// Package tensor defines the contracts the training orchestration layer
// expects from an external tensor/autograd runtime. The orchestration code
// never computes on tensors itself; it moves values between devices, drives
// forward/backward passes, and shuttles parameter state through these
// interfaces.
package tensor

import "io"

// Value is a tensor-like value produced or consumed by a runtime.
type Value interface {
	// Shape returns the dimensions of the value.
	Shape() []int

	// Device returns where the value currently resides.
	Device() Device

	// To returns an equivalent value resident on the given device.
	To(device Device) (Value, error)

	// Detach returns a copy of the value disconnected from any gradient
	// graph the runtime may be tracking.
	Detach() Value

	// Float32s returns the concrete numeric contents in row-major order.
	// Runtimes whose values are lazy must materialize them here.
	Float32s() ([]float32, error)
}

// Batch is one unit of training or inference data: a mapping from field
// name to a Value, an ordered []Value (multi-input models), or a raw id
// slice such as []string or []int.
type Batch map[string]interface{}

// Module is a trainable model owned by the runtime. The orchestration layer
// holds exactly one Module per facade and drives it through this contract.
type Module interface {
	// Forward runs one forward pass over the positional inputs.
	Forward(inputs ...Value) (Output, error)

	// SetTraining switches the module between training and inference mode.
	SetTraining(training bool)

	// To moves all module state to the given device.
	To(device Device) error

	// StateDict returns the module's learnable parameters keyed by name.
	StateDict() map[string]Value

	// LoadStateDict sets exactly the given parameters. Unknown keys and
	// shape mismatches are errors; keys absent from the map are left alone.
	LoadStateDict(state map[string]Value) error
}

// ReplicaPrefix namespaces parameter keys of a module wrapped for
// multi-device replication.
const ReplicaPrefix = "replica."

// ReplicatedModule is a Module that mirrors an underlying module across
// several devices. Its StateDict keys carry ReplicaPrefix.
type ReplicatedModule interface {
	Module

	// Unwrap returns the underlying single-device module.
	Unwrap() Module
}

// GradTracker is an optional capability of modules whose runtime tracks
// gradients during forward passes. The facade disables tracking around
// inference-only passes and restores the prior setting afterwards.
type GradTracker interface {
	SetGradEnabled(enabled bool)
	GradEnabled() bool
}

// Optimizer updates module parameters from accumulated gradients.
type Optimizer interface {
	// Step applies one parameter update.
	Step() error

	// ZeroGrad clears all accumulated gradients.
	ZeroGrad() error
}

// LearningRateSetter is an optional capability of optimizers whose learning
// rate can be adjusted mid-run, e.g. by a schedule callback.
type LearningRateSetter interface {
	SetLearningRate(lr float32)
	LearningRate() float32
}

// LossValue is a scalar-bearing loss produced by a loss collaborator.
type LossValue interface {
	// Backward propagates gradients from the loss into the module.
	Backward() error

	// Item returns the scalar loss.
	Item() float32
}

// EvaluatorResult is the outcome of one evaluation pass.
type EvaluatorResult interface {
	// Value returns the scalar score, used by stopping criteria.
	Value() float32

	String() string
}

// Evaluator accumulates a metric over batches of model outputs.
type Evaluator interface {
	// Reset clears accumulated state before an evaluation pass.
	Reset()

	// Step folds one batch of outputs into the metric.
	Step(output Output, batch Batch, lastActivation Activation) error

	// Calculate produces the result for everything seen since Reset.
	Calculate() (EvaluatorResult, error)
}

// Codec is the runtime's serializer. Persisted payloads are opaque to the
// orchestration layer; their internal layout is owned by the runtime.
type Codec interface {
	// EncodeModule serializes a whole module (architecture and parameters).
	EncodeModule(w io.Writer, m Module) error

	// DecodeModule materializes a module from its serialized form. The
	// returned module resides on the CPU.
	DecodeModule(r io.Reader) (Module, error)

	// EncodeState serializes a parameter state map.
	EncodeState(w io.Writer, state map[string]Value) error

	// DecodeState materializes a parameter state map on the CPU.
	DecodeState(r io.Reader) (map[string]Value, error)
}
