// Package engine implements the training orchestration core: the model
// facade, the shared training context, the callback protocol and the
// training driver. It computes nothing itself; all tensor work is delegated
// to the runtime collaborators declared in the tensor package.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gantryml/gantry/checkpoints"
	"github.com/gantryml/gantry/data"
	"github.com/gantryml/gantry/tensor"
)

// System is the model facade. It owns the model and its device placement
// and exposes the predict, evaluate and persistence entry points used by
// the training driver and by external callers.
type System struct {
	model          tensor.Module
	lastActivation tensor.Activation
	activationName string
	device         tensor.Device
	codec          tensor.Codec
}

// SystemConfig configures a System.
type SystemConfig struct {
	// LastActivation is the registered name of an activation to apply at
	// non-train time, or empty when the model performs its own. Some losses
	// work on logits, so the last activation may live outside Forward.
	LastActivation string

	// Device is where the model should reside. Defaults to CPU.
	Device tensor.Device

	// Codec serializes the model for the persistence entry points. It may
	// be nil when persistence is never used.
	Codec tensor.Codec
}

// NewSystem creates a facade around model. The model is moved to the
// configured device before anything else happens, so a device-transfer
// failure surfaces before any training state is touched. The model is put
// in inference mode.
func NewSystem(model tensor.Module, cfg SystemConfig) (*System, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}

	var activation tensor.Activation
	if cfg.LastActivation != "" {
		fn, ok := tensor.ActivationByName(cfg.LastActivation)
		if !ok {
			return nil, fmt.Errorf("activation %q is not registered", cfg.LastActivation)
		}
		activation = fn
	}

	if err := model.To(cfg.Device); err != nil {
		return nil, fmt.Errorf("failed to move model to %s: %v", cfg.Device, err)
	}
	model.SetTraining(false)

	return &System{
		model:          model,
		lastActivation: activation,
		activationName: cfg.LastActivation,
		device:         cfg.Device,
		codec:          cfg.Codec,
	}, nil
}

// Model returns the owned module.
func (s *System) Model() tensor.Module {
	return s.model
}

// Device returns the device the model currently resides on.
func (s *System) Device() tensor.Device {
	return s.device
}

// LastActivation returns the configured last activation, or nil.
func (s *System) LastActivation() tensor.Activation {
	return s.lastActivation
}

// To moves the model to the given device and returns the facade for
// chaining. All subsequent forward passes execute on the new device.
func (s *System) To(device tensor.Device) (*System, error) {
	if err := s.model.To(device); err != nil {
		return s, fmt.Errorf("failed to move model to %s: %v", device, err)
	}
	s.device = device
	return s, nil
}

// PredictBatch computes the model output for one batch input. The input is
// a single tensor.Value or a []tensor.Value of positional model inputs;
// each element is moved to the facade's device before the forward pass.
// Training/inference mode is left untouched.
func (s *System) PredictBatch(input interface{}) (tensor.Output, error) {
	var raw []tensor.Value
	switch v := input.(type) {
	case tensor.Value:
		raw = []tensor.Value{v}
	case []tensor.Value:
		raw = v
	default:
		return tensor.Output{}, fmt.Errorf("batch input must be a tensor.Value or []tensor.Value, got %T", input)
	}

	inputs := make([]tensor.Value, len(raw))
	for i, v := range raw {
		if v == nil {
			return tensor.Output{}, fmt.Errorf("batch input %d is nil", i)
		}
		moved, err := v.To(s.device)
		if err != nil {
			return tensor.Output{}, fmt.Errorf("failed to move input %d to %s: %v", i, s.device, err)
		}
		inputs[i] = moved
	}

	return s.model.Forward(inputs...)
}

// PredictConfig configures System.Predict.
type PredictConfig struct {
	// PerformLastActivation applies the facade's last activation to each
	// output.
	PerformLastActivation bool

	// BatchIDKey is the batch field holding example ids, or empty when the
	// data carries none.
	BatchIDKey string

	// BatchInputKey is the batch field holding the model input.
	// Defaults to "input".
	BatchInputKey string

	// ModelOutputKey narrows a named model output to one entry before
	// accumulation. Empty means the model returns the predictions directly.
	ModelOutputKey string
}

// PredictResult holds accumulated predictions and, when an id key was
// configured, the ids in matching order.
type PredictResult struct {
	IDs     []interface{}
	Outputs [][]float32
}

// Predict computes concrete model outputs over a whole data source.
// Gradient tracking is disabled for the duration of the pass and restored
// afterwards. Outputs must be numeric; use PurePredict for models whose
// output structure should be preserved as-is.
func (s *System) Predict(loader data.DataLoader, cfg PredictConfig) (*PredictResult, error) {
	inputKey := cfg.BatchInputKey
	if inputKey == "" {
		inputKey = "input"
	}

	restore := s.pauseGrad()
	defer restore()

	if err := loader.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset data loader: %v", err)
	}

	result := &PredictResult{}
	n := loader.Len()
	for i := 0; i < n; i++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}

		if cfg.BatchIDKey != "" {
			ids, err := extractIDs(batch, cfg.BatchIDKey)
			if err != nil {
				return nil, err
			}
			result.IDs = append(result.IDs, ids...)
		}

		input, ok := batch[inputKey]
		if !ok {
			return nil, fmt.Errorf("batch %d has no field %q", i, inputKey)
		}
		output, err := s.PredictBatch(input)
		if err != nil {
			return nil, err
		}

		if cfg.ModelOutputKey != "" {
			output, err = output.At(cfg.ModelOutputKey)
			if err != nil {
				return nil, err
			}
		}

		if s.lastActivation != nil && cfg.PerformLastActivation {
			output, err = s.lastActivation(output)
			if err != nil {
				return nil, err
			}
		}

		rows, err := outputRows(output)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, rows...)
	}

	return result, nil
}

// PurePredictConfig configures System.PurePredict.
type PurePredictConfig struct {
	// BatchInputKey is the batch field holding the model input.
	// Defaults to "input".
	BatchInputKey string

	// KeepBatches retains the loader's batches alongside the outputs for
	// downstream inspection.
	KeepBatches bool
}

// PurePredictResult holds raw per-batch model outputs and, when requested,
// the batches that produced them.
type PurePredictResult struct {
	Batches []tensor.Batch
	Outputs []tensor.Output
}

// PurePredict computes raw model outputs over a whole data source. Unlike
// Predict it preserves arbitrary output structure: each output is detached
// from the gradient graph and moved to the CPU, recursively through named
// collections.
func (s *System) PurePredict(loader data.DataLoader, cfg PurePredictConfig) (*PurePredictResult, error) {
	inputKey := cfg.BatchInputKey
	if inputKey == "" {
		inputKey = "input"
	}

	restore := s.pauseGrad()
	defer restore()

	if err := loader.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset data loader: %v", err)
	}

	result := &PurePredictResult{}
	n := loader.Len()
	for i := 0; i < n; i++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if cfg.KeepBatches {
			result.Batches = append(result.Batches, batch)
		}

		input, ok := batch[inputKey]
		if !ok {
			return nil, fmt.Errorf("batch %d has no field %q", i, inputKey)
		}
		output, err := s.PredictBatch(input)
		if err != nil {
			return nil, err
		}

		converted, err := output.Detach().To(tensor.CPU)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, converted)
	}

	return result, nil
}

// Evaluate runs every evaluator over a whole data source and returns a
// mapping from evaluator name to its result. The model is put in inference
// mode and left there; restoring training mode is the caller's job.
func (s *System) Evaluate(loader data.DataLoader, evaluators map[string]tensor.Evaluator, batchInputKey string) (map[string]tensor.EvaluatorResult, error) {
	if batchInputKey == "" {
		batchInputKey = "input"
	}

	s.model.SetTraining(false)

	names := make([]string, 0, len(evaluators))
	for name := range evaluators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		evaluators[name].Reset()
	}

	restore := s.pauseGrad()
	defer restore()

	if err := loader.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset data loader: %v", err)
	}

	n := loader.Len()
	for i := 0; i < n; i++ {
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}

		input, ok := batch[batchInputKey]
		if !ok {
			return nil, fmt.Errorf("batch %d has no field %q", i, batchInputKey)
		}
		output, err := s.PredictBatch(input)
		if err != nil {
			return nil, err
		}

		for _, name := range names {
			if err := evaluators[name].Step(output, batch, s.lastActivation); err != nil {
				return nil, err
			}
		}
	}

	results := make(map[string]tensor.EvaluatorResult, len(evaluators))
	for _, name := range names {
		result, err := evaluators[name].Calculate()
		if err != nil {
			return nil, err
		}
		results[name] = result
	}

	return results, nil
}

// Save persists the whole model plus the last-activation reference as one
// unit. The activation is persisted by registered name.
func (s *System) Save(w io.Writer) error {
	if s.codec == nil {
		return fmt.Errorf("system has no codec configured")
	}

	var payload bytes.Buffer
	if err := s.codec.EncodeModule(&payload, s.model); err != nil {
		return fmt.Errorf("failed to encode model: %v", err)
	}

	return checkpoints.Write(w, &checkpoints.Envelope{
		Kind:       checkpoints.KindSystem,
		Activation: s.activationName,
		Payload:    payload.Bytes(),
	})
}

// LoadSystem restores a System persisted with Save. The restored model
// resides on the CPU; device placement is up to the caller.
func LoadSystem(r io.Reader, codec tensor.Codec) (*System, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}

	env, err := checkpoints.Read(r, checkpoints.KindSystem)
	if err != nil {
		return nil, err
	}

	model, err := codec.DecodeModule(bytes.NewReader(env.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode model: %v", err)
	}

	return NewSystem(model, SystemConfig{
		LastActivation: env.Activation,
		Device:         tensor.CPU,
		Codec:          codec,
	})
}

// SaveModelState persists only the model's learnable-parameter state. When
// the facade currently wraps a multi-device replication layer the replica
// key prefix is stripped, so the state stays loadable either way.
func (s *System) SaveModelState(w io.Writer) error {
	if s.codec == nil {
		return fmt.Errorf("system has no codec configured")
	}

	state := s.model.StateDict()
	if _, ok := s.model.(tensor.ReplicatedModule); ok {
		stripped := make(map[string]tensor.Value, len(state))
		for key, value := range state {
			stripped[strings.TrimPrefix(key, tensor.ReplicaPrefix)] = value
		}
		state = stripped
	}

	var payload bytes.Buffer
	if err := s.codec.EncodeState(&payload, state); err != nil {
		return fmt.Errorf("failed to encode model state: %v", err)
	}

	return checkpoints.Write(w, &checkpoints.Envelope{
		Kind:    checkpoints.KindState,
		Payload: payload.Bytes(),
	})
}

// LoadReport lists the parameter keys a non-strict state load could not
// reconcile.
type LoadReport struct {
	// MissingKeys are model parameters absent from the loaded state.
	MissingKeys []string

	// UnexpectedKeys are loaded entries the model has no parameter for.
	UnexpectedKeys []string
}

// Empty reports whether the load reconciled every key.
func (r *LoadReport) Empty() bool {
	return len(r.MissingKeys) == 0 && len(r.UnexpectedKeys) == 0
}

// LoadModelState restores parameter state persisted with SaveModelState,
// adding the replica key prefix back when the facade currently wraps a
// replication layer. A strict load fails on any missing or unexpected key;
// a non-strict load applies the intersection and reports the rest. The
// model ends up on the facade's current device.
func (s *System) LoadModelState(r io.Reader, strict bool) (*LoadReport, error) {
	if s.codec == nil {
		return nil, fmt.Errorf("system has no codec configured")
	}

	env, err := checkpoints.Read(r, checkpoints.KindState)
	if err != nil {
		return nil, err
	}

	loaded, err := s.codec.DecodeState(bytes.NewReader(env.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode model state: %v", err)
	}

	if _, ok := s.model.(tensor.ReplicatedModule); ok {
		prefixed := make(map[string]tensor.Value, len(loaded))
		for key, value := range loaded {
			prefixed[tensor.ReplicaPrefix+key] = value
		}
		loaded = prefixed
	}

	current := s.model.StateDict()
	report := &LoadReport{}
	for key := range current {
		if _, ok := loaded[key]; !ok {
			report.MissingKeys = append(report.MissingKeys, key)
		}
	}
	applicable := make(map[string]tensor.Value, len(loaded))
	for key, value := range loaded {
		if _, ok := current[key]; !ok {
			report.UnexpectedKeys = append(report.UnexpectedKeys, key)
			continue
		}
		applicable[key] = value
	}
	sort.Strings(report.MissingKeys)
	sort.Strings(report.UnexpectedKeys)

	if strict && !report.Empty() {
		return nil, fmt.Errorf("state mismatch: missing keys %v, unexpected keys %v",
			report.MissingKeys, report.UnexpectedKeys)
	}

	if err := s.model.LoadStateDict(applicable); err != nil {
		return nil, err
	}
	if err := s.model.To(s.device); err != nil {
		return nil, fmt.Errorf("failed to move model to %s: %v", s.device, err)
	}

	return report, nil
}

// pauseGrad disables gradient tracking when the model supports it and
// returns a function restoring the prior setting.
func (s *System) pauseGrad() func() {
	tracker, ok := s.model.(tensor.GradTracker)
	if !ok {
		return func() {}
	}
	prev := tracker.GradEnabled()
	tracker.SetGradEnabled(false)
	return func() { tracker.SetGradEnabled(prev) }
}

// extractIDs pulls example ids out of a batch field. Numeric tensors are
// materialized; raw id slices pass through element-wise.
func extractIDs(batch tensor.Batch, idKey string) ([]interface{}, error) {
	raw, ok := batch[idKey]
	if !ok {
		return nil, fmt.Errorf("batch has no id field %q", idKey)
	}

	switch v := raw.(type) {
	case tensor.Value:
		values, err := v.Float32s()
		if err != nil {
			return nil, err
		}
		ids := make([]interface{}, len(values))
		for i, f := range values {
			ids[i] = f
		}
		return ids, nil
	case []string:
		ids := make([]interface{}, len(v))
		for i, s := range v {
			ids[i] = s
		}
		return ids, nil
	case []int:
		ids := make([]interface{}, len(v))
		for i, n := range v {
			ids[i] = n
		}
		return ids, nil
	case []interface{}:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported id field type %T", raw)
	}
}

// outputRows splits a single-valued output into per-example rows along the
// leading dimension.
func outputRows(output tensor.Output) ([][]float32, error) {
	if output.IsNamed() {
		return nil, fmt.Errorf("cannot accumulate a named output; narrow it with ModelOutputKey")
	}
	if output.Value == nil {
		return nil, fmt.Errorf("output has no value")
	}

	values, err := output.Value.Float32s()
	if err != nil {
		return nil, err
	}

	shape := output.Value.Shape()
	if len(shape) == 0 || shape[0] == 0 {
		return [][]float32{values}, nil
	}

	batchSize := shape[0]
	if len(values)%batchSize != 0 {
		return nil, fmt.Errorf("output length %d not divisible by batch size %d", len(values), batchSize)
	}
	rowLen := len(values) / batchSize

	rows := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		rows[i] = values[i*rowLen : (i+1)*rowLen]
	}
	return rows, nil
}
