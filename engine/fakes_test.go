package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gantryml/gantry/tensor"
)

// fakeValue is a minimal tensor.Value for exercising the orchestration layer
// without a real runtime.
type fakeValue struct {
	data     []float32
	shape    []int
	device   tensor.Device
	detached bool
}

func newFakeValue(data []float32, shape ...int) *fakeValue {
	return &fakeValue{data: data, shape: shape}
}

func (v *fakeValue) Shape() []int          { return v.shape }
func (v *fakeValue) Device() tensor.Device { return v.device }

func (v *fakeValue) To(device tensor.Device) (tensor.Value, error) {
	moved := *v
	moved.device = device
	return &moved, nil
}

func (v *fakeValue) Detach() tensor.Value {
	detached := *v
	detached.detached = true
	return &detached
}

func (v *fakeValue) Float32s() ([]float32, error) { return v.data, nil }

// fakeModule records every interaction the facade and the training driver
// have with the model.
type fakeModule struct {
	forwardCalls  int
	trainingModes []bool
	device        tensor.Device
	gradEnabled   bool
	state         map[string]tensor.Value

	forwardErr error
	toErr      error
}

func newFakeModule() *fakeModule {
	return &fakeModule{
		gradEnabled: true,
		state: map[string]tensor.Value{
			"weight": newFakeValue([]float32{1, 2}, 2),
			"bias":   newFakeValue([]float32{0}, 1),
		},
	}
}

func (m *fakeModule) Forward(inputs ...tensor.Value) (tensor.Output, error) {
	m.forwardCalls++
	if m.forwardErr != nil {
		return tensor.Output{}, m.forwardErr
	}
	if len(inputs) == 0 {
		return tensor.Output{}, fmt.Errorf("no inputs")
	}
	return tensor.Single(inputs[0]), nil
}

func (m *fakeModule) SetTraining(training bool) {
	m.trainingModes = append(m.trainingModes, training)
}

func (m *fakeModule) Training() bool {
	if len(m.trainingModes) == 0 {
		return false
	}
	return m.trainingModes[len(m.trainingModes)-1]
}

func (m *fakeModule) To(device tensor.Device) error {
	if m.toErr != nil {
		return m.toErr
	}
	m.device = device
	return nil
}

func (m *fakeModule) StateDict() map[string]tensor.Value {
	out := make(map[string]tensor.Value, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

func (m *fakeModule) LoadStateDict(state map[string]tensor.Value) error {
	for k, v := range state {
		if _, ok := m.state[k]; !ok {
			return fmt.Errorf("unknown parameter %q", k)
		}
		m.state[k] = v
	}
	return nil
}

func (m *fakeModule) SetGradEnabled(enabled bool) { m.gradEnabled = enabled }
func (m *fakeModule) GradEnabled() bool           { return m.gradEnabled }

// fakeReplicated mirrors a fakeModule under the replica key prefix.
type fakeReplicated struct {
	*fakeModule
}

func (r *fakeReplicated) StateDict() map[string]tensor.Value {
	out := make(map[string]tensor.Value, len(r.state))
	for k, v := range r.fakeModule.StateDict() {
		out[tensor.ReplicaPrefix+k] = v
	}
	return out
}

func (r *fakeReplicated) LoadStateDict(state map[string]tensor.Value) error {
	stripped := make(map[string]tensor.Value, len(state))
	for k, v := range state {
		if !strings.HasPrefix(k, tensor.ReplicaPrefix) {
			return fmt.Errorf("parameter %q lacks replica prefix", k)
		}
		stripped[strings.TrimPrefix(k, tensor.ReplicaPrefix)] = v
	}
	return r.fakeModule.LoadStateDict(stripped)
}

func (r *fakeReplicated) Unwrap() tensor.Module { return r.fakeModule }

// fakeOptimizer counts steps and gradient clears.
type fakeOptimizer struct {
	steps     int
	zeroGrads int
	lr        float32

	stepErr error
}

func (o *fakeOptimizer) Step() error {
	if o.stepErr != nil {
		return o.stepErr
	}
	o.steps++
	return nil
}

func (o *fakeOptimizer) ZeroGrad() error {
	o.zeroGrads++
	return nil
}

func (o *fakeOptimizer) SetLearningRate(lr float32) { o.lr = lr }
func (o *fakeOptimizer) LearningRate() float32      { return o.lr }

// fakeLossValue is a constant scalar loss counting backward passes.
type fakeLossValue struct {
	item      float32
	backwards *int
}

func (v *fakeLossValue) Backward() error {
	*v.backwards += 1
	return nil
}

func (v *fakeLossValue) Item() float32 { return v.item }

// fakeLoss returns a fixed loss per call and records call counts.
type fakeLoss struct {
	calls     int
	backwards int
	item      float32

	err error
}

func (l *fakeLoss) ComputeLoss(output tensor.Output, batch tensor.Batch, tc *TrainingContext, lastActivation tensor.Activation) (tensor.LossValue, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &fakeLossValue{item: l.item, backwards: &l.backwards}, nil
}

// fakeResult is a plain scalar evaluation result.
type fakeResult struct {
	score float32
}

func (r fakeResult) Value() float32 { return r.score }
func (r fakeResult) String() string { return fmt.Sprintf("%.4f", r.score) }

// fakeEvaluator counts its protocol calls and reports a fixed score.
type fakeEvaluator struct {
	resets     int
	steps      int
	calculates int
	score      float32
}

func (e *fakeEvaluator) Reset() { e.resets++ }

func (e *fakeEvaluator) Step(output tensor.Output, batch tensor.Batch, lastActivation tensor.Activation) error {
	e.steps++
	return nil
}

func (e *fakeEvaluator) Calculate() (tensor.EvaluatorResult, error) {
	e.calculates++
	return fakeResult{score: e.score}, nil
}

// fakeCodec serializes fake modules and state maps as JSON.
type fakeCodec struct{}

type fakeStateEntry struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (fakeCodec) EncodeModule(w io.Writer, m tensor.Module) error {
	if rep, ok := m.(tensor.ReplicatedModule); ok {
		m = rep.Unwrap()
	}
	return fakeCodec{}.EncodeState(w, m.StateDict())
}

func (fakeCodec) DecodeModule(r io.Reader) (tensor.Module, error) {
	state, err := fakeCodec{}.DecodeState(r)
	if err != nil {
		return nil, err
	}
	m := newFakeModule()
	m.state = state
	return m, nil
}

func (fakeCodec) EncodeState(w io.Writer, state map[string]tensor.Value) error {
	entries := make(map[string]fakeStateEntry, len(state))
	for name, value := range state {
		data, err := value.Float32s()
		if err != nil {
			return err
		}
		entries[name] = fakeStateEntry{Shape: value.Shape(), Data: data}
	}
	return json.NewEncoder(w).Encode(entries)
}

func (fakeCodec) DecodeState(r io.Reader) (map[string]tensor.Value, error) {
	var entries map[string]fakeStateEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}
	state := make(map[string]tensor.Value, len(entries))
	for name, entry := range entries {
		state[name] = newFakeValue(entry.Data, entry.Shape...)
	}
	return state, nil
}

// hookRecorder records the name of every hook invocation in order.
type hookRecorder struct {
	hooks []string
}

func (h *hookRecorder) record(name string) error {
	h.hooks = append(h.hooks, name)
	return nil
}

func (h *hookRecorder) count(name string) int {
	n := 0
	for _, hook := range h.hooks {
		if hook == name {
			n++
		}
	}
	return n
}

func (h *hookRecorder) OnTrainingStart(*TrainingContext) error { return h.record("OnTrainingStart") }
func (h *hookRecorder) OnTrainingEnd(*TrainingContext) error   { return h.record("OnTrainingEnd") }
func (h *hookRecorder) OnEpochStart(*TrainingContext) error    { return h.record("OnEpochStart") }
func (h *hookRecorder) OnEpochEnd(*TrainingContext) error      { return h.record("OnEpochEnd") }
func (h *hookRecorder) OnBatchStart(*TrainingContext) error    { return h.record("OnBatchStart") }
func (h *hookRecorder) OnBatchEnd(*TrainingContext) error      { return h.record("OnBatchEnd") }
func (h *hookRecorder) PostPredict(*TrainingContext) error     { return h.record("PostPredict") }
func (h *hookRecorder) PostLossCalculation(*TrainingContext) error {
	return h.record("PostLossCalculation")
}
func (h *hookRecorder) PostBackwardCalculation(*TrainingContext) error {
	return h.record("PostBackwardCalculation")
}
func (h *hookRecorder) PreOptimizationStep(*TrainingContext) error {
	return h.record("PreOptimizationStep")
}
func (h *hookRecorder) OnEvaluationStart(*TrainingContext) error { return h.record("OnEvaluationStart") }
func (h *hookRecorder) OnEvaluationEnd(*TrainingContext) error   { return h.record("OnEvaluationEnd") }
