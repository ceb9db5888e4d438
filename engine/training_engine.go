package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gantryml/gantry/data"
	"github.com/gantryml/gantry/logger"
	"github.com/gantryml/gantry/tensor"
)

// TrainConfig configures one training run.
type TrainConfig struct {
	// LossWrapper computes the loss for each batch. Required.
	LossWrapper LossWrapper

	// Optimizer applies parameter updates. Required.
	Optimizer tensor.Optimizer

	// TrainLoader produces the training batches. Required. Each batch must
	// contain the model input under BatchInputKey plus whatever the loss
	// wrapper needs.
	TrainLoader data.DataLoader

	// EvaluationLoaders maps dataset names to evaluation data sources.
	// When either EvaluationLoaders or Evaluators is nil the evaluation
	// phase is skipped entirely and no history entries accumulate.
	EvaluationLoaders map[string]data.DataLoader

	// Evaluators maps evaluator names to evaluators, run against every
	// evaluation dataset each epoch.
	Evaluators map[string]tensor.Evaluator

	// BatchInputKey is the batch field holding the model input.
	// Defaults to "input".
	BatchInputKey string

	// Callbacks observe and steer the run; they fire in the given order at
	// every hook. When none of them is a Stopper the engine appends
	// NewEpochLimit(1).
	Callbacks []Callback

	// GradientAccumulationSteps is the number of backward passes per
	// optimization step, simulating a larger batch size. Defaults to 1.
	GradientAccumulationSteps int

	// Logger receives progress output. Defaults to logger.Default().
	Logger logger.Logger
}

// Train trains the model over the configured data until a stopping
// criterion flips the context's halt flag. It returns the accumulated
// results history: one entry per epoch that ran evaluation. Any error from
// a collaborator or callback aborts the run and propagates unmodified.
func (s *System) Train(cfg TrainConfig) ([]EpochResults, error) {
	t, err := newTrainer(s, cfg)
	if err != nil {
		return nil, err
	}
	return t.run()
}

// ReplicationConfig configures multi-device training delegation.
type ReplicationConfig struct {
	// Wrap replicates a module across devices. Supplied by the runtime.
	Wrap func(tensor.Module) (tensor.ReplicatedModule, error)

	// OutputDevice is where the replicated model gathers its outputs and
	// where the facade resides for the duration of training.
	OutputDevice tensor.Device
}

// TrainReplicated trains the model wrapped in the runtime's multi-device
// replication layer. The facade's prior model and device placement are
// restored on every exit path, including failures mid-run.
func (s *System) TrainReplicated(cfg TrainConfig, rep ReplicationConfig) (results []EpochResults, err error) {
	if rep.Wrap == nil {
		return nil, fmt.Errorf("replication config requires a Wrap function")
	}

	wrapped, err := rep.Wrap(s.model)
	if err != nil {
		return nil, fmt.Errorf("failed to replicate model: %v", err)
	}

	prevModel := s.model
	prevDevice := s.device
	s.model = wrapped
	defer func() {
		s.model = prevModel
		if _, restoreErr := s.To(prevDevice); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	if _, err = s.To(rep.OutputDevice); err != nil {
		return nil, err
	}

	return s.Train(cfg)
}

// trainer drives one training run. It owns the context and the callback
// list; a trainer is single-use and never shared.
type trainer struct {
	tc                *TrainingContext
	trainLoader       data.DataLoader
	evalLoaders       map[string]data.DataLoader
	evaluators        map[string]tensor.Evaluator
	batchInputKey     string
	callbacks         []Callback
	accumulationSteps int
	log               logger.Logger
}

func newTrainer(s *System, cfg TrainConfig) (*trainer, error) {
	if cfg.LossWrapper == nil {
		return nil, fmt.Errorf("train config requires a loss wrapper")
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("train config requires an optimizer")
	}
	if cfg.TrainLoader == nil {
		return nil, fmt.Errorf("train config requires a training data loader")
	}
	if cfg.GradientAccumulationSteps < 0 {
		return nil, fmt.Errorf("gradient accumulation steps must be positive, got %d", cfg.GradientAccumulationSteps)
	}

	accumulation := cfg.GradientAccumulationSteps
	if accumulation == 0 {
		accumulation = 1
	}
	inputKey := cfg.BatchInputKey
	if inputKey == "" {
		inputKey = "input"
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	// The callback slice is copied so appending the default stopping
	// criterion never mutates the caller's slice.
	callbacks := make([]Callback, len(cfg.Callbacks))
	copy(callbacks, cfg.Callbacks)

	hasStopper := false
	for _, cb := range callbacks {
		if _, ok := cb.(Stopper); ok {
			hasStopper = true
			break
		}
	}
	if !hasStopper {
		callbacks = append(callbacks, NewEpochLimit(1))
	}

	runID := uuid.New()

	return &trainer{
		tc: &TrainingContext{
			System:       s,
			LossWrapper:  cfg.LossWrapper,
			Optimizer:    cfg.Optimizer,
			RunID:        runID,
			CurrentEpoch: -1,
		},
		trainLoader:       cfg.TrainLoader,
		evalLoaders:       cfg.EvaluationLoaders,
		evaluators:        cfg.Evaluators,
		batchInputKey:     inputKey,
		callbacks:         callbacks,
		accumulationSteps: accumulation,
		log:               log.With("run_id", runID.String()),
	}, nil
}

// run executes the Idle -> Running -> Stopped lifecycle. The halt flag is
// checked between epochs only; a stopping criterion cannot abort a batch
// already in progress.
func (t *trainer) run() ([]EpochResults, error) {
	if err := t.fire(Callback.OnTrainingStart); err != nil {
		return nil, err
	}

	for !t.tc.StopTraining {
		if err := t.trainEpoch(); err != nil {
			return nil, err
		}
		if err := t.evaluateEpoch(); err != nil {
			return nil, err
		}
	}

	if err := t.fire(Callback.OnTrainingEnd); err != nil {
		return nil, err
	}

	t.tc.System.Model().SetTraining(false)

	return t.tc.ResultsHistory, nil
}

// trainEpoch runs one full pass over the training data.
func (t *trainer) trainEpoch() error {
	t.tc.CurrentEpoch++
	t.tc.System.Model().SetTraining(true)

	if err := t.fire(Callback.OnEpochStart); err != nil {
		return err
	}

	start := time.Now()

	if err := t.tc.Optimizer.ZeroGrad(); err != nil {
		return err
	}
	if err := t.trainLoader.Reset(); err != nil {
		return fmt.Errorf("failed to reset training loader: %v", err)
	}

	n := t.trainLoader.Len()
	if n == 0 {
		return fmt.Errorf("training loader produced no batches")
	}

	var cumLoss float32
	for i := 0; i < n; i++ {
		batch, err := t.trainLoader.Next()
		if err != nil {
			return err
		}

		// An optimization boundary falls on every accumulation-step
		// multiple and always on the last batch, so a trailing partial
		// accumulation window never drops its gradients.
		boundary := i%t.accumulationSteps == 0 || i == n-1

		batchLoss, err := t.trainBatch(batch, boundary)
		if err != nil {
			return err
		}
		cumLoss += batchLoss

		t.log.Debug("batch complete",
			"epoch", t.tc.CurrentEpoch,
			"batch", i,
			"mean_loss", cumLoss/float32(i+1))
	}

	if err := t.fire(Callback.OnEpochEnd); err != nil {
		return err
	}

	t.log.Info("epoch complete",
		"epoch", t.tc.CurrentEpoch,
		"mean_loss", cumLoss/float32(n),
		"elapsed", time.Since(start))

	return nil
}

// trainBatch executes one forward/backward unit of work and returns the
// scalar loss. The context's transient fields are published and cleared in
// the fixed order the callback protocol documents.
func (t *trainer) trainBatch(batch tensor.Batch, boundary bool) (float32, error) {
	t.tc.CurrentBatch = batch
	if err := t.fire(Callback.OnBatchStart); err != nil {
		return 0, err
	}

	input, ok := batch[t.batchInputKey]
	if !ok {
		return 0, fmt.Errorf("training batch has no field %q", t.batchInputKey)
	}
	output, err := t.tc.System.PredictBatch(input)
	if err != nil {
		return 0, err
	}
	t.tc.CurrentOutput = &output
	t.tc.CurrentBatch = nil
	if err := t.fire(Callback.PostPredict); err != nil {
		return 0, err
	}

	loss, err := t.tc.LossWrapper.ComputeLoss(*t.tc.CurrentOutput, batch, t.tc, t.tc.System.LastActivation())
	if err != nil {
		return 0, err
	}
	t.tc.CurrentLoss = loss
	t.tc.CurrentOutput = nil
	if err := t.fire(Callback.PostLossCalculation); err != nil {
		return 0, err
	}

	if err := t.tc.CurrentLoss.Backward(); err != nil {
		return 0, err
	}
	if err := t.fire(Callback.PostBackwardCalculation); err != nil {
		return 0, err
	}

	if boundary {
		if err := t.fire(Callback.PreOptimizationStep); err != nil {
			return 0, err
		}
		if err := t.tc.Optimizer.Step(); err != nil {
			return 0, err
		}
		if err := t.tc.Optimizer.ZeroGrad(); err != nil {
			return 0, err
		}
	}

	batchLoss := t.tc.CurrentLoss.Item()
	if err := t.fire(Callback.OnBatchEnd); err != nil {
		return 0, err
	}
	t.tc.CurrentLoss = nil

	return batchLoss, nil
}

// evaluateEpoch runs the evaluation phase after an epoch. It is skipped
// entirely, with no history entry, unless both evaluation loaders and
// evaluators were supplied.
func (t *trainer) evaluateEpoch() error {
	if t.evalLoaders == nil || t.evaluators == nil {
		return nil
	}

	if err := t.fire(Callback.OnEvaluationStart); err != nil {
		return err
	}

	// Datasets are visited in name order so runs are deterministic.
	names := make([]string, 0, len(t.evalLoaders))
	for name := range t.evalLoaders {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(EpochResults, len(names))
	for _, name := range names {
		datasetResults, err := t.tc.System.Evaluate(t.evalLoaders[name], t.evaluators, t.batchInputKey)
		if err != nil {
			return err
		}
		results[name] = datasetResults

		for evaluatorName, result := range datasetResults {
			t.log.Info("evaluation result",
				"epoch", t.tc.CurrentEpoch,
				"dataset", name,
				"evaluator", evaluatorName,
				"result", result.String())
		}
	}

	t.tc.ResultsHistory = append(t.tc.ResultsHistory, results)

	return t.fire(Callback.OnEvaluationEnd)
}

// fire invokes one hook on every callback in registration order.
func (t *trainer) fire(hook func(Callback, *TrainingContext) error) error {
	for _, cb := range t.callbacks {
		if err := hook(cb, t.tc); err != nil {
			return err
		}
	}
	return nil
}
