package engine

// Callback receives the shared training context at fixed points of the
// training loop. Callbacks registered on a run are invoked in registration
// order at every hook. An error from any hook aborts the run and propagates
// unmodified to the Train caller.
//
// Hook firing order across a run:
//
//	OnTrainingStart
//	per epoch:
//	    OnEpochStart
//	    per batch:
//	        OnBatchStart, PostPredict, PostLossCalculation,
//	        PostBackwardCalculation, [PreOptimizationStep], OnBatchEnd
//	    OnEpochEnd
//	    [OnEvaluationStart, OnEvaluationEnd]
//	OnTrainingEnd
//
// The transient context fields (CurrentBatch, CurrentOutput, CurrentLoss)
// are only set during the hooks documented on TrainingContext; hooks must
// not assume they remain set afterwards.
type Callback interface {
	OnTrainingStart(tc *TrainingContext) error
	OnTrainingEnd(tc *TrainingContext) error
	OnEpochStart(tc *TrainingContext) error
	OnEpochEnd(tc *TrainingContext) error
	OnBatchStart(tc *TrainingContext) error
	OnBatchEnd(tc *TrainingContext) error
	PostPredict(tc *TrainingContext) error
	PostLossCalculation(tc *TrainingContext) error
	PostBackwardCalculation(tc *TrainingContext) error
	PreOptimizationStep(tc *TrainingContext) error
	OnEvaluationStart(tc *TrainingContext) error
	OnEvaluationEnd(tc *TrainingContext) error
}

// BaseCallback provides no-op implementations of every hook. Embed it and
// override only the hooks a callback cares about.
type BaseCallback struct{}

func (BaseCallback) OnTrainingStart(*TrainingContext) error         { return nil }
func (BaseCallback) OnTrainingEnd(*TrainingContext) error           { return nil }
func (BaseCallback) OnEpochStart(*TrainingContext) error            { return nil }
func (BaseCallback) OnEpochEnd(*TrainingContext) error              { return nil }
func (BaseCallback) OnBatchStart(*TrainingContext) error            { return nil }
func (BaseCallback) OnBatchEnd(*TrainingContext) error              { return nil }
func (BaseCallback) PostPredict(*TrainingContext) error             { return nil }
func (BaseCallback) PostLossCalculation(*TrainingContext) error     { return nil }
func (BaseCallback) PostBackwardCalculation(*TrainingContext) error { return nil }
func (BaseCallback) PreOptimizationStep(*TrainingContext) error     { return nil }
func (BaseCallback) OnEvaluationStart(*TrainingContext) error       { return nil }
func (BaseCallback) OnEvaluationEnd(*TrainingContext) error         { return nil }

// Stopper marks a callback as a stopping criterion: a callback whose job is
// to set tc.StopTraining, idiomatically from OnEpochEnd. Every run must
// contain at least one Stopper; when none is supplied the engine appends
// NewEpochLimit(1). The engine detects the capability through this
// interface, never through reflection.
type Stopper interface {
	Callback

	// Stopper is a capability marker and performs no work.
	Stopper()
}

// EpochLimit is a stopping criterion that halts training after a fixed
// number of epochs.
type EpochLimit struct {
	BaseCallback
	limit int
}

// NewEpochLimit creates a stopping criterion that stops after limit epochs.
func NewEpochLimit(limit int) *EpochLimit {
	if limit < 1 {
		limit = 1
	}
	return &EpochLimit{limit: limit}
}

// OnEpochEnd flips the halt flag once the final epoch completes.
func (e *EpochLimit) OnEpochEnd(tc *TrainingContext) error {
	if tc.CurrentEpoch >= e.limit-1 {
		tc.StopTraining = true
	}
	return nil
}

// Stopper marks EpochLimit as a stopping criterion.
func (e *EpochLimit) Stopper() {}
