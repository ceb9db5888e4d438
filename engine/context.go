package engine

import (
	"github.com/google/uuid"

	"github.com/gantryml/gantry/tensor"
)

// EpochResults holds one epoch's evaluation outcome: dataset name to
// evaluator name to result.
type EpochResults map[string]map[string]tensor.EvaluatorResult

// TrainingContext is the single shared mutable record passed to every
// callback hook. Exactly one training run owns and mutates a given context;
// callbacks may read and write any field but must not replace the context
// itself or retain the transient fields past the hook that published them.
type TrainingContext struct {
	// System is the model facade being trained.
	System *System

	// LossWrapper computes the loss for each batch.
	LossWrapper LossWrapper

	// Optimizer applies parameter updates. Referenced, not owned.
	Optimizer tensor.Optimizer

	// RunID identifies this training run.
	RunID uuid.UUID

	// StopTraining halts the run once true. It is checked between epochs
	// only and must never be reset within a run.
	StopTraining bool

	// CurrentEpoch is the zero-based epoch index. It starts at -1 and is
	// incremented exactly once per epoch, before any hook of that epoch.
	CurrentEpoch int

	// CurrentBatch is set before the batch-scoped hooks and cleared right
	// after the forward pass so large batches are not retained across hook
	// boundaries.
	CurrentBatch tensor.Batch

	// CurrentOutput is set after the forward pass and cleared once the
	// loss has been computed.
	CurrentOutput *tensor.Output

	// CurrentLoss is set after the loss computation and cleared at the end
	// of the batch step, after OnBatchEnd fires.
	CurrentLoss tensor.LossValue

	// ResultsHistory accumulates one EpochResults entry per epoch that ran
	// evaluation. Append-only; never reordered or truncated.
	ResultsHistory []EpochResults
}
