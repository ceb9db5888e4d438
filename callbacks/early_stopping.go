package callbacks

import (
	"bytes"
	"fmt"

	"github.com/gantryml/gantry/engine"
)

// EarlyStopping is a stopping criterion that halts training once a
// monitored evaluation metric has stopped improving. It can snapshot the
// model state at its best point and restore it when training ends.
type EarlyStopping struct {
	engine.BaseCallback

	// Monitor identifies the metric to watch.
	Monitor Monitored

	// Patience is how many non-improving epochs to tolerate before
	// stopping.
	Patience int

	// MinDelta is the smallest change counting as an improvement.
	MinDelta float32

	// RestoreBest reloads the best snapshot when training ends. Requires
	// the facade to have a codec configured.
	RestoreBest bool

	best     float32
	wait     int
	snapshot []byte
}

// NewEarlyStopping creates an early-stopping criterion.
func NewEarlyStopping(monitor Monitored, patience int) *EarlyStopping {
	return &EarlyStopping{Monitor: monitor, Patience: patience}
}

// OnTrainingStart resets the criterion's state for a fresh run.
func (e *EarlyStopping) OnTrainingStart(tc *engine.TrainingContext) error {
	if e.Monitor.Mode != MinMode && e.Monitor.Mode != MaxMode {
		return fmt.Errorf("early stopping requires mode %q or %q, got %q", MinMode, MaxMode, e.Monitor.Mode)
	}
	e.best = e.Monitor.worst()
	e.wait = 0
	e.snapshot = nil
	return nil
}

// OnEvaluationEnd compares the freshly appended results against the best
// seen so far and flips the halt flag once patience runs out.
func (e *EarlyStopping) OnEvaluationEnd(tc *engine.TrainingContext) error {
	current, err := e.Monitor.lastValue(tc)
	if err != nil {
		return err
	}

	if e.Monitor.improved(current, e.best, e.MinDelta) {
		e.best = current
		e.wait = 0
		if e.RestoreBest {
			var buf bytes.Buffer
			if err := tc.System.SaveModelState(&buf); err != nil {
				return err
			}
			e.snapshot = buf.Bytes()
		}
		return nil
	}

	e.wait++
	if e.wait >= e.Patience {
		tc.StopTraining = true
	}
	return nil
}

// OnTrainingEnd restores the best snapshot when configured.
func (e *EarlyStopping) OnTrainingEnd(tc *engine.TrainingContext) error {
	if !e.RestoreBest || e.snapshot == nil {
		return nil
	}
	_, err := tc.System.LoadModelState(bytes.NewReader(e.snapshot), true)
	return err
}

// Stopper marks EarlyStopping as a stopping criterion.
func (e *EarlyStopping) Stopper() {}

var _ engine.Stopper = (*EarlyStopping)(nil)
