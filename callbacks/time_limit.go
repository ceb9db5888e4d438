package callbacks

import (
	"time"

	"github.com/gantryml/gantry/engine"
)

// TimeLimit is a stopping criterion that halts training once a wall-clock
// budget is spent. The engine checks the halt flag between epochs only, so
// an epoch in progress always runs to completion.
type TimeLimit struct {
	engine.BaseCallback

	// Budget is the wall-clock allowance for the whole run.
	Budget time.Duration

	// now is swappable for tests.
	now   func() time.Time
	start time.Time
}

// NewTimeLimit creates a wall-clock stopping criterion.
func NewTimeLimit(budget time.Duration) *TimeLimit {
	return &TimeLimit{Budget: budget, now: time.Now}
}

// OnTrainingStart records the start of the run.
func (t *TimeLimit) OnTrainingStart(tc *engine.TrainingContext) error {
	t.start = t.now()
	return nil
}

// OnEpochEnd flips the halt flag once the budget is exhausted.
func (t *TimeLimit) OnEpochEnd(tc *engine.TrainingContext) error {
	if t.now().Sub(t.start) >= t.Budget {
		tc.StopTraining = true
	}
	return nil
}

// Stopper marks TimeLimit as a stopping criterion.
func (t *TimeLimit) Stopper() {}

var _ engine.Stopper = (*TimeLimit)(nil)
