package callbacks

import (
	"fmt"
	"os"

	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/logger"
)

// Checkpointer persists the model's parameter state during training. With a
// Monitor configured it saves whenever the monitored metric improves; with
// none it saves every Interval epochs. Writes go to Path atomically via a
// temp-file rename.
type Checkpointer struct {
	engine.BaseCallback

	// Path is where the checkpoint envelope is written.
	Path string

	// Monitor, when non-nil, restricts saves to improvements of the
	// monitored metric.
	Monitor *Monitored

	// MinDelta is the smallest change counting as an improvement.
	MinDelta float32

	// Interval is how many epochs pass between unmonitored saves.
	// Defaults to 1 (every epoch). Ignored when Monitor is set.
	Interval int

	log  logger.Logger
	best float32
}

// NewCheckpointer creates a checkpointing callback writing to path.
func NewCheckpointer(path string, monitor *Monitored, log logger.Logger) *Checkpointer {
	if log == nil {
		log = logger.Default()
	}
	return &Checkpointer{Path: path, Monitor: monitor, log: log}
}

// OnTrainingStart resets the best metric for a fresh run.
func (c *Checkpointer) OnTrainingStart(tc *engine.TrainingContext) error {
	if c.Path == "" {
		return fmt.Errorf("checkpointer requires a path")
	}
	if c.Interval < 0 {
		return fmt.Errorf("checkpointer interval must be positive, got %d", c.Interval)
	}
	if c.Interval == 0 {
		c.Interval = 1
	}
	if c.Monitor != nil {
		if c.Monitor.Mode != MinMode && c.Monitor.Mode != MaxMode {
			return fmt.Errorf("checkpointer requires mode %q or %q, got %q", MinMode, MaxMode, c.Monitor.Mode)
		}
		c.best = c.Monitor.worst()
	}
	return nil
}

// OnEpochEnd saves on the configured epoch interval when no metric is
// monitored.
func (c *Checkpointer) OnEpochEnd(tc *engine.TrainingContext) error {
	if c.Monitor != nil {
		return nil
	}
	if (tc.CurrentEpoch+1)%c.Interval != 0 {
		return nil
	}
	return c.save(tc)
}

// OnEvaluationEnd saves when the monitored metric improved.
func (c *Checkpointer) OnEvaluationEnd(tc *engine.TrainingContext) error {
	if c.Monitor == nil {
		return nil
	}
	current, err := c.Monitor.lastValue(tc)
	if err != nil {
		return err
	}
	if !c.Monitor.improved(current, c.best, c.MinDelta) {
		return nil
	}
	c.best = current
	if err := c.save(tc); err != nil {
		return err
	}
	c.log.Info("checkpoint saved",
		"epoch", tc.CurrentEpoch,
		"path", c.Path,
		"value", current)
	return nil
}

func (c *Checkpointer) save(tc *engine.TrainingContext) error {
	tmp := c.Path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}

	if err := tc.System.SaveModelState(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close checkpoint file: %v", err)
	}
	return os.Rename(tmp, c.Path)
}
