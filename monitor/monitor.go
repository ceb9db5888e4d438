// Package monitor exposes live training progress over HTTP. It is a
// training callback that keeps a snapshot of the run's state and serves it
// as JSON, so an external dashboard or a curl in another terminal can watch
// a long run without touching the training process.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/gantryml/gantry/engine"
)

// State describes where a run currently is in its lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateTraining State = "training"
	StateFinished State = "finished"
)

// Status is the JSON document served by GET /status.
type Status struct {
	RunID         string  `json:"run_id"`
	State         State   `json:"state"`
	Epoch         int     `json:"epoch"`
	Batch         int     `json:"batch"`
	LastBatchLoss float32 `json:"last_batch_loss"`
	MeanEpochLoss float32 `json:"mean_epoch_loss"`
	StartedAt     string  `json:"started_at,omitempty"`
	FinishedAt    string  `json:"finished_at,omitempty"`
}

// HistoryEntry is one evaluation pass flattened to plain numbers for the
// wire. Keys are dataset names, values map evaluator name to score.
type HistoryEntry map[string]map[string]float32

// Monitor is a callback publishing training progress over HTTP. All hook
// methods only update an internal snapshot under a mutex; the HTTP side is
// read-only, so a slow or absent client never stalls training.
type Monitor struct {
	engine.BaseCallback

	mu      sync.Mutex
	status  Status
	history []HistoryEntry

	// running mean of the current epoch's batch losses
	lossSum    float32
	batchCount int

	// now is swappable for tests.
	now func() time.Time
}

// New creates an idle monitor. Register it both as a training callback and
// on an echo instance via Register.
func New() *Monitor {
	return &Monitor{
		status: Status{State: StateIdle, Epoch: -1, Batch: -1},
		now:    time.Now,
	}
}

// Register mounts the monitor's routes on e.
func (m *Monitor) Register(e *echo.Echo) {
	e.GET("/status", m.handleStatus)
	e.GET("/history", m.handleHistory)
}

// Serve runs a standalone HTTP server for the monitor on addr until ctx is
// cancelled. Most callers run it in its own goroutine next to Train.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	e := echo.New()
	m.Register(e)
	sc := echo.StartConfig{Address: addr}
	return sc.Start(ctx, e)
}

// OnTrainingStart resets the snapshot for a fresh run.
func (m *Monitor) OnTrainingStart(tc *engine.TrainingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = Status{
		RunID:     tc.RunID.String(),
		State:     StateTraining,
		Epoch:     -1,
		Batch:     -1,
		StartedAt: m.now().UTC().Format(time.RFC3339),
	}
	m.history = nil
	return nil
}

// OnEpochStart advances the snapshot to the new epoch.
func (m *Monitor) OnEpochStart(tc *engine.TrainingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Epoch = tc.CurrentEpoch
	m.status.Batch = -1
	m.status.MeanEpochLoss = 0
	m.lossSum = 0
	m.batchCount = 0
	return nil
}

// OnBatchStart advances the batch counter.
func (m *Monitor) OnBatchStart(tc *engine.TrainingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Batch++
	return nil
}

// OnBatchEnd records the loss of the batch that just finished. The loss is
// still published on the context at this hook.
func (m *Monitor) OnBatchEnd(tc *engine.TrainingContext) error {
	if tc.CurrentLoss == nil {
		return nil
	}
	item := tc.CurrentLoss.Item()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastBatchLoss = item
	m.lossSum += item
	m.batchCount++
	m.status.MeanEpochLoss = m.lossSum / float32(m.batchCount)
	return nil
}

// OnEvaluationEnd flattens the entry the evaluation just appended.
func (m *Monitor) OnEvaluationEnd(tc *engine.TrainingContext) error {
	if len(tc.ResultsHistory) == 0 {
		return nil
	}
	last := tc.ResultsHistory[len(tc.ResultsHistory)-1]
	entry := make(HistoryEntry, len(last))
	for dataset, results := range last {
		scores := make(map[string]float32, len(results))
		for name, result := range results {
			scores[name] = result.Value()
		}
		entry[dataset] = scores
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

// OnTrainingEnd marks the run as finished.
func (m *Monitor) OnTrainingEnd(tc *engine.TrainingContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = StateFinished
	m.status.FinishedAt = m.now().UTC().Format(time.RFC3339)
	return nil
}

// Snapshot returns a copy of the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, m.Snapshot())
}

func (m *Monitor) handleHistory(c *echo.Context) error {
	m.mu.Lock()
	history := make([]HistoryEntry, len(m.history))
	copy(history, m.history)
	m.mu.Unlock()
	if history == nil {
		history = []HistoryEntry{}
	}
	return c.JSON(http.StatusOK, history)
}
