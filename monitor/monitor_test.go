package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/native"
	"github.com/gantryml/gantry/tensor"
)

type stubLoss struct {
	value float32
}

func (s stubLoss) Backward() error { return nil }
func (s stubLoss) Item() float32   { return s.value }

func newTestContext(t *testing.T) *engine.TrainingContext {
	t.Helper()
	model, err := native.NewLinear(1, 1, 1)
	if err != nil {
		t.Fatalf("failed to create model: %v", err)
	}
	system, err := engine.NewSystem(model, engine.SystemConfig{})
	if err != nil {
		t.Fatalf("failed to create system: %v", err)
	}
	return &engine.TrainingContext{
		System:       system,
		RunID:        uuid.New(),
		CurrentEpoch: -1,
	}
}

func getJSON(t *testing.T, e *echo.Echo, path string, v interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %s response: %v", path, err)
	}
	return rec.Code
}

func TestMonitorStatusLifecycle(t *testing.T) {
	m := New()
	e := echo.New()
	m.Register(e)
	tc := newTestContext(t)

	var status Status
	if code := getJSON(t, e, "/status", &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if status.State != StateIdle {
		t.Errorf("expected idle before training, got %q", status.State)
	}

	if err := m.OnTrainingStart(tc); err != nil {
		t.Fatalf("OnTrainingStart failed: %v", err)
	}
	tc.CurrentEpoch = 0
	if err := m.OnEpochStart(tc); err != nil {
		t.Fatalf("OnEpochStart failed: %v", err)
	}
	if err := m.OnBatchStart(tc); err != nil {
		t.Fatalf("OnBatchStart failed: %v", err)
	}
	tc.CurrentLoss = stubLoss{value: 0.75}
	if err := m.OnBatchEnd(tc); err != nil {
		t.Fatalf("OnBatchEnd failed: %v", err)
	}
	tc.CurrentLoss = nil

	getJSON(t, e, "/status", &status)
	if status.State != StateTraining {
		t.Errorf("expected training state, got %q", status.State)
	}
	if status.RunID != tc.RunID.String() {
		t.Errorf("expected run id %q, got %q", tc.RunID.String(), status.RunID)
	}
	if status.Epoch != 0 || status.Batch != 0 {
		t.Errorf("expected epoch 0 batch 0, got %d/%d", status.Epoch, status.Batch)
	}
	if status.LastBatchLoss != 0.75 {
		t.Errorf("expected last batch loss 0.75, got %f", status.LastBatchLoss)
	}

	// A second batch folds into the epoch mean.
	if err := m.OnBatchStart(tc); err != nil {
		t.Fatalf("OnBatchStart failed: %v", err)
	}
	tc.CurrentLoss = stubLoss{value: 0.25}
	if err := m.OnBatchEnd(tc); err != nil {
		t.Fatalf("OnBatchEnd failed: %v", err)
	}
	tc.CurrentLoss = nil
	getJSON(t, e, "/status", &status)
	if status.LastBatchLoss != 0.25 {
		t.Errorf("expected last batch loss 0.25, got %f", status.LastBatchLoss)
	}
	if status.MeanEpochLoss != 0.5 {
		t.Errorf("expected mean epoch loss 0.5, got %f", status.MeanEpochLoss)
	}
	if status.Batch != 1 {
		t.Errorf("expected batch 1, got %d", status.Batch)
	}
	if _, err := time.Parse(time.RFC3339, status.StartedAt); err != nil {
		t.Errorf("started_at should be RFC3339, got %q", status.StartedAt)
	}

	if err := m.OnTrainingEnd(tc); err != nil {
		t.Fatalf("OnTrainingEnd failed: %v", err)
	}
	getJSON(t, e, "/status", &status)
	if status.State != StateFinished {
		t.Errorf("expected finished state, got %q", status.State)
	}
	if status.FinishedAt == "" {
		t.Error("expected a finish timestamp")
	}
}

func TestMonitorHistory(t *testing.T) {
	m := New()
	e := echo.New()
	m.Register(e)
	tc := newTestContext(t)

	var history []HistoryEntry
	if code := getJSON(t, e, "/history", &history); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %v", history)
	}

	tc.ResultsHistory = append(tc.ResultsHistory, engine.EpochResults{
		"validation": {"mae": native.Result{Name: "mae", Score: 0.5}},
	})
	if err := m.OnEvaluationEnd(tc); err != nil {
		t.Fatalf("OnEvaluationEnd failed: %v", err)
	}
	tc.ResultsHistory = append(tc.ResultsHistory, engine.EpochResults{
		"validation": {"mae": native.Result{Name: "mae", Score: 0.25}},
	})
	if err := m.OnEvaluationEnd(tc); err != nil {
		t.Fatalf("OnEvaluationEnd failed: %v", err)
	}

	getJSON(t, e, "/history", &history)
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0]["validation"]["mae"] != 0.5 {
		t.Errorf("unexpected first entry: %v", history[0])
	}
	if history[1]["validation"]["mae"] != 0.25 {
		t.Errorf("unexpected second entry: %v", history[1])
	}
}

func TestMonitorRestartResetsState(t *testing.T) {
	m := New()
	tc := newTestContext(t)

	tc.ResultsHistory = append(tc.ResultsHistory, engine.EpochResults{
		"validation": {"mae": native.Result{Name: "mae", Score: 0.5}},
	})
	if err := m.OnEvaluationEnd(tc); err != nil {
		t.Fatalf("OnEvaluationEnd failed: %v", err)
	}
	if err := m.OnTrainingEnd(tc); err != nil {
		t.Fatalf("OnTrainingEnd failed: %v", err)
	}

	fresh := newTestContext(t)
	if err := m.OnTrainingStart(fresh); err != nil {
		t.Fatalf("OnTrainingStart failed: %v", err)
	}

	status := m.Snapshot()
	if status.State != StateTraining {
		t.Errorf("expected training state after restart, got %q", status.State)
	}
	if status.RunID != fresh.RunID.String() {
		t.Errorf("expected the new run id, got %q", status.RunID)
	}
	if status.Epoch != -1 || status.Batch != -1 {
		t.Errorf("expected reset counters, got %d/%d", status.Epoch, status.Batch)
	}

	e := echo.New()
	m.Register(e)
	var history []HistoryEntry
	getJSON(t, e, "/history", &history)
	if len(history) != 0 {
		t.Errorf("expected history cleared on restart, got %v", history)
	}
}

var _ tensor.LossValue = stubLoss{}
