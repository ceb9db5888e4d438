package callbacks

import (
	"github.com/gantryml/gantry/engine"
	"github.com/gantryml/gantry/logger"
)

// HistoryLogger logs every evaluation result as it lands in the results
// history.
type HistoryLogger struct {
	engine.BaseCallback

	log logger.Logger
}

// NewHistoryLogger creates a history logger. A nil log falls back to the
// default logger.
func NewHistoryLogger(log logger.Logger) *HistoryLogger {
	if log == nil {
		log = logger.Default()
	}
	return &HistoryLogger{log: log}
}

// OnEvaluationEnd logs the entry appended by the evaluation that just
// finished.
func (h *HistoryLogger) OnEvaluationEnd(tc *engine.TrainingContext) error {
	if len(tc.ResultsHistory) == 0 {
		return nil
	}
	entry := tc.ResultsHistory[len(tc.ResultsHistory)-1]
	for dataset, results := range entry {
		for evaluator, result := range results {
			h.log.Info("history",
				"epoch", tc.CurrentEpoch,
				"dataset", dataset,
				"evaluator", evaluator,
				"value", result.Value())
		}
	}
	return nil
}
