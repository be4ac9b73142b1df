package observability

import (
	"go.uber.org/zap"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// LogObs keeps the logging half of ports.Observability and discards
// metrics. Components fall back to it when no backend is injected.
type LogObs struct {
	logger *zap.Logger
}

func NewLogObs(logger *zap.Logger) *LogObs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObs{logger: logger}
}

func (l *LogObs) LogInfo(msg string, fields ...ports.Field) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *LogObs) LogError(msg string, err error, fields ...ports.Field) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *LogObs) LogCritical(msg string, err error, fields ...ports.Field) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (l *LogObs) IncCounter(string, float64)         {}
func (l *LogObs) ObserveLatency(string, float64)     {}
func (l *LogObs) SetGauge(string, float64)           {}
func (l *LogObs) RecordHandlerFailure(string, error) {}

var _ ports.Observability = (*LogObs)(nil)
