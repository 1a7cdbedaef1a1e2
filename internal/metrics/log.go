package metrics

import (
	"time"

	"go.uber.org/zap"
)

// LogSink writes every event to a zap logger at debug level.
type LogSink struct {
	logger *zap.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a sink backed by logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) StartTimer(op string, md map[string]any) *Timer {
	return begin(op, md)
}

func (l *LogSink) EndTimer(t *Timer, extra map[string]any) Timing {
	tm := finish(t, extra)
	l.logger.Debug("timer",
		zap.String("operation", tm.Operation),
		zap.Duration("duration", tm.Duration),
		zap.Any("metadata", tm.Metadata))
	return tm
}

func (l *LogSink) RecordTaskOutcome(status string, d time.Duration) {
	l.logger.Debug("task outcome",
		zap.String("status", status),
		zap.Duration("duration", d))
}

func (l *LogSink) RecordWorkerOutcome(id, name string, success bool, d time.Duration) {
	l.logger.Debug("worker outcome",
		zap.String("worker", id),
		zap.String("name", name),
		zap.Bool("success", success),
		zap.Duration("duration", d))
}

func (l *LogSink) SetQueueDepth(n int) {
	l.logger.Debug("queue depth", zap.Int("depth", n))
}
