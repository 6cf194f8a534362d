// Package observability centralizes the pipeline's structured logging
// (zap), metrics (Prometheus), and tracing (OpenTelemetry). Every
// component that would otherwise call log.Printf instead takes a
// *zap.Logger field, so a run's logs are leveled and queryable instead of
// free text -- this system runs unattended as a CI callback, so its logs
// are the operator's only window into what happened.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger for the given channel/format. format
// is "json" (the default, for production log aggregation) or "console"
// (human-readable, for local runs).
func NewLogger(level, format, appChannel string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.InitialFields = map[string]interface{}{
		"app_channel": appChannel,
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// RunFields returns the structured fields every log line within a run
// should carry, so a log aggregator can filter to one run's events.
func RunFields(runID, taskGroupID, reviewTaskID string) []zap.Field {
	return []zap.Field{
		zap.String("run_id", runID),
		zap.String("task_group_id", taskGroupID),
		zap.String("review_task_id", reviewTaskID),
	}
}
