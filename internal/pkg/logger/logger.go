package logger

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with fraud-scoring helpers
type Logger struct {
	*zap.Logger
	serviceName string
}

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "nop"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithContext returns a logger carrying the trace and span ids of the span in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		),
		serviceName: l.serviceName,
	}
}

// WithTransaction returns a logger with transaction context
func (l *Logger) WithTransaction(txRef, accountID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("transaction_ref", txRef),
			zap.String("account_id", accountID),
		),
		serviceName: l.serviceName,
	}
}

// EvaluationStarted logs the start of an evaluation pass
func (l *Logger) EvaluationStarted(txRef, accountID, trigger string) {
	l.Debug("evaluation started",
		zap.String("transaction_ref", txRef),
		zap.String("account_id", accountID),
		zap.String("trigger", trigger),
	)
}

// EvaluationCompleted logs the outcome of an evaluation pass
func (l *Logger) EvaluationCompleted(txRef, riskLevel, status string, anomalies int, durationMs int64) {
	l.Info("evaluation completed",
		zap.String("transaction_ref", txRef),
		zap.String("risk_level", riskLevel),
		zap.String("status", status),
		zap.Int("anomalies", anomalies),
		zap.Int64("duration_ms", durationMs),
	)
}

// AnomalyDetected logs a persisted anomaly
func (l *Logger) AnomalyDetected(txRef, anomalyType, severity string, score float64) {
	l.Warn("anomaly detected",
		zap.String("transaction_ref", txRef),
		zap.String("anomaly_type", anomalyType),
		zap.String("severity", severity),
		zap.Float64("score", score),
	)
}

// AlertEscalated logs alert creation from an anomaly
func (l *Logger) AlertEscalated(alertID, anomalyID, severity string) {
	l.Warn("alert escalated",
		zap.String("alert_id", alertID),
		zap.String("anomaly_id", anomalyID),
		zap.String("severity", severity),
	)
}

// BatchCompleted logs the summary of a bulk operation
func (l *Logger) BatchCompleted(operation string, total, succeeded, failed int) {
	l.Info("batch completed",
		zap.String("operation", operation),
		zap.Int("total", total),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
}

// LatencyWarning logs when a pass exceeds expected latency
func (l *Logger) LatencyWarning(operation string, durationMs, thresholdMs int64) {
	l.Warn("latency threshold exceeded",
		zap.String("operation", operation),
		zap.Int64("duration_ms", durationMs),
		zap.Int64("threshold_ms", thresholdMs),
	)
}

// Helper field functions

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}
