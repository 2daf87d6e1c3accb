package log

// NoopLogger discards every message.
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything.
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

// Debug is a noop.
func (l *NoopLogger) Debug(format string, v ...interface{}) {}

// Info is a noop.
func (l *NoopLogger) Info(format string, v ...interface{}) {}

// Warn is a noop.
func (l *NoopLogger) Warn(format string, v ...interface{}) {}

// Error is a noop.
func (l *NoopLogger) Error(format string, v ...interface{}) {}

// Level reports the least verbose level, since nothing is emitted.
func (l *NoopLogger) Level() Level {
	return Error
}
