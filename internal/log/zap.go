package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLoggerOpts formalizes structured logger output options.
type ZapLoggerOpts struct {
	// File, when set, redirects output from standard output to a size-rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ZapLogger is a leveled logging engine that emits one JSON object per message.
type ZapLogger struct {
	level Level
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a JSON logger limited to the specified level.
func NewZapLogger(level Level, opts ZapLoggerOpts) *ZapLogger {
	var sink zapcore.WriteSyncer

	if opts.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stdout)
	}

	return newZapLogger(level, sink)
}

func newZapLogger(level Level, sink zapcore.WriteSyncer) *ZapLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zapLevel(level))

	return &ZapLogger{
		level: level,
		sugar: zap.New(core).Sugar(),
	}
}

// Debug logs a debug message, if permitted by the current level.
func (l *ZapLogger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info logs an informational message, if permitted by the current level.
func (l *ZapLogger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn logs a warning message, if permitted by the current level.
func (l *ZapLogger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error logs an error message, if permitted by the current level.
func (l *ZapLogger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Level reads the current logging level.
func (l *ZapLogger) Level() Level {
	return l.level
}

// Sync flushes any buffered output.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
