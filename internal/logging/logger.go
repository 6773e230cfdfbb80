// Package logging provides the structured logger used across the trading core.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging contract services depend on. Context methods return a
// derived logger so call sites can chain fields.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	WithComponent(component string) Logger
	WithSessionID(sessionID string) Logger
	WithUserID(userID string) Logger
	WithSymbol(symbol string) Logger
	WithError(err error) Logger

	Sync() error
}

// StandardLogger is the zap-backed Logger implementation.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger creates a logger for the given level and environment.
// Development gets a console encoder, everything else JSON.
func NewStandardLogger(level, environment string) *StandardLogger {
	var cfg zap.Config
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
	}
	cfg.Level = zap.NewAtomicLevelAt(getZapLevel(level))

	logger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger = zap.NewNop()
	}

	return &StandardLogger{logger: logger}
}

// NewNopLogger returns a logger that discards everything. Tests that do not
// assert on log output use this.
func NewNopLogger() *StandardLogger {
	return &StandardLogger{logger: zap.NewNop()}
}

// NewWithZap wraps an existing zap logger; used with zaptest/observer.
func NewWithZap(logger *zap.Logger) *StandardLogger {
	return &StandardLogger{logger: logger}
}

// Logger exposes the underlying zap logger.
func (l *StandardLogger) Logger() *zap.Logger {
	return l.logger
}

func (l *StandardLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *StandardLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *StandardLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Sugar().Warnw(msg, keysAndValues...)
}

func (l *StandardLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}

func (l *StandardLogger) WithComponent(component string) Logger {
	return &StandardLogger{logger: l.logger.With(zap.String("component", component))}
}

func (l *StandardLogger) WithSessionID(sessionID string) Logger {
	return &StandardLogger{logger: l.logger.With(zap.String("session_id", sessionID))}
}

func (l *StandardLogger) WithUserID(userID string) Logger {
	return &StandardLogger{logger: l.logger.With(zap.String("user_id", userID))}
}

func (l *StandardLogger) WithSymbol(symbol string) Logger {
	return &StandardLogger{logger: l.logger.With(zap.String("symbol", symbol))}
}

func (l *StandardLogger) WithError(err error) Logger {
	return &StandardLogger{logger: l.logger.With(zap.Error(err))}
}

func (l *StandardLogger) Sync() error {
	return l.logger.Sync()
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
