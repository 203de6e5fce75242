package core

import "go.uber.org/zap"

// Logger is the structured logging surface used by core components.
// Both *zap.Logger and the gofulmen CLI/daemon loggers satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return zap.NewNop()
}
