// Package logger provides structured logging for the ebox services.
//
// It wraps Uber's zap logger and exposes a process-wide instance that the
// server, the pickup token service and the storage layer log through.
//
// # Usage
//
//	logger.InitLogger("debug") // debug, info, warn, error
//
//	logger.Log.Info("pickup token issued",
//	    zap.Int64("order_id", orderID),
//	)
//
// Until InitLogger is called, Log is a no-op logger so packages can log
// unconditionally from tests.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

func InitLogger(level string) {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	Log = l
}

// New builds a production JSON logger at the given level. Unknown levels
// fall back to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Named returns a child of the global logger, or l itself when non-nil.
func Named(l *zap.Logger, name string) *zap.Logger {
	if l != nil {
		return l
	}
	return Log.Named(name)
}
