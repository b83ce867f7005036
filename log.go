package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is replaced by initLogger; until then nothing is logged.
var logger = zap.NewNop().Sugar()

// initLogger points logger at stderr, keeping stdout for results. The
// returned func flushes buffered entries and must be called before exit.
func initLogger(level string) (func(), error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = l.Sugar().Named("shufflesim")
	return func() { _ = logger.Sync() }, nil
}
