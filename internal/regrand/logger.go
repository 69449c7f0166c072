// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package regrand

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the register randomizer's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the register randomizer's logger.
// This must be called before any code is randomized.
func SetLogger(l *zap.Logger) {
	logger = l
}
