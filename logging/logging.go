// Package logging builds the logr loggers used across the estimator, the control loop and the
// stream hub.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr.Logger.V.
const (
	VERBOSE = 2
	DEBUG   = 4
	TRACE   = 6
)

// NewLogger returns a zap backed logr.Logger which emits every message up to the given verbosity.
// Development loggers use the console encoder and report the caller.
func NewLogger(verbosity int, development bool) (logr.Logger, error) {
	if verbosity < 0 || verbosity > TRACE {
		return logr.Discard(), fmt.Errorf("verbosity %d out of range [0, %d]", verbosity, TRACE)
	}
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	// logr V(n) maps to zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-1 * verbosity))
	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("building zap logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// MustNewLogger is like NewLogger but panics on error.
func MustNewLogger(verbosity int, development bool) logr.Logger {
	l, err := NewLogger(verbosity, development)
	if err != nil {
		panic(err)
	}
	return l
}
