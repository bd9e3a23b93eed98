// Package zlog constructs the zap.Logger every binary in this repository
// uses, keyed off a single level string so every package gets the same
// structured-logging behavior without repeating zap.Config setup.
package zlog

import "go.uber.org/zap"

// New builds a *zap.Logger for level ("debug", "info", "warn", "error").
// debug uses zap's development config (console-encoded, caller info); every
// other level uses the production config (JSON-encoded).
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
