// Package logging constructs the launcher's structured logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded *zap.SugaredLogger. Level defaults to
// info; setting the DEBUG environment variable to "1" (per the
// specification's diagnostics flags) switches it to debug.
func New() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") == "1" {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(os.Stdout),
		level,
	)

	return zap.New(core).Sugar()
}

// Nop returns a logger that discards everything, for use in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
