package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init installs z as the process-wide logger.
func Init(z *zap.SugaredLogger) { global = z }

// Setup builds a console logger at the given level and installs it. An
// empty level means "info".
func Setup(lvl string) (*zap.SugaredLogger, error) {
	if err := SetLevel(lvl); err != nil {
		return nil, err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	sugar := z.Sugar()
	Init(sugar)
	zap.ReplaceGlobals(z)
	return sugar, nil
}

// SetLevel changes the level of a logger built by Setup.
func SetLevel(lvl string) error {
	lvl = strings.TrimSpace(strings.ToLower(lvl))
	if lvl == "" {
		lvl = "info"
	}
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", lvl, err)
	}
	level.SetLevel(parsed)
	return nil
}

// Level returns the current level name.
func Level() string { return level.Level().String() }

// Logger returns the process-wide logger. It is never nil: before Init or
// Setup it is a no-op logger.
func Logger() *zap.SugaredLogger {
	if global == nil {
		return zap.NewNop().Sugar()
	}
	return global
}
