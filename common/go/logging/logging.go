package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init initializes the logging subsystem.
//
// Console encoding is used with colored level names when stderr is a
// terminal. The returned atomic level may be used to change verbosity at
// runtime.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}

	return logger.Sugar(), config.Level, nil
}

// MustInit is like Init, but panics on failure. Intended for command-line
// entry points where a broken logger configuration is unrecoverable.
func MustInit(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel) {
	log, level, err := Init(cfg)
	if err != nil {
		panic(err)
	}
	return log, level
}
