package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Name is an optional name prepended to every record.
	Name string `yaml:"name"`
}

// DefaultConfig returns the logging configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{Level: zapcore.InfoLevel}
}
