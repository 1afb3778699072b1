package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Option func(*options)

type options struct {
	level   zapcore.Level
	console bool
}

// WithLevel sets the minimum level, e.g. "debug" or "warn".
func WithLevel(level string) Option {
	return func(o *options) {
		if l, err := zapcore.ParseLevel(level); err == nil {
			o.level = l
		}
	}
}

// WithConsole also writes human readable logs to stderr.
func WithConsole() Option {
	return func(o *options) {
		o.console = true
	}
}

// NewLogger appends JSON logs to the file at path.
func NewLogger(path string, opts ...Option) (*zap.Logger, error) {
	o := options{level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), o.level),
	}
	if o.console {
		consoleConfig := zap.NewDevelopmentEncoderConfig()
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(os.Stderr), o.level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
