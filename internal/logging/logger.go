// Package logging builds the crawler's zap loggers.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr. Development mode uses a colored
// console encoder with caller info; otherwise records are JSON and sampled
// per second so a flood of identical duplicate-record lines stays bounded.
// An empty level means info.
func New(development bool, level string, opts ...zap.Option) (*zap.Logger, error) {
	return build(development, level, zapcore.Lock(os.Stderr), opts...)
}

func build(development bool, level string, sink zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		lvl = parsed
	}

	if development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), sink, lvl)
		return zap.New(core, append([]zap.Option{zap.AddCaller(), zap.Development()}, opts...)...), nil
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewSamplerWithOptions(
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), sink, lvl),
		time.Second, 100, 100,
	)
	return zap.New(core, append([]zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}, opts...)...), nil
}
