// Package logging builds the zap logger used across flit. Logs go to a
// size-rotated file; warnings and errors also reach stderr so an
// interactive user sees problems without tailing the log.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Verbose mirrors all log output to stderr, for `flit daemon` runs
	// in a terminal.
	Verbose bool
}

// New builds the logger. An empty File logs to stderr only.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	if opts.File != "" {
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg), fileSink, level))
	}

	consoleLevel := zapcore.WarnLevel
	if opts.Verbose || opts.File == "" {
		consoleLevel = level
	}
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.AddSync(os.Stderr), consoleLevel))

	return zap.New(zapcore.NewTee(cores...))
}
