// Copyright (c) 2022 Netskope, Inc. All rights reserved.

package log

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogName is used when no log name is configured.
const DefaultLogName = "sharepoint-extractor"

// Options selects where log entries go.
type Options struct {
	Dir   string
	Name  string
	Debug bool
	// Stdout sends entries to Writer, or os.Stdout when Writer is nil,
	// instead of the log file.
	Stdout bool
	Writer io.Writer
}

// FilePath returns the log file used when Stdout is false.
func (o Options) FilePath() string {
	dir, name := o.Dir, o.Name
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = DefaultLogName
	}
	return filepath.Join(dir, name+".log")
}

// NewLogger returns a JSON zap logger. Levels are two capital letters and
// times are epoch seconds; debug adds the caller.
func NewLogger(opts Options) (*zap.Logger, error) {
	sink, err := opts.syncer()
	if err != nil {
		return nil, err
	}

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(opts.Debug)), sink, level)

	if opts.Debug {
		return zap.New(core, zap.AddCaller()), nil
	}
	return zap.New(core), nil
}

func (o Options) syncer() (zapcore.WriteSyncer, error) {
	if o.Stdout {
		if o.Writer != nil {
			return zapcore.AddSync(o.Writer), nil
		}
		return zapcore.Lock(os.Stdout), nil
	}

	// The log may name credential paths, so it is private to the user.
	file, err := os.OpenFile(o.FilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(file), nil
}

func encoderConfig(debug bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}
	if debug {
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}
	return cfg
}

// Tee returns a copy of logger that also writes every entry to extra.
func Tee(logger *zap.Logger, extra zapcore.Core) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, extra)
	}))
}
