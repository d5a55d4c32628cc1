// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package log

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Line is a rendered log entry handed to a Sink.
type Line struct {
	Time    time.Time
	Level   zapcore.Level
	Message string
	Fields  map[string]interface{}
}

// Sink receives log lines. Implementations must not retain the Fields map
// beyond the call if they mutate it.
type Sink func(Line)

// sinkCore is a zapcore.Core that forwards entries to a Sink. It lets a front
// end subscribe to component logs without the components knowing about it.
type sinkCore struct {
	zapcore.LevelEnabler
	sink   Sink
	fields []zapcore.Field
}

// NewSinkCore returns a core forwarding entries at or above level to sink.
func NewSinkCore(level zapcore.LevelEnabler, sink Sink) zapcore.Core {
	return &sinkCore{LevelEnabler: level, sink: sink}
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &sinkCore{LevelEnabler: c.LevelEnabler, sink: c.sink, fields: merged}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	c.sink(Line{
		Time:    ent.Time,
		Level:   ent.Level,
		Message: ent.Message,
		Fields:  enc.Fields,
	})
	return nil
}

func (c *sinkCore) Sync() error {
	return nil
}
