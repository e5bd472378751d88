package executor

import (
	"go.uber.org/zap/zapcore"
)

// eventCore is a zapcore.Core that turns every log entry into a log Event
// instead of writing to a sink directly. It replaces the teacher's
// WebSocket-hub bridge core with one that feeds the executor's own event
// stream, since the transport that would relay events onward is out of
// scope here.
type eventCore struct {
	level  zapcore.Level
	fields []zapcore.Field
	emit   func(Event)
}

// NewEventCore returns a zapcore.Core that converts zap log entries at or
// above level into Event{Kind: EventLog} values passed to emit. Callers
// that want registry/scheduler log lines to surface on the same stream a
// run's node events arrive on can Tee this core into their *zap.Logger.
func NewEventCore(level zapcore.Level, emit func(Event)) zapcore.Core {
	return &eventCore{level: level, emit: emit}
}

func (c *eventCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.level
}

func (c *eventCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &eventCore{level: c.level, fields: combined, emit: c.emit}
}

func (c *eventCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		ce = ce.AddCore(entry, c)
	}
	return ce
}

func (c *eventCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if c.emit == nil {
		return nil
	}

	level := "info"
	switch entry.Level {
	case zapcore.DebugLevel:
		level = "debug"
	case zapcore.WarnLevel:
		level = "warn"
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		level = "error"
	}

	var nodeID string
	for _, f := range append(append([]zapcore.Field(nil), c.fields...), fields...) {
		if f.Key == "node_id" {
			nodeID = f.String
		}
	}

	c.emit(Event{Kind: EventLog, NodeID: nodeID, LogLevel: level, LogMessage: entry.Message})
	return nil
}

func (c *eventCore) Sync() error { return nil }
