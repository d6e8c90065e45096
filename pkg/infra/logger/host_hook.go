package logger

import (
	"github.com/sirupsen/logrus"
)

// Sink is the host daemon's logging subsystem as seen by this module.
type Sink interface {
	Log(level logrus.Level, subsystem, event, message string)
}

// HostHook mirrors log entries into the host's own log so operators find
// scoring diagnostics next to the rest of the server's output.
type HostHook struct {
	sink   Sink
	levels []logrus.Level
}

// NewHostHook forwards entries at minLevel or more severe.
func NewHostHook(sink Sink, minLevel logrus.Level) *HostHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &HostHook{sink: sink, levels: levels}
}

func (h *HostHook) Fire(entry *logrus.Entry) error {
	event, _ := entry.Data[FieldEvent].(string)
	msg := entry.Message
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		msg = msg + ": " + err.Error()
	}
	h.sink.Log(entry.Level, Subsystem, event, msg)
	return nil
}

func (h *HostHook) Levels() []logrus.Level {
	return h.levels
}
