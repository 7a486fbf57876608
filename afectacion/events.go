package afectacion

import (
	"context"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENTS - Structured side channel, injected into every component
// =============================================================================

// Severity of an event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Event names.
const (
	EventValidationFailed = "afectacion.validation_failed"
	EventPeriodConflict   = "afectacion.period_conflict"
	EventWriteFailed      = "afectacion.write_failed"
	EventVerifyRetry      = "afectacion.verify_retry"
	EventInconsistent     = "afectacion.inconsistent"
	EventRejected         = "afectacion.rejected"
	EventRegistered       = "afectacion.registered"
	EventStaleOpenPeriod  = "periodo.stale_open"
)

type Event struct {
	Name     string
	Severity Severity
	Fields   map[string]any
	Err      error
}

// EventSink receives structured events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogrusSink writes events as structured log lines.
type LogrusSink struct {
	Entry *logrus.Entry
}

func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	return &LogrusSink{Entry: logrus.NewEntry(logger).WithField("component", "afectacion")}
}

func (s *LogrusSink) Emit(ctx context.Context, e Event) {
	entry := s.Entry.WithContext(ctx).WithField("event", e.Name)
	if len(e.Fields) > 0 {
		entry = entry.WithFields(logrus.Fields(e.Fields))
	}
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	switch e.Severity {
	case SeverityError:
		entry.Error(e.Name)
	case SeverityWarn:
		entry.Warn(e.Name)
	default:
		entry.Info(e.Name)
	}
}
