package orchestrator

import (
	"log/slog"
	"time"

	"github.com/loomnotes/loom/internal/reconcile"
)

// Sink receives the outcomes the surrounding application polls or is
// pushed: sync started, sync progress and sync finished.
type Sink interface {
	Started(trigger Trigger, at time.Time)
	Progress(p reconcile.Progress)
	Finished(o Outcome)
}

// Sinks fans events out to several sinks.
type Sinks []Sink

func (s Sinks) Started(trigger Trigger, at time.Time) {
	for _, sink := range s {
		sink.Started(trigger, at)
	}
}

func (s Sinks) Progress(p reconcile.Progress) {
	for _, sink := range s {
		sink.Progress(p)
	}
}

func (s Sinks) Finished(o Outcome) {
	for _, sink := range s {
		sink.Finished(o)
	}
}

// LogSink writes events to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Started(trigger Trigger, at time.Time) {
	l.Logger.Info("sync started", "trigger", trigger, "at", at)
}

func (l LogSink) Progress(p reconcile.Progress) {
	l.Logger.Debug("sync progress", "phase", p.Phase, "current", p.Current, "total", p.Total, "detail", p.Detail)
}

func (l LogSink) Finished(o Outcome) {
	attrs := []any{"trigger", o.Trigger, "status", o.Status, "run_id", o.RunID, "duration", o.Duration}
	if o.Err != "" {
		attrs = append(attrs, "error", o.Err)
	}
	if o.Status == StatusFailed {
		l.Logger.Error("sync finished", attrs...)
		return
	}
	l.Logger.Info("sync finished", attrs...)
}

type discardSink struct{}

func (discardSink) Started(Trigger, time.Time)  {}
func (discardSink) Progress(reconcile.Progress) {}
func (discardSink) Finished(Outcome)            {}
