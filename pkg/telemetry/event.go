// Package telemetry publishes session events and exposes metrics.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/types"
)

// Kind classifies an Event.
type Kind string

const (
	KindMode         Kind = "mode"
	KindAlarmRaised  Kind = "alarm_raised"
	KindAlarmCleared Kind = "alarm_cleared"
	KindCommand      Kind = "command"
	KindBreaker      Kind = "breaker"
	KindFault        Kind = "fault"
	KindReset        Kind = "reset"
)

// Event is something a consumer of the twin may want to log or replay. Time
// is the simulation timestamp in milliseconds.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Topology  types.Topology `json:"topology"`
	Kind      Kind           `json:"kind"`
	Tick      uint64         `json:"tick"`
	Time      int64          `json:"time"`
	Mode      string         `json:"mode"`
	Alarm     string         `json:"alarm,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Rejected  bool           `json:"rejected,omitempty"`
}

// NewEvent creates an event with a fresh ID stamped from snapshot.
func NewEvent(sessionID string, snap Snapshot, kind Kind) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Topology:  snap.Topology,
		Kind:      kind,
		Tick:      snap.Tick,
		Time:      snap.Time,
		Mode:      snap.Mode,
	}
}

// Snapshot is the topology independent summary of a simulation state.
type Snapshot struct {
	Topology     types.Topology
	Tick         uint64
	Time         int64
	Mode         string
	Alarms       []string
	ChargeLevels []float64
	LoadKW       float64
}

// Diff returns the events describing the transition from prev to next: a mode
// change followed by raised and then cleared alarms.
func Diff(sessionID string, prev, next Snapshot) []Event {
	var events []Event
	if prev.Mode != next.Mode {
		e := NewEvent(sessionID, next, KindMode)
		e.Detail = prev.Mode + " -> " + next.Mode
		events = append(events, e)
	}
	was := make(map[string]bool, len(prev.Alarms))
	for _, a := range prev.Alarms {
		was[a] = true
	}
	is := make(map[string]bool, len(next.Alarms))
	for _, a := range next.Alarms {
		is[a] = true
		if !was[a] {
			e := NewEvent(sessionID, next, KindAlarmRaised)
			e.Alarm = a
			events = append(events, e)
		}
	}
	for _, a := range prev.Alarms {
		if !is[a] {
			e := NewEvent(sessionID, next, KindAlarmCleared)
			e.Alarm = a
			events = append(events, e)
		}
	}
	return events
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, events ...Event) error
}

// LogSink writes events to the context logger.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, events ...Event) error {
	for _, e := range events {
		level := slog.LevelInfo
		if e.Kind == KindAlarmRaised || e.Rejected {
			level = slog.LevelWarn
		}
		log.Ctx(ctx).Log(ctx, level, "session event",
			slog.String("sessionID", e.SessionID),
			slog.String("topology", string(e.Topology)),
			slog.String("kind", string(e.Kind)),
			slog.Uint64("tick", e.Tick),
			slog.String("mode", e.Mode),
			slog.String("alarm", e.Alarm),
			slog.String("detail", e.Detail),
		)
	}
	return nil
}

// Publisher fans events out to every configured sink.
type Publisher struct {
	sinks  []Sink
	closer func() error
}

// NewPublisher creates a publisher over sinks.
func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks}
}

// Publish sends events to every sink, joining their errors.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	if p == nil || len(events) == 0 {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the sinks that hold connections.
func (p *Publisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}

// eventTime converts a simulation timestamp for message headers.
func eventTime(e Event) time.Time {
	return time.UnixMilli(e.Time)
}
