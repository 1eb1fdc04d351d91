// Package session owns the live simulation of each installation: it holds the
// latest snapshot, drives ticks from a timer and applies operator actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upstwin/upstwin/pkg/controller"
	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/telemetry"
	"github.com/upstwin/upstwin/pkg/types"
)

// Deps are the collaborators shared by sessions. Every field is optional.
type Deps struct {
	Storage storage.Database
	Sink    telemetry.Sink
	Metrics *telemetry.Metrics
	Clock   func() time.Time
	Tuning  Tuning
}

// Session is a single running simulation. All methods are safe for
// concurrent use; each operation replaces the snapshot atomically.
type Session[S any] struct {
	id     string
	driver Driver[S]
	deps   Deps

	mu       sync.Mutex
	state    S
	scenario string
}

// New creates a session starting from initial.
func New[S any](driver Driver[S], initial S, deps Deps) *Session[S] {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Session[S]{
		id:     uuid.NewString(),
		driver: driver,
		deps:   deps,
		state:  driver.Tune(initial, deps.Tuning),
	}
}

func (s *Session[S]) ID() string {
	return s.id
}

func (s *Session[S]) Topology() types.Topology {
	return s.driver.Topology()
}

// State returns the latest snapshot.
func (s *Session[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scenario returns the name of the scenario the session was last reset to.
func (s *Session[S]) Scenario() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario
}

// swap replaces the snapshot with fn's result and returns the snapshots
// before and after.
func (s *Session[S]) swap(fn func(S) S) (S, S) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = fn(prev)
	return prev, s.state
}

func (s *Session[S]) publish(ctx context.Context, prev, next S, extra ...telemetry.Event) {
	events := append(extra, telemetry.Diff(s.id, s.driver.Snapshot(prev), s.driver.Snapshot(next))...)
	if len(events) == 0 || s.deps.Sink == nil {
		return
	}
	if err := s.deps.Sink.Publish(ctx, events...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to publish session events", slog.Any("error", err))
	}
}

// Step advances the simulation by one tick at the clock's current time.
func (s *Session[S]) Step(ctx context.Context) S {
	now := s.deps.Clock().UnixMilli()
	prev, next := s.swap(func(cur S) S {
		return s.driver.Tick(cur, now)
	})
	snap := s.driver.Snapshot(next)
	s.deps.Metrics.Observe(snap)
	log.Ctx(ctx).DebugContext(ctx, "tick", slog.Uint64("tick", snap.Tick), slog.String("mode", snap.Mode))
	s.publish(ctx, prev, next)
	return next
}

// Run ticks every period until ctx is cancelled. A tick in progress always
// completes before Run returns.
func (s *Session[S]) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid tick period: %s", period)
	}
	ctx = s.logContext(ctx)
	t := time.NewTicker(period)
	defer t.Stop()
	log.Ctx(ctx).InfoContext(ctx, "simulation loop started", slog.String("period", period.String()))
	for {
		select {
		case <-t.C:
			s.Step(ctx)
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "simulation loop stopped")
			return nil
		}
	}
}

func (s *Session[S]) logContext(ctx context.Context) context.Context {
	return log.WithSession(ctx, string(s.Topology()), s.id)
}

func (s *Session[S]) event(next S, kind telemetry.Kind, detail string) telemetry.Event {
	e := telemetry.NewEvent(s.id, s.driver.Snapshot(next), kind)
	e.Detail = detail
	return e
}

// ToggleBreaker opens or closes breaker id if the interlocks permit it.
func (s *Session[S]) ToggleBreaker(ctx context.Context, id string, closing bool) (S, types.Permission) {
	ctx = s.logContext(ctx)
	var perm types.Permission
	prev, next := s.swap(func(cur S) S {
		var out S
		out, perm = s.driver.ToggleBreaker(cur, id, closing)
		return out
	})
	action := "open"
	if closing {
		action = "close"
	}
	e := s.event(next, telemetry.KindBreaker, fmt.Sprintf("%s %s", action, id))
	if !perm.Allowed {
		e.Rejected = true
		e.Detail += ": " + perm.Reason
		s.deps.Metrics.Rejected(s.Topology(), telemetry.KindBreaker)
		log.Ctx(ctx).InfoContext(ctx, "breaker operation refused", slog.String("breaker", id), slog.Bool("closing", closing), slog.String("reason", perm.Reason))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "breaker operated", slog.String("breaker", id), slog.Bool("closing", closing))
	}
	s.deps.Metrics.SetState(s.driver.Snapshot(next))
	s.publish(ctx, prev, next, e)
	return next, perm
}

// Execute applies an operator command and returns the operator log line and
// whether the command took effect.
func (s *Session[S]) Execute(ctx context.Context, cmd types.Command) (S, string, bool) {
	ctx = s.logContext(ctx)
	var msg string
	prev, next := s.swap(func(cur S) S {
		var out S
		out, msg = s.driver.Execute(cur, cmd)
		return out
	})
	applied := controller.Applied(cmd, msg)
	e := s.event(next, telemetry.KindCommand, msg)
	if !applied {
		e.Rejected = true
		s.deps.Metrics.Rejected(s.Topology(), telemetry.KindCommand)
	}
	log.Ctx(ctx).InfoContext(ctx, "command executed", slog.String("command", string(cmd.Type)), slog.String("module", cmd.Module), slog.Bool("applied", applied), slog.String("result", msg))
	s.deps.Metrics.SetState(s.driver.Snapshot(next))
	s.publish(ctx, prev, next, e)
	return next, msg, applied
}

// PatchFaults sets the fault flags named in patch, leaving the others as
// they are.
func (s *Session[S]) PatchFaults(ctx context.Context, patch map[string]any) (S, error) {
	ctx = s.logContext(ctx)
	var err error
	prev, next := s.swap(func(cur S) S {
		var out S
		out, err = s.driver.PatchFaults(cur, patch)
		return out
	})
	if err != nil {
		return next, fmt.Errorf("invalid fault patch: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "faults injected", slog.Any("patch", patch))
	s.deps.Metrics.SetState(s.driver.Snapshot(next))
	s.publish(ctx, prev, next, s.event(next, telemetry.KindFault, fmt.Sprint(patch)))
	return next, nil
}

// load resolves name from storage first, then from the built-in scenarios.
func (s *Session[S]) load(ctx context.Context, name string) (S, error) {
	var zero S
	if s.deps.Storage != nil {
		sc, err := s.deps.Storage.GetScenario(ctx, name)
		switch {
		case err == nil:
			if sc.Topology != s.Topology() {
				return zero, fmt.Errorf("scenario %q is for the %s topology", name, sc.Topology)
			}
			return s.driver.Build(sc)
		case !errors.Is(err, storage.ErrScenarioNotFound):
			return zero, fmt.Errorf("failed to load scenario %q: %w", name, err)
		}
	}
	if st, ok := s.driver.Builtin(name); ok {
		return st, nil
	}
	return zero, fmt.Errorf("%w: %q", scenario.ErrUnknownScenario, name)
}

// Reset replaces the simulation with the named scenario.
func (s *Session[S]) Reset(ctx context.Context, name string) (S, error) {
	ctx = s.logContext(ctx)
	st, err := s.load(ctx, name)
	if err != nil {
		return st, err
	}
	st = s.driver.Tune(st, s.deps.Tuning)
	prev, next := s.swap(func(S) S {
		s.scenario = name
		return st
	})
	log.Ctx(ctx).InfoContext(ctx, "session reset", slog.String("scenario", name))
	s.deps.Metrics.SetState(s.driver.Snapshot(next))
	s.publish(ctx, prev, next, s.event(next, telemetry.KindReset, name))
	return next, nil
}

// TickPeriod is the tick period configured for the session.
func (s *Session[S]) TickPeriod() time.Duration {
	ms := s.deps.Tuning.TickPeriodMillis
	if ms <= 0 {
		ms = types.DefaultSettings().TickPeriodMillis
	}
	return time.Duration(ms) * time.Millisecond
}
