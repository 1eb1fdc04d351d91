package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/upstwin/upstwin/pkg/controller"
	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/telemetry"
	"github.com/upstwin/upstwin/pkg/types"
)

// ErrUnknownTopology is returned when no session runs the requested topology.
var ErrUnknownTopology = errors.New("unknown topology")

// Handle is the topology independent view of a Session used by transports.
// Snapshots are returned as values ready for encoding.
type Handle interface {
	ID() string
	Topology() types.Topology
	Scenario() string
	Current() any
	Toggle(ctx context.Context, id string, closing bool) (any, types.Permission)
	Command(ctx context.Context, cmd types.Command) (any, string, bool)
	Faults(ctx context.Context, patch map[string]any) (any, error)
	Load(ctx context.Context, name string) (any, error)
	Run(ctx context.Context, period time.Duration) error
	TickPeriod() time.Duration
}

type handle[S any] struct {
	*Session[S]
}

// Handle returns the session as a Handle.
func (s *Session[S]) Handle() Handle {
	return handle[S]{s}
}

func (h handle[S]) Current() any {
	return h.State()
}

func (h handle[S]) Toggle(ctx context.Context, id string, closing bool) (any, types.Permission) {
	return h.ToggleBreaker(ctx, id, closing)
}

func (h handle[S]) Command(ctx context.Context, cmd types.Command) (any, string, bool) {
	return h.Execute(ctx, cmd)
}

func (h handle[S]) Faults(ctx context.Context, patch map[string]any) (any, error) {
	return h.PatchFaults(ctx, patch)
}

func (h handle[S]) Load(ctx context.Context, name string) (any, error) {
	return h.Reset(ctx, name)
}

// Map holds one session per topology.
type Map struct {
	sessions map[types.Topology]Handle
	initial  map[types.Topology]string
}

// NewMap creates single and parallel sessions sharing deps, starting from
// the named built-in scenarios.
func NewMap(c *controller.Controller, deps Deps, singleScenario, parallelScenario string) *Map {
	m := &Map{
		sessions: map[types.Topology]Handle{},
		initial: map[types.Topology]string{
			types.TopologySingle:   singleScenario,
			types.TopologyParallel: parallelScenario,
		},
	}
	single := SingleDriver{C: c}
	st, _ := single.Builtin(singleScenario)
	m.sessions[types.TopologySingle] = New[types.SimulationState](single, st, deps).Handle()

	parallel := ParallelDriver{C: c}
	pst, _ := parallel.Builtin(parallelScenario)
	m.sessions[types.TopologyParallel] = New[types.ParallelSimulationState](parallel, pst, deps).Handle()
	return m
}

// Get returns the session running topology.
func (m *Map) Get(topology types.Topology) (Handle, error) {
	h, ok := m.sessions[topology]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopology, topology)
	}
	return h, nil
}

// Start loads each session's configured scenario and runs its tick loop
// until ctx is cancelled. It returns once every loop has stopped.
func (m *Map) Start(ctx context.Context) error {
	for topo, h := range m.sessions {
		if _, err := h.Load(ctx, m.initial[topo]); err != nil {
			return fmt.Errorf("failed to load %s scenario: %w", topo, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 0, len(m.sessions))
	var mu sync.Mutex
	for _, h := range m.sessions {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			if err := h.Run(ctx, h.TickPeriod()); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Configured sets up the sessions based on flags.
func Configured(db storage.Database, sink telemetry.Sink, metrics *telemetry.Metrics) *Map {
	tickPeriod := lflag.Duration("tick-period", 200*time.Millisecond, "Simulation tick period")
	seedStr := lflag.String("seed", "0", "Noise seed for every session (0 keeps the scenario's seed)")
	accelerationStr := lflag.String("acceleration", "60", "Battery time acceleration factor")
	singleScenario := lflag.String("single-scenario", "normal-online", "Scenario loaded into the single module session at startup")
	parallelScenario := lflag.String("parallel-scenario", "parallel-online", "Scenario loaded into the parallel session at startup")

	m := &Map{}

	lflag.Do(func() {
		if *tickPeriod <= 0 {
			panic(fmt.Sprintf("invalid tick-period: %s", *tickPeriod))
		}
		seed, err := strconv.ParseUint(*seedStr, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("invalid seed: %v", err))
		}
		acceleration, err := strconv.ParseFloat(*accelerationStr, 64)
		if err != nil || acceleration <= 0 {
			panic(fmt.Sprintf("invalid acceleration: %q", *accelerationStr))
		}
		deps := Deps{
			Storage: db,
			Sink:    sink,
			Metrics: metrics,
			Tuning: Tuning{
				TickPeriodMillis: tickPeriod.Milliseconds(),
				Acceleration:     acceleration,
				Seed:             seed,
			},
		}
		*m = *NewMap(controller.NewController(), deps, *singleScenario, *parallelScenario)
		log.Ctx(context.Background()).Debug("sessions configured", "tickPeriod", tickPeriod.String(), "acceleration", acceleration)
	})

	return m
}
