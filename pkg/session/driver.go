package session

import (
	"github.com/upstwin/upstwin/pkg/controller"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/telemetry"
	"github.com/upstwin/upstwin/pkg/types"
)

// Driver adapts one topology's controller operations to a Session.
type Driver[S any] interface {
	Topology() types.Topology
	Tick(prev S, nowMillis int64) S
	ToggleBreaker(s S, id string, closing bool) (S, types.Permission)
	Execute(s S, cmd types.Command) (S, string)
	PatchFaults(s S, patch map[string]any) (S, error)
	// Build creates a snapshot from a stored scenario definition.
	Build(sc types.Scenario) (S, error)
	// Builtin returns the built-in scenario with the given name.
	Builtin(name string) (S, bool)
	Tune(s S, t Tuning) S
	Snapshot(s S) telemetry.Snapshot
}

// Tuning overrides scenario settings with operator configuration. Zero fields
// keep the scenario's value.
type Tuning struct {
	TickPeriodMillis int64
	Acceleration     float64
	Seed             uint64
}

func (t Tuning) apply(set types.Settings, seed uint64) (types.Settings, uint64) {
	if t.TickPeriodMillis > 0 {
		set.TickPeriodMillis = t.TickPeriodMillis
	}
	if t.Acceleration > 0 {
		set.AccelerationFactor = t.Acceleration
	}
	if t.Seed != 0 {
		seed = t.Seed
	}
	return set, seed
}

// SingleDriver drives the single module installation.
type SingleDriver struct {
	C *controller.Controller
}

func (SingleDriver) Topology() types.Topology { return types.TopologySingle }

func (d SingleDriver) Tick(prev types.SimulationState, nowMillis int64) types.SimulationState {
	return d.C.Tick(prev, nowMillis)
}

func (d SingleDriver) ToggleBreaker(s types.SimulationState, id string, closing bool) (types.SimulationState, types.Permission) {
	return d.C.ToggleBreaker(s, id, closing)
}

func (d SingleDriver) Execute(s types.SimulationState, cmd types.Command) (types.SimulationState, string) {
	return d.C.ExecuteCommand(s, cmd)
}

func (d SingleDriver) PatchFaults(s types.SimulationState, patch map[string]any) (types.SimulationState, error) {
	f, err := s.Faults.Patch(patch)
	if err != nil {
		return s, err
	}
	return d.C.InjectFaults(s, f), nil
}

func (SingleDriver) Build(sc types.Scenario) (types.SimulationState, error) {
	return scenario.BuildSingle(sc)
}

func (SingleDriver) Builtin(name string) (types.SimulationState, bool) {
	return scenario.Single(name)
}

func (SingleDriver) Tune(s types.SimulationState, t Tuning) types.SimulationState {
	s = s.Clone()
	s.Settings, s.Seed = t.apply(s.Settings, s.Seed)
	return s
}

func (SingleDriver) Snapshot(s types.SimulationState) telemetry.Snapshot {
	return telemetry.Snapshot{
		Topology:     types.TopologySingle,
		Tick:         s.Tick,
		Time:         s.Time,
		Mode:         string(s.Mode),
		Alarms:       s.Alarms,
		ChargeLevels: []float64{s.Module.Battery.ChargeLevel},
		LoadKW:       s.Bus.LoadKW,
	}
}

// ParallelDriver drives the two module parallel installation.
type ParallelDriver struct {
	C *controller.Controller
}

func (ParallelDriver) Topology() types.Topology { return types.TopologyParallel }

func (d ParallelDriver) Tick(prev types.ParallelSimulationState, nowMillis int64) types.ParallelSimulationState {
	return d.C.TickParallel(prev, nowMillis)
}

func (d ParallelDriver) ToggleBreaker(s types.ParallelSimulationState, id string, closing bool) (types.ParallelSimulationState, types.Permission) {
	return d.C.ToggleParallelBreaker(s, id, closing)
}

func (d ParallelDriver) Execute(s types.ParallelSimulationState, cmd types.Command) (types.ParallelSimulationState, string) {
	return d.C.ExecuteParallelCommand(s, cmd)
}

func (d ParallelDriver) PatchFaults(s types.ParallelSimulationState, patch map[string]any) (types.ParallelSimulationState, error) {
	f, err := s.Faults.Patch(patch)
	if err != nil {
		return s, err
	}
	return d.C.InjectParallelFaults(s, f), nil
}

func (ParallelDriver) Build(sc types.Scenario) (types.ParallelSimulationState, error) {
	return scenario.BuildParallel(sc)
}

func (ParallelDriver) Builtin(name string) (types.ParallelSimulationState, bool) {
	return scenario.Parallel(name)
}

func (ParallelDriver) Tune(s types.ParallelSimulationState, t Tuning) types.ParallelSimulationState {
	s = s.Clone()
	s.Settings, s.Seed = t.apply(s.Settings, s.Seed)
	return s
}

func (ParallelDriver) Snapshot(s types.ParallelSimulationState) telemetry.Snapshot {
	charge := make([]float64, len(s.Modules))
	for i, m := range s.Modules {
		charge[i] = m.Battery.ChargeLevel
	}
	return telemetry.Snapshot{
		Topology:     types.TopologyParallel,
		Tick:         s.Tick,
		Time:         s.Time,
		Mode:         string(s.Mode),
		Alarms:       s.Alarms,
		ChargeLevels: charge,
		LoadKW:       s.Bus.LoadKW,
	}
}
