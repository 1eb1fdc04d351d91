package engine

import (
	"github.com/upstwin/upstwin/pkg/types"
)

// Single advances a single module installation by one tick. Alarms are
// cleared; the controller derives them once the mode is settled.
func (e *Engine) Single(prev types.SimulationState, nowMillis int64) types.SimulationState {
	s := prev.Clone()
	s.Time = nowMillis
	s.Tick++
	s.Alarms = nil

	in := measureSupply(s.Utility, s.Faults.UtilityLoss, s.Settings)
	t := moduleTick{
		now:   nowMillis,
		set:   s.Settings,
		in:    in,
		br:    s.Breakers.ModuleBreakers,
		f:     s.Faults.ModuleFaults,
		maint: s.Breakers.Q3,
		rnd:   e.noise(s.Seed, s.Tick),
	}

	s.Module = t.step(s.Module)
	bus, feeders := outputBus(
		[]types.ModuleState{s.Module},
		[]types.ModuleBreakers{s.Breakers.ModuleBreakers},
		s.Breakers.Load, in, s.Settings,
	)
	var shareKW, shareA float64
	if len(feeders) > 0 {
		shareKW, shareA = bus.LoadKW, bus.Current
	}
	s.Module = t.energy(s.Module, shareKW, shareA)
	if BypassCarrying(s.Module, s.Breakers.ModuleBreakers) {
		// bypass current flows through the switch without loading the inverter
		s.Module.OutputCurrent = bus.Current
	}
	s.Module = t.thermal(s.Module)
	s.Bus = bus
	return s
}
