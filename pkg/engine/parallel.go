package engine

import (
	"github.com/upstwin/upstwin/pkg/types"
)

// Parallel advances the two module installation by one tick. Each module runs
// the single module model against the shared utility, then the safety rule
// resolves any inverter/bypass conflict on the shared bus before the load is
// shared between the modules feeding it.
func (e *Engine) Parallel(prev types.ParallelSimulationState, nowMillis int64) types.ParallelSimulationState {
	s := prev.Clone()
	s.Time = nowMillis
	s.Tick++
	s.Alarms = nil
	s.SafetyIsolation = [types.ModuleCount]bool{}

	in := measureSupply(s.Utility, s.Faults.UtilityLoss, s.Settings)
	rnd := e.noise(s.Seed, s.Tick)
	var ticks [types.ModuleCount]moduleTick
	for i := range ticks {
		ticks[i] = moduleTick{
			now:   nowMillis,
			set:   s.Settings,
			in:    in,
			br:    s.Breakers.Modules[i],
			f:     s.Faults.Modules[i],
			maint: s.Breakers.AnyMaintenanceClosed(),
			rnd:   rnd,
		}
		s.Modules[i] = ticks[i].step(s.Modules[i])
	}

	s = enforceBusSafety(s)
	for i := range ticks {
		ticks[i].br = s.Breakers.Modules[i]
	}

	bus, feeders := outputBus(s.Modules[:], s.Breakers.Modules[:], s.Breakers.Load, in, s.Settings)
	var shareKW, shareA float64
	if n := len(feeders); n > 0 {
		shareKW = bus.LoadKW / float64(n)
		shareA = types.ThreePhaseCurrent(bus.LoadKW, bus.Voltage, s.Settings.PowerFactor) / float64(n)
	}
	var bypassing []int
	for i := range s.Modules {
		kw, a := 0.0, 0.0
		for _, f := range feeders {
			if f == i {
				kw, a = shareKW, shareA
			}
		}
		s.Modules[i] = ticks[i].energy(s.Modules[i], kw, a)
		if len(feeders) == 0 && BypassCarrying(s.Modules[i], s.Breakers.Modules[i]) {
			bypassing = append(bypassing, i)
		}
	}
	for _, i := range bypassing {
		s.Modules[i].OutputCurrent = bus.Current / float64(len(bypassing))
	}
	for i := range s.Modules {
		s.Modules[i] = ticks[i].thermal(s.Modules[i])
	}
	s.Bus = bus
	return s
}

// enforceBusSafety keeps a module on bypass from sharing the bus with a peer
// feeding it from its inverter. The bypassed peer is moved to its inverter if
// that inverter is ready, otherwise its output breaker is opened.
func enforceBusSafety(s types.ParallelSimulationState) types.ParallelSimulationState {
	for i := range s.Modules {
		j := (i + 1) % types.ModuleCount
		peer := s.Modules[j]
		if !InverterFeeding(s.Modules[i], s.Breakers.Modules[i]) {
			continue
		}
		if !s.Breakers.Modules[j].Q4 || peer.StaticSwitch.Mode != types.TransferBypass {
			continue
		}
		if InverterReady(peer.Inverter, s.Settings) {
			peer.StaticSwitch.Mode = types.TransferInverter
			peer.StaticSwitch.ForceBypass = false
			peer.StaticSwitch.Status = types.StatusNormal
			peer.OutputVoltage = peer.Inverter.VoltageOut
		} else {
			s.Breakers.Modules[j].Q4 = false
			s.SafetyIsolation[j] = true
		}
		s.Modules[j] = peer
	}
	return s
}
