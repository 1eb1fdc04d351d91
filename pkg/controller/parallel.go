package controller

import (
	"fmt"
	"slices"
	"strings"

	"github.com/upstwin/upstwin/pkg/engine"
	"github.com/upstwin/upstwin/pkg/types"
)

type parallelView struct {
	s types.ParallelSimulationState
}

func (v parallelView) Locate(id string) (types.BreakerRef, error) {
	return v.s.Breakers.Locate(id)
}

func (v parallelView) EmergencyShutdown() bool {
	return v.s.Mode == types.ParallelEmergencyShutdown || v.s.Faults.EmergencyPowerOff
}

func (v parallelView) Module(i int) (types.ModuleState, types.ModuleBreakers) {
	return v.s.Modules[i], v.s.Breakers.Modules[i]
}

// feeding returns the modules feeding the bus from their inverters, skipping
// module skip.
func (v parallelView) feeding(skip int) []int {
	var out []int
	for i := range v.s.Modules {
		if i != skip && engine.InverterFeeding(v.s.Modules[i], v.s.Breakers.Modules[i]) {
			out = append(out, i)
		}
	}
	return out
}

const syncCloseLimit = 5.0

func parallelInterlocks() Table[parallelView] {
	return NewTable(
		maintenanceNeedsBypass[parallelView](),
		Rule[parallelView]{
			Role:    types.RoleMaintenance,
			Closing: true,
			Reason:  "an inverter is feeding the shared bus",
			Refuse: func(v parallelView, _ types.BreakerRef) bool {
				return len(v.feeding(-1)) > 0
			},
		},
		rectifierBlockedByMaintenance[parallelView](),
		Rule[parallelView]{
			Role:    types.RoleOutput,
			Closing: true,
			Reason:  "inverter must be NORMAL and synchronized within 5 degrees",
			Refuse: func(v parallelView, ref types.BreakerRef) bool {
				m := v.s.Modules[ref.Module]
				return m.Inverter.Status != types.StatusNormal || m.StaticSwitch.SyncError > syncCloseLimit
			},
		},
		Rule[parallelView]{
			Role:    types.RoleOutput,
			Closing: false,
			Reason:  "no other module or maintenance bypass would carry the load",
			Refuse: func(v parallelView, ref types.BreakerRef) bool {
				m := v.s.Modules[ref.Module]
				if m.StaticSwitch.Mode != types.TransferInverter {
					return false
				}
				return len(v.feeding(ref.Module)) == 0 && !v.s.Breakers.AnyMaintenanceClosed()
			},
		},
	)
}

// CheckParallelBreakerPermission reports whether breaker id of the parallel
// installation may be moved towards closing.
func (c *Controller) CheckParallelBreakerPermission(s types.ParallelSimulationState, id string, closing bool) types.Permission {
	return c.parallel.Check(parallelView{s: s}, id, closing)
}

// ToggleParallelBreaker moves breaker id if the interlocks permit it. A
// refused toggle returns s unchanged.
func (c *Controller) ToggleParallelBreaker(s types.ParallelSimulationState, id string, closing bool) (types.ParallelSimulationState, types.Permission) {
	p := c.CheckParallelBreakerPermission(s, id, closing)
	if !p.Allowed {
		return s, p
	}
	next := s.Clone()
	b, err := next.Breakers.With(id, closing)
	if err != nil {
		return s, types.Refuse(err.Error())
	}
	next.Breakers = b
	return next, p
}

// TickParallel advances the parallel installation by one tick. EPO short
// circuits mode selection for the tick.
func (c *Controller) TickParallel(prev types.ParallelSimulationState, nowMillis int64) types.ParallelSimulationState {
	s := prev
	if s.Faults.EmergencyPowerOff || s.Mode == types.ParallelEmergencyShutdown {
		s = parallelEmergencyShutdown(s.Clone())
	}
	next := c.engine.Parallel(s, nowMillis)
	next = countAvailable(next)
	if next.Mode != types.ParallelEmergencyShutdown {
		next = selectParallelMode(next)
	}
	next.Alarms = engine.ParallelAlarms(next)
	next.Acknowledged = acknowledged(next.Acknowledged, next.Alarms)
	return next
}

func parallelEmergencyShutdown(s types.ParallelSimulationState) types.ParallelSimulationState {
	s.Breakers = types.ParallelBreakers{}
	for i := range s.Modules {
		s.Modules[i] = shutdownModule(s.Modules[i])
	}
	s.Mode = types.ParallelEmergencyShutdown
	return s
}

// countAvailable derives the number of modules carrying load on their
// inverters and whether they can lose one and still carry it.
func countAvailable(s types.ParallelSimulationState) types.ParallelSimulationState {
	n := 0
	for i, m := range s.Modules {
		if m.Inverter.Status == types.StatusNormal && s.Breakers.Modules[i].Q4 && m.StaticSwitch.Mode == types.TransferInverter {
			n++
		}
	}
	s.AvailableModules = n
	s.RedundancyOK = float64(n)*s.Settings.ModuleRatingKW > s.Bus.LoadKW
	return s
}

// selectParallelMode evaluates the system mode in priority order. The
// incoming Mode is the previous tick's mode.
func selectParallelMode(s types.ParallelSimulationState) types.ParallelSimulationState {
	set := s.Settings
	live := engine.UtilityLive(s.Utility, s.Faults.UtilityLoss, set)
	for i := range s.Modules {
		s.Modules[i].Rectifier = followSupply(s.Modules[i].Rectifier, live && s.Breakers.Modules[i].Q1)
	}

	prev := s.Mode
	if prev == types.ParallelFaultLockout {
		return s
	}
	if s.Breakers.AnyMaintenanceClosed() {
		s.Mode = types.ParallelMaintBypass
		return s
	}

	v := parallelView{s: s}
	feeding := v.feeding(-1)
	if len(feeding) > 0 && engine.Overloaded(s.Bus.LoadKW, len(feeding), set) {
		return forceParallelBypass(s, live)
	}

	allBypass, bypassCarrying := true, false
	discharging, rectifying, undercharged := false, false, false
	active := false
	for i, m := range s.Modules {
		br := s.Breakers.Modules[i]
		allBypass = allBypass && m.StaticSwitch.Mode == types.TransferBypass
		bypassCarrying = bypassCarrying || engine.BypassCarrying(m, br)
		discharging = discharging || (engine.InverterFeeding(m, br) && m.Battery.Current < 0)
		rectifying = rectifying || rectifierSource(m, live && br.Q1, set)
		undercharged = undercharged || (br.QF1 && m.Battery.ChargeLevel < 100)
		active = active || m.Rectifier.Status.Active() || m.Inverter.Status.Active()
	}

	switch {
	case allBypass && bypassCarrying:
		s.Mode = types.ParallelStaticBypass
	case !live && discharging:
		s.Mode = types.ParallelBattery
	case s.AvailableModules == 1 && s.Bus.LoadKW > 0:
		s.Mode = types.ParallelDegraded
	case live && rectifying && undercharged && s.AvailableModules >= 1:
		s.Mode = types.ParallelRecharge
	case live && s.AvailableModules >= 1:
		s.Mode = types.ParallelOnline
	case prev.Feeding() && s.Bus.Voltage < 100 && s.Breakers.AnyLoadClosed():
		s.Mode = types.ParallelFaultLockout
	case bypassCarrying:
		// one module on bypass while its peer is out of service
		s.Mode = types.ParallelStaticBypass
	case active:
		s.Mode = types.ParallelBlackStart
	default:
		s.Mode = types.ParallelOff
	}
	return s
}

// forceParallelBypass latches every connected module on bypass, or locks out
// if the bypass supply is gone.
func forceParallelBypass(s types.ParallelSimulationState, live bool) types.ParallelSimulationState {
	for i := range s.Modules {
		br := s.Breakers.Modules[i]
		if !br.Q4 {
			continue
		}
		if !live || !br.Q2 {
			s.Mode = types.ParallelFaultLockout
			return s
		}
	}
	for i := range s.Modules {
		if s.Breakers.Modules[i].Q4 {
			s.Modules[i].StaticSwitch.ForceBypass = true
			s.Modules[i].StaticSwitch.Mode = types.TransferBypass
		}
	}
	s.Mode = types.ParallelStaticBypass
	return s
}

// ExecuteParallelCommand applies an operator command to the modules it
// targets. The command is refused as a whole if any targeted module refuses
// it.
func (c *Controller) ExecuteParallelCommand(s types.ParallelSimulationState, cmd types.Command) (types.ParallelSimulationState, string) {
	if err := cmd.Validate(); err != nil {
		return s, fmt.Sprintf("%s refused: %v", cmd.Type, err)
	}
	if s.Mode == types.ParallelEmergencyShutdown {
		if cmd.Type != types.CommandEPO {
			return s, fmt.Sprintf("%s ignored: emergency shutdown active, reset with EPO", cmd.Type)
		}
		next := s.Clone()
		next.Faults.EmergencyPowerOff = false
		next.Mode = types.ParallelOff
		next.Acknowledged = nil
		next.Alarms = engine.ParallelAlarms(next)
		return next, "EPO reset: installation de-energized and ready for black start"
	}

	next := s.Clone()
	switch cmd.Type {
	case types.CommandEPO:
		next.Faults.EmergencyPowerOff = true
		next = parallelEmergencyShutdown(next)
		next = countAvailable(next)
		next.Alarms = engine.ParallelAlarms(next)
		return next, "EMERGENCY POWER OFF: all breakers opened, all converters stopped"
	case types.CommandAckAlarm:
		next.Acknowledged = slices.Clone(next.Alarms)
		return next, fmt.Sprintf("%d alarm(s) acknowledged", len(next.Acknowledged))
	}

	live := engine.UtilityLive(next.Utility, next.Faults.UtilityLoss, next.Settings)
	var logs []string
	for _, i := range cmd.Modules() {
		br := next.Breakers.Modules[i]
		name := "module " + types.ModuleName(i)
		if cmd.Type == types.CommandReturnMaint && br.Q3 {
			return s, fmt.Sprintf("%s refused: %s: open Q3_%s before returning from maintenance bypass", cmd.Type, name, types.ModuleName(i))
		}
		maint := next.Breakers.AnyMaintenanceClosed()
		peerInverter := len(cmd.Modules()) == 1 && len(parallelView{s: next}.feeding(i)) > 0
		m, msg, ok := moduleCommand(cmd.Type, next.Modules[i], moduleContext{
			br:           br,
			f:            next.Faults.Modules[i],
			live:         live,
			covered:      (live && br.Q2) || maint || peerInverter,
			maint:        maint,
			peerInverter: peerInverter,
			set:          next.Settings,
		})
		if !ok {
			return s, fmt.Sprintf("%s refused: %s: %s", cmd.Type, name, msg)
		}
		next.Modules[i] = m
		logs = append(logs, name+": "+msg)
	}
	return next, strings.Join(logs, "; ")
}

// InjectParallelFaults replaces the fault flags and re-derives alarms.
func (c *Controller) InjectParallelFaults(s types.ParallelSimulationState, f types.ParallelFaults) types.ParallelSimulationState {
	next := s.Clone()
	next.Faults = f
	next.Alarms = engine.ParallelAlarms(next)
	next.Acknowledged = acknowledged(next.Acknowledged, next.Alarms)
	return next
}
