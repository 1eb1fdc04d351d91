package controller

import (
	"fmt"
	"slices"

	"github.com/upstwin/upstwin/pkg/engine"
	"github.com/upstwin/upstwin/pkg/types"
)

type singleView struct {
	s types.SimulationState
}

func (v singleView) Locate(id string) (types.BreakerRef, error) {
	return v.s.Breakers.Locate(id)
}

func (v singleView) EmergencyShutdown() bool {
	return v.s.Mode == types.ModeEmergencyShutdown || v.s.Faults.EmergencyPowerOff
}

func (v singleView) Module(int) (types.ModuleState, types.ModuleBreakers) {
	return v.s.Module, v.s.Breakers.ModuleBreakers
}

func singleInterlocks() Table[singleView] {
	return NewTable(
		maintenanceNeedsBypass[singleView](),
		rectifierBlockedByMaintenance[singleView](),
		Rule[singleView]{
			Role:    types.RoleOutput,
			Closing: false,
			Reason:  "load is on inverter and the maintenance bypass is open",
			Refuse: func(v singleView, _ types.BreakerRef) bool {
				return v.s.Module.StaticSwitch.Mode == types.TransferInverter && !v.s.Breakers.Q3
			},
		},
	)
}

// CheckBreakerPermission reports whether breaker id may be moved towards
// closing. It must be consulted before applying a toggle.
func (c *Controller) CheckBreakerPermission(s types.SimulationState, id string, closing bool) types.Permission {
	return c.single.Check(singleView{s: s}, id, closing)
}

// ToggleBreaker moves breaker id if the interlocks permit it. A refused toggle
// returns s unchanged.
func (c *Controller) ToggleBreaker(s types.SimulationState, id string, closing bool) (types.SimulationState, types.Permission) {
	p := c.CheckBreakerPermission(s, id, closing)
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

// Tick advances the installation by one tick: emergency shutdown, physics,
// mode selection and alarm derivation, in that order.
func (c *Controller) Tick(prev types.SimulationState, nowMillis int64) types.SimulationState {
	s := prev
	if s.Faults.EmergencyPowerOff || s.Mode == types.ModeEmergencyShutdown {
		s = emergencyShutdown(s.Clone())
	}
	next := c.engine.Single(s, nowMillis)
	if next.Mode != types.ModeEmergencyShutdown {
		next = selectMode(next)
	}
	next.Alarms = engine.SingleAlarms(next)
	next.Acknowledged = acknowledged(next.Acknowledged, next.Alarms)
	return next
}

func emergencyShutdown(s types.SimulationState) types.SimulationState {
	s.Breakers = types.Breakers{}
	s.Module = shutdownModule(s.Module)
	s.Mode = types.ModeEmergencyShutdown
	return s
}

// selectMode evaluates the single module state machine against the
// electrical state the physics tick produced. The incoming Mode is the
// previous tick's mode.
func selectMode(s types.SimulationState) types.SimulationState {
	set := s.Settings
	br := s.Breakers
	live := engine.UtilityLive(s.Utility, s.Faults.UtilityLoss, set)
	inputOK := live && br.Q1
	bypass := live && br.Q2

	m := s.Module
	m.Rectifier = followSupply(m.Rectifier, inputOK)
	s.Module = m

	prev := s.Mode
	if prev == types.ModeFaultLockout {
		return s
	}
	if br.Q3 {
		s.Mode = types.ModeMaintBypass
		return s
	}

	onInverter := engine.InverterFeeding(m, br.ModuleBreakers)
	if onInverter && engine.Overloaded(s.Bus.LoadKW, 1, set) {
		return forceBypass(s, bypass)
	}
	batteryOK := br.QF1 && m.Battery.ChargeLevel > 0
	if prev == types.ModeBattery && !batteryOK && !rectifierSource(m, inputOK, set) {
		return forceBypass(s, bypass)
	}
	if prev.Feeding() && s.Bus.Voltage < 100 && br.AnyLoadClosed() {
		s.Mode = types.ModeFaultLockout
		return s
	}

	switch {
	case onInverter && rectifierSource(m, inputOK, set):
		s.Mode = types.ModeOnline
		if br.QF1 && m.Battery.ChargeLevel < 100 {
			s.Mode = types.ModeRecharge
		}
	case onInverter:
		s.Mode = types.ModeBattery
	case engine.BypassCarrying(m, br.ModuleBreakers):
		s.Mode = types.ModeStaticBypass
	case m.Rectifier.Status.Active() || m.Inverter.Status.Active():
		s.Mode = types.ModeBlackStart
	default:
		s.Mode = types.ModeOff
	}
	return s
}

// forceBypass latches the static switch on bypass, or locks out if there is
// no bypass to go to.
func forceBypass(s types.SimulationState, bypass bool) types.SimulationState {
	if !bypass {
		s.Mode = types.ModeFaultLockout
		return s
	}
	s.Module.StaticSwitch.ForceBypass = true
	s.Module.StaticSwitch.Mode = types.TransferBypass
	s.Mode = types.ModeStaticBypass
	return s
}

// ExecuteCommand applies an operator command and returns the new state with a
// log line for the operator. Refused commands return s unchanged. While in
// emergency shutdown only EPO is accepted, and it resets the installation to
// a de-energized OFF state.
func (c *Controller) ExecuteCommand(s types.SimulationState, cmd types.Command) (types.SimulationState, string) {
	if err := cmd.Validate(); err != nil {
		return s, fmt.Sprintf("%s refused: %v", cmd.Type, err)
	}
	if s.Mode == types.ModeEmergencyShutdown {
		if cmd.Type != types.CommandEPO {
			return s, fmt.Sprintf("%s ignored: emergency shutdown active, reset with EPO", cmd.Type)
		}
		next := s.Clone()
		next.Faults.EmergencyPowerOff = false
		next.Mode = types.ModeOff
		next.Acknowledged = nil
		next.Alarms = engine.SingleAlarms(next)
		return next, "EPO reset: installation de-energized and ready for black start"
	}

	next := s.Clone()
	switch cmd.Type {
	case types.CommandEPO:
		next.Faults.EmergencyPowerOff = true
		next = emergencyShutdown(next)
		next.Alarms = engine.SingleAlarms(next)
		return next, "EMERGENCY POWER OFF: all breakers opened, all converters stopped"
	case types.CommandAckAlarm:
		next.Acknowledged = slices.Clone(next.Alarms)
		return next, fmt.Sprintf("%d alarm(s) acknowledged", len(next.Acknowledged))
	case types.CommandReturnMaint:
		if next.Breakers.Q3 {
			return s, fmt.Sprintf("%s refused: open Q3 before returning from maintenance bypass", cmd.Type)
		}
	}

	live := engine.UtilityLive(next.Utility, next.Faults.UtilityLoss, next.Settings)
	br := next.Breakers.ModuleBreakers
	m, msg, ok := moduleCommand(cmd.Type, next.Module, moduleContext{
		br:      br,
		f:       next.Faults.ModuleFaults,
		live:    live,
		covered: (live && br.Q2) || br.Q3,
		maint:   br.Q3,
		set:     next.Settings,
	})
	if !ok {
		return s, fmt.Sprintf("%s refused: %s", cmd.Type, msg)
	}
	next.Module = m
	return next, msg
}

// InjectFaults replaces the fault flags and re-derives alarms. Faults act on
// the physics from the next tick on.
func (c *Controller) InjectFaults(s types.SimulationState, f types.Faults) types.SimulationState {
	next := s.Clone()
	next.Faults = f
	next.Alarms = engine.SingleAlarms(next)
	next.Acknowledged = acknowledged(next.Acknowledged, next.Alarms)
	return next
}
