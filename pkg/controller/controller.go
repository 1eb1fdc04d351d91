// Package controller runs the operating mode state machines, breaker
// interlocks and operator commands of the single module and parallel
// installations on top of the physics engine.
package controller

import (
	"fmt"
	"slices"
	"strings"

	"github.com/upstwin/upstwin/pkg/engine"
	"github.com/upstwin/upstwin/pkg/types"
)

// Controller owns state evolution for both topologies. It holds no
// per-session state and is safe for concurrent use.
type Controller struct {
	engine   *engine.Engine
	single   Table[singleView]
	parallel Table[parallelView]
}

// NewController creates a new Controller.
func NewController(opts ...engine.Option) *Controller {
	return &Controller{
		engine:   engine.New(opts...),
		single:   singleInterlocks(),
		parallel: parallelInterlocks(),
	}
}

// Applied reports whether an ExecuteCommand message describes a command that
// took effect.
func Applied(cmd types.Command, msg string) bool {
	prefix := string(cmd.Type) + " "
	return !strings.HasPrefix(msg, prefix+"refused: ") && !strings.HasPrefix(msg, prefix+"ignored: ")
}

// acknowledged keeps the acknowledgements of alarms that are still active.
func acknowledged(acks, alarms []string) []string {
	var out []string
	for _, a := range acks {
		if slices.Contains(alarms, a) {
			out = append(out, a)
		}
	}
	return out
}

// followSupply stops a rectifier that lost its input and walks a commanded
// rectifier back in once the input returns.
func followSupply(r types.Component, inputOK bool) types.Component {
	switch {
	case !inputOK && r.Status.Active():
		r.Status = types.StatusOff
	case inputOK && r.Status == types.StatusOff && r.Commanded:
		r.Status = types.StatusStarting
	}
	return r
}

// rectifierSource mirrors the engine's DC source selection.
func rectifierSource(m types.ModuleState, inputOK bool, set types.Settings) bool {
	return inputOK && m.Rectifier.Status.Active() && m.Rectifier.VoltageOut > set.DCSourceThreshold
}

func shutdownModule(m types.ModuleState) types.ModuleState {
	for _, c := range []*types.Component{&m.Rectifier, &m.Inverter} {
		c.Status = types.StatusOff
		c.Commanded = false
	}
	m.StaticSwitch.ForceBypass = false
	return m
}

// moduleContext is what a module command needs to know beyond the module
// itself. covered is true if something other than this module's inverter can
// carry the load. maint is true while a maintenance bypass is closed onto the
// output bus, and peerInverter while another module feeds that bus from its
// inverter.
type moduleContext struct {
	br           types.ModuleBreakers
	f            types.ModuleFaults
	live         bool
	covered      bool
	maint        bool
	peerInverter bool
	set          types.Settings
}

// moduleCommand applies a component or transfer command to one module. ok is
// false if the command was refused, in which case the module is unchanged.
func moduleCommand(cmd types.CommandType, m types.ModuleState, mc moduleContext) (types.ModuleState, string, bool) {
	br, f, live, set := mc.br, mc.f, mc.live, mc.set
	switch cmd {
	case types.CommandRectifierOn:
		r := m.Rectifier
		if r.Status == types.StatusFault {
			return m, "rectifier is in FAULT: clear the fault and reset first", false
		}
		r.Commanded = true
		msg := "rectifier already running"
		if r.Status == types.StatusOff {
			if live && br.Q1 {
				r.Status = types.StatusStarting
				msg = "rectifier walk-in started"
			} else {
				msg = "rectifier armed, waiting for input supply"
			}
		}
		m.Rectifier = r
		return m, msg, true

	case types.CommandRectifierOff:
		r := m.Rectifier
		r.Commanded = false
		if r.Status != types.StatusFault {
			r.Status = types.StatusOff
		}
		m.Rectifier = r
		return m, "rectifier stopped", true

	case types.CommandInverterOn:
		inv := m.Inverter
		if inv.Status == types.StatusFault {
			return m, "inverter is in FAULT: clear the fault and reset first", false
		}
		if m.DCBusVoltage <= set.DCMinimumVoltage {
			return m, fmt.Sprintf("DC bus at %.0f V, inverter needs more than %.0f V", m.DCBusVoltage, set.DCMinimumVoltage), false
		}
		inv.Commanded = true
		msg := "inverter already running"
		if inv.Status == types.StatusOff {
			inv.Status = types.StatusStarting
			msg = "inverter ramp started"
		}
		m.Inverter = inv
		return m, msg, true

	case types.CommandInverterOff:
		if engine.InverterFeeding(m, br) && !mc.covered {
			return m, "inverter is carrying the load and no bypass is available", false
		}
		inv := m.Inverter
		inv.Commanded = false
		if inv.Status != types.StatusFault {
			inv.Status = types.StatusOff
		}
		m.Inverter = inv
		return m, "inverter stopped", true

	case types.CommandTransferBypass, types.CommandTransferMaint:
		if !(live && br.Q2) {
			return m, "bypass supply not available", false
		}
		if mc.peerInverter && br.Q4 {
			return m, "peer inverter on shared bus: transfer all modules together", false
		}
		m.StaticSwitch.ForceBypass = true
		m.StaticSwitch.Mode = types.TransferBypass
		if cmd == types.CommandTransferMaint {
			return m, "load transferred to bypass: close Q3 to complete maintenance bypass", true
		}
		return m, "load transferred to bypass", true

	case types.CommandTransferInverter, types.CommandReturnMaint:
		if mc.maint {
			return m, "maintenance bypass is closed: open Q3 before returning to inverter", false
		}
		m.StaticSwitch.ForceBypass = false
		return m, "retransfer armed: load returns to inverter once synchronized", true

	case types.CommandFaultReset:
		var reset []string
		if m.Rectifier.Status == types.StatusFault && !f.RectifierFault {
			m.Rectifier.Status = types.StatusOff
			m.Rectifier.Commanded = false
			reset = append(reset, "rectifier")
		}
		if m.Inverter.Status == types.StatusFault && !f.InverterFault {
			m.Inverter.Status = types.StatusOff
			m.Inverter.Commanded = false
			reset = append(reset, "inverter")
		}
		if len(reset) == 0 {
			return m, "no cleared fault to reset", false
		}
		return m, strings.Join(reset, " and ") + " reset to OFF", true
	}
	return m, fmt.Sprintf("%s is not a module command", cmd), false
}
