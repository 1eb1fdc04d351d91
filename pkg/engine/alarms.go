package engine

import (
	"github.com/upstwin/upstwin/pkg/types"
)

const (
	componentOvertemp  = 85.0
	batteryOvertemp    = 45.0
	batteryLowPercent  = 20.0
	overloadRatio      = 1.10
	criticalBusVoltage = 100.0
)

// Overloaded returns true if loadKW exceeds the overload ratio of the rating
// of the given number of feeding modules.
func Overloaded(loadKW float64, feeding int, set types.Settings) bool {
	if feeding < 1 {
		feeding = 1
	}
	return loadKW > overloadRatio*set.ModuleRatingKW*float64(feeding)
}

// inputFail returns true if the module's rectifier has lost its supply while
// it is expected to run.
func inputFail(m types.ModuleState, br types.ModuleBreakers, live bool) bool {
	if !live {
		return true
	}
	return !br.Q1 && (m.Rectifier.Commanded || m.Inverter.Status.Running())
}

// moduleAlarms returns the component checks shared by both topologies.
func moduleAlarms(m types.ModuleState, set types.Settings) []string {
	var a []string
	if m.Rectifier.Status == types.StatusOff && m.Inverter.Status.Running() {
		a = append(a, "RECTIFIER OFF")
	}
	if m.Battery.Current < 0 {
		a = append(a, "BATTERY DISCHARGE")
	}
	if m.Battery.ChargeLevel < batteryLowPercent {
		a = append(a, "BATTERY LOW")
	}
	if m.Rectifier.Temperature > componentOvertemp {
		a = append(a, "RECTIFIER OVERTEMP")
	}
	if m.Inverter.Temperature > componentOvertemp {
		a = append(a, "INVERTER OVERTEMP")
	}
	if m.Battery.Temp > batteryOvertemp {
		a = append(a, "BATTERY OVERTEMP")
	}
	if m.Rectifier.Status == types.StatusFault {
		a = append(a, "RECTIFIER FAULT")
	}
	if m.Inverter.Status == types.StatusFault {
		a = append(a, "INVERTER FAULT")
	}
	return a
}

func injected(names []string, prefix string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, prefix+"FAULT INJECTED: "+n)
	}
	return out
}

// SingleAlarms derives the ordered alarm list of a single module snapshot.
// The list is recomputed from scratch; consumers diff successive lists to
// find transitions.
func SingleAlarms(s types.SimulationState) []string {
	set := s.Settings
	m := s.Module
	br := s.Breakers
	live := s.Bus.InputVoltage >= set.UtilityLiveVoltage && !s.Faults.UtilityLoss

	var a []string
	if inputFail(m, br.ModuleBreakers, live) {
		a = append(a, "INPUT FAIL")
	}
	a = append(a, moduleAlarms(m, set)...)
	if InverterFeeding(m, br.ModuleBreakers) && !br.Q3 && Overloaded(s.Bus.LoadKW, 1, set) {
		a = append(a, "OVERLOAD")
	}
	if BypassCarrying(m, br.ModuleBreakers) {
		a = append(a, "LOAD ON BYPASS")
	}
	if s.Bus.Voltage < criticalBusVoltage && br.AnyLoadClosed() {
		a = append(a, "CRITICAL LOAD LOSS")
	}
	if s.Faults.EmergencyPowerOff {
		a = append(a, "EMERGENCY POWER OFF")
	}
	if s.Faults.UtilityLoss {
		a = append(a, injected([]string{"UTILITY LOSS"}, "")...)
	}
	a = append(a, injected(s.Faults.ModuleFaults.Active(), "")...)
	return a
}

// ParallelAlarms derives the ordered alarm list of a parallel snapshot.
// Module alarms are prefixed with the module they belong to.
func ParallelAlarms(s types.ParallelSimulationState) []string {
	set := s.Settings
	live := s.Bus.InputVoltage >= set.UtilityLiveVoltage && !s.Faults.UtilityLoss

	var a []string
	if !live {
		a = append(a, "INPUT FAIL")
	}
	feeding := 0
	for i, m := range s.Modules {
		prefix := "MODULE " + types.ModuleName(i) + ": "
		br := s.Breakers.Modules[i]
		if live && inputFail(m, br, live) {
			a = append(a, prefix+"INPUT FAIL")
		}
		for _, ma := range moduleAlarms(m, set) {
			a = append(a, prefix+ma)
		}
		if InverterFeeding(m, br) {
			feeding++
		}
	}
	for i, isolated := range s.SafetyIsolation {
		if isolated {
			a = append(a, "SAFETY ISOLATION: MODULE "+types.ModuleName(i))
		}
	}
	if feeding > 0 && !s.Breakers.AnyMaintenanceClosed() && Overloaded(s.Bus.LoadKW, feeding, set) {
		a = append(a, "OVERLOAD")
	}
	if s.Bus.LoadKW > 0 && s.AvailableModules == 1 {
		a = append(a, "REDUNDANCY LOST")
	}
	if s.Bus.LoadKW > 0 && s.AvailableModules > 0 && !s.RedundancyOK {
		a = append(a, "INSUFFICIENT CAPACITY")
	}
	if feeding == 0 && !s.Breakers.AnyMaintenanceClosed() {
		for i, m := range s.Modules {
			if BypassCarrying(m, s.Breakers.Modules[i]) {
				a = append(a, "LOAD ON BYPASS")
				break
			}
		}
	}
	if s.Bus.Voltage < criticalBusVoltage && s.Breakers.AnyLoadClosed() {
		a = append(a, "CRITICAL LOAD LOSS")
	}
	if s.Faults.EmergencyPowerOff {
		a = append(a, "EMERGENCY POWER OFF")
	}
	if s.Faults.UtilityLoss {
		a = append(a, injected([]string{"UTILITY LOSS"}, "")...)
	}
	for i, f := range s.Faults.Modules {
		a = append(a, injected(f.Active(), "MODULE "+types.ModuleName(i)+": ")...)
	}
	return a
}
