package engine

import (
	"github.com/upstwin/upstwin/pkg/types"
)

// loadVoltageThreshold is the bus voltage below which loads draw nothing.
const loadVoltageThreshold = 200.0

// outputBus energizes the critical load bus from the modules and returns the
// indexes of the modules feeding it from their inverters.
func outputBus(mods []types.ModuleState, brs []types.ModuleBreakers, load [types.LoadBranches]bool, in supply, set types.Settings) (types.Bus, []int) {
	bus := types.Bus{
		InputVoltage:   in.voltage,
		InputFrequency: in.frequency,
	}

	maintenance := false
	for _, br := range brs {
		maintenance = maintenance || br.Q3
	}

	var feeders []int
	switch {
	case maintenance:
		// maintenance bypass ties the bus straight to the utility
		bus.Voltage = in.voltage
		bus.Frequency = in.frequency
	default:
		var sum float64
		for i := range mods {
			if InverterFeeding(mods[i], brs[i]) {
				feeders = append(feeders, i)
				sum += mods[i].Inverter.VoltageOut
			}
		}
		if len(feeders) > 0 {
			bus.Voltage = sum / float64(len(feeders))
			bus.Frequency = mods[feeders[0]].Inverter.Frequency
			break
		}
		for i := range mods {
			if brs[i].Q4 && brs[i].Q2 && mods[i].StaticSwitch.Mode == types.TransferBypass && in.live {
				bus.Voltage = in.voltage
				bus.Frequency = in.frequency
				break
			}
		}
	}

	if bus.Voltage > loadVoltageThreshold {
		for i, closed := range load {
			if closed {
				bus.LoadKW += set.LoadBranchKW[i]
				bus.Current += set.BranchCurrent(i)
			}
		}
	}
	return bus, feeders
}

// BypassCarrying returns true if the module passes utility power to the bus
// through its static switch.
func BypassCarrying(m types.ModuleState, br types.ModuleBreakers) bool {
	return br.Q4 && !br.Q3 && m.StaticSwitch.Mode == types.TransferBypass && m.OutputVoltage > 0
}
