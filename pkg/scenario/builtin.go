// Package scenario builds named starting configurations for both topologies.
package scenario

import (
	"sort"

	"github.com/upstwin/upstwin/pkg/engine"
	"github.com/upstwin/upstwin/pkg/types"
)

// DefaultSeed seeds scenarios that do not name one.
const DefaultSeed = 1

const (
	ColdStart         = "cold-start"
	NormalOnline      = "normal-online"
	MaintenanceBypass = "maintenance-bypass"
	BatteryDischarge  = "battery-discharge"

	ParallelColdStart = "parallel-cold-start"
	ParallelOnline    = "parallel-online"
	ParallelDegraded  = "parallel-degraded"
)

type builtin struct {
	description string
	topology    types.Topology
	single      func(types.Settings) types.SimulationState
	parallel    func(types.Settings) types.ParallelSimulationState
}

var builtins = map[string]builtin{
	ColdStart: {
		description: "De-energized module with utility available, all breakers open",
		topology:    types.TopologySingle,
		single:      coldStart,
	},
	NormalOnline: {
		description: "Double conversion online, battery floating at 100%",
		topology:    types.TopologySingle,
		single:      normalOnline,
	},
	MaintenanceBypass: {
		description: "Load on the maintenance bypass, converters stopped",
		topology:    types.TopologySingle,
		single:      maintenanceBypass,
	},
	BatteryDischarge: {
		description: "Utility failed, inverter running from a partly discharged battery",
		topology:    types.TopologySingle,
		single:      batteryDischarge,
	},
	ParallelColdStart: {
		description: "Both modules de-energized with utility available",
		topology:    types.TopologyParallel,
		parallel:    parallelColdStart,
	},
	ParallelOnline: {
		description: "Both modules online sharing the load",
		topology:    types.TopologyParallel,
		parallel:    parallelOnline,
	},
	ParallelDegraded: {
		description: "Module B out of service, module A carrying the load alone",
		topology:    types.TopologyParallel,
		parallel:    parallelDegraded,
	},
}

// Builtins returns the built-in scenario descriptors sorted by name.
func Builtins() []types.Scenario {
	out := make([]types.Scenario, 0, len(builtins))
	for name, b := range builtins {
		out = append(out, types.Scenario{
			Name:        name,
			Description: b.description,
			Topology:    b.topology,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Single returns the built-in single module scenario with the given name.
func Single(name string) (types.SimulationState, bool) {
	b, ok := builtins[name]
	if !ok || b.single == nil {
		return types.SimulationState{}, false
	}
	s := b.single(types.DefaultSettings())
	s.Seed = DefaultSeed
	s.Alarms = engine.SingleAlarms(s)
	return s, true
}

// Parallel returns the built-in parallel scenario with the given name.
func Parallel(name string) (types.ParallelSimulationState, bool) {
	b, ok := builtins[name]
	if !ok || b.parallel == nil {
		return types.ParallelSimulationState{}, false
	}
	s := b.parallel(types.DefaultSettings())
	s.Seed = DefaultSeed
	s.Alarms = engine.ParallelAlarms(s)
	return s, true
}

func nominalUtility(set types.Settings) types.Utility {
	return types.Utility{Voltage: set.NominalInputVoltage, Frequency: set.NominalFrequency}
}

func fullBattery(set types.Settings) types.Battery {
	return types.Battery{
		ChargeLevel:         100,
		Temp:                set.AmbientTemp,
		Health:              100,
		Voltage:             engine.OpenCircuitVoltage(100, set),
		NominalCapacityAh:   set.BatteryCapacityAh,
		PeukertExponent:     set.PeukertExponent,
		EffectiveCapacityAh: set.BatteryCapacityAh,
	}
}

func coldModule(set types.Settings) types.ModuleState {
	return types.ModuleState{
		Rectifier:    types.Component{Status: types.StatusOff, Temperature: set.AmbientTemp},
		Inverter:     types.Component{Status: types.StatusOff, Temperature: set.AmbientTemp},
		StaticSwitch: types.StaticSwitch{Mode: types.TransferBypass, Status: types.StatusOff},
		Battery:      fullBattery(set),
	}
}

func onlineModule(set types.Settings) types.ModuleState {
	m := coldModule(set)
	m.Rectifier = types.Component{
		Status:      types.StatusNormal,
		Commanded:   true,
		Temperature: set.AmbientTemp,
		VoltageOut:  set.DCNominalVoltage,
	}
	m.Inverter = types.Component{
		Status:      types.StatusNormal,
		Commanded:   true,
		Temperature: set.AmbientTemp,
		VoltageOut:  set.InverterTargetVoltage,
		Frequency:   set.NominalFrequency,
	}
	m.StaticSwitch = types.StaticSwitch{Mode: types.TransferInverter, Status: types.StatusNormal}
	m.DCBusVoltage = set.DCNominalVoltage
	m.OutputVoltage = set.InverterTargetVoltage
	m.Battery.Voltage = set.DCNominalVoltage
	return m
}

func allLoads() [types.LoadBranches]bool {
	var l [types.LoadBranches]bool
	for i := range l {
		l[i] = true
	}
	return l
}

// energizedBus returns the bus measurements with every load branch fed at
// nominal voltage.
func energizedBus(set types.Settings, u types.Utility) types.Bus {
	b := types.Bus{
		InputVoltage:   u.Voltage,
		InputFrequency: u.Frequency,
		Voltage:        set.InverterTargetVoltage,
		Frequency:      set.NominalFrequency,
	}
	for i, kw := range set.LoadBranchKW {
		b.LoadKW += kw
		b.Current += set.BranchCurrent(i)
	}
	return b
}

func coldStart(set types.Settings) types.SimulationState {
	u := nominalUtility(set)
	return types.SimulationState{
		Mode:     types.ModeOff,
		Utility:  u,
		Bus:      types.Bus{InputVoltage: u.Voltage, InputFrequency: u.Frequency},
		Module:   coldModule(set),
		Settings: set,
	}
}

func normalOnline(set types.Settings) types.SimulationState {
	s := coldStart(set)
	s.Mode = types.ModeOnline
	s.Breakers = types.Breakers{
		ModuleBreakers: types.ModuleBreakers{Q1: true, Q2: true, Q4: true, QF1: true},
		Load:           allLoads(),
	}
	s.Module = onlineModule(set)
	s.Bus = energizedBus(set, s.Utility)
	s.Module.LoadKW = s.Bus.LoadKW
	s.Module.OutputCurrent = s.Bus.Current
	return s
}

func maintenanceBypass(set types.Settings) types.SimulationState {
	s := coldStart(set)
	s.Mode = types.ModeMaintBypass
	s.Breakers = types.Breakers{
		ModuleBreakers: types.ModuleBreakers{Q2: true, Q3: true},
		Load:           allLoads(),
	}
	s.Module.StaticSwitch = types.StaticSwitch{Mode: types.TransferBypass, Status: types.StatusNormal, ForceBypass: true}
	s.Bus = energizedBus(set, s.Utility)
	s.Bus.Voltage = s.Utility.Voltage
	return s
}

func batteryDischarge(set types.Settings) types.SimulationState {
	s := normalOnline(set)
	s.Mode = types.ModeBattery
	s.Utility = types.Utility{}
	s.Bus.InputVoltage = 0
	s.Bus.InputFrequency = 0
	s.Module.Rectifier.Status = types.StatusOff
	s.Module.Rectifier.VoltageOut = 0
	s.Module.Battery.ChargeLevel = 45
	s.Module.DCBusVoltage = engine.OpenCircuitVoltage(45, set)
	s.Module.Battery.Voltage = s.Module.DCBusVoltage
	return s
}

func parallelColdStart(set types.Settings) types.ParallelSimulationState {
	u := nominalUtility(set)
	s := types.ParallelSimulationState{
		Mode:     types.ParallelOff,
		Utility:  u,
		Bus:      types.Bus{InputVoltage: u.Voltage, InputFrequency: u.Frequency},
		Settings: set,
	}
	for i := range s.Modules {
		s.Modules[i] = coldModule(set)
	}
	return s
}

func parallelOnline(set types.Settings) types.ParallelSimulationState {
	s := parallelColdStart(set)
	s.Mode = types.ParallelOnline
	s.Bus = energizedBus(set, s.Utility)
	for i := range s.Modules {
		s.Breakers.Modules[i] = types.ModuleBreakers{Q1: true, Q2: true, Q4: true, QF1: true}
		s.Modules[i] = onlineModule(set)
		s.Modules[i].LoadKW = s.Bus.LoadKW / types.ModuleCount
		s.Modules[i].OutputCurrent = s.Bus.Current / types.ModuleCount
	}
	s.Breakers.Load = allLoads()
	s.AvailableModules = types.ModuleCount
	s.RedundancyOK = true
	return s
}

func parallelDegraded(set types.Settings) types.ParallelSimulationState {
	s := parallelOnline(set)
	s.Mode = types.ParallelDegraded
	s.Breakers.Modules[1] = types.ModuleBreakers{}
	s.Modules[1] = coldModule(set)
	s.Modules[0].LoadKW = s.Bus.LoadKW
	s.Modules[0].OutputCurrent = s.Bus.Current
	s.AvailableModules = 1
	s.RedundancyOK = set.ModuleRatingKW > s.Bus.LoadKW
	return s
}
