package types

import "slices"

// Component is the state of a rectifier or inverter. Commanded records the
// operator's run intent so a rectifier stopped by input loss restarts on its
// own when the input returns.
type Component struct {
	Status      ComponentStatus `json:"status"`
	Commanded   bool            `json:"commanded"`
	Temperature float64         `json:"temperature"`
	LoadPct     float64         `json:"loadPct"`
	Efficiency  float64         `json:"efficiency"`
	VoltageOut  float64         `json:"voltageOut"`
	Frequency   float64         `json:"frequency,omitempty"`
}

// StaticSwitch is the static transfer switch selecting the load source.
type StaticSwitch struct {
	Mode        TransferMode    `json:"mode"`
	Status      ComponentStatus `json:"status"`
	SyncError   float64         `json:"syncError"`
	ForceBypass bool            `json:"forceBypass"`
}

// Battery is the battery string of a module. Current is positive while
// charging and negative while discharging. CycleCount is in equivalent full
// cycles and EffectiveCapacityAh is derived every tick.
type Battery struct {
	ChargeLevel         float64 `json:"chargeLevel"`
	Temp                float64 `json:"temp"`
	Health              float64 `json:"health"`
	Voltage             float64 `json:"voltage"`
	Current             float64 `json:"current"`
	CycleCount          float64 `json:"cycleCount"`
	NominalCapacityAh   float64 `json:"nominalCapacityAh"`
	PeukertExponent     float64 `json:"peukertExponent"`
	EffectiveCapacityAh float64 `json:"effectiveCapacityAh"`
}

// ModuleState is everything the physics model tracks for one module.
// OutputVoltage and OutputCurrent are measured at the module terminals before
// the output breaker.
type ModuleState struct {
	Rectifier     Component    `json:"rectifier"`
	Inverter      Component    `json:"inverter"`
	StaticSwitch  StaticSwitch `json:"staticSwitch"`
	Battery       Battery      `json:"battery"`
	DCBusVoltage  float64      `json:"dcBusVoltage"`
	OutputVoltage float64      `json:"outputVoltage"`
	OutputCurrent float64      `json:"outputCurrent"`
	LoadKW        float64      `json:"loadKW"`
}

// Utility is the raw utility supply feeding the installation. Instructors
// and scenarios set it directly; the measured input is derived from it.
type Utility struct {
	Voltage   float64 `json:"voltage"`
	Frequency float64 `json:"frequency"`
}

// Bus is the measured state of the critical load bus.
type Bus struct {
	InputVoltage   float64 `json:"inputVoltage"`
	InputFrequency float64 `json:"inputFrequency"`
	Voltage        float64 `json:"voltage"`
	Frequency      float64 `json:"frequency"`
	Current        float64 `json:"current"`
	LoadKW         float64 `json:"loadKW"`
}

// SimulationState is one immutable snapshot of a single module installation.
type SimulationState struct {
	Time         int64       `json:"time"`
	Tick         uint64      `json:"tick"`
	Seed         uint64      `json:"seed"`
	Mode         Mode        `json:"mode"`
	Breakers     Breakers    `json:"breakers"`
	Utility      Utility     `json:"utility"`
	Bus          Bus         `json:"bus"`
	Module       ModuleState `json:"module"`
	Faults       Faults      `json:"faults"`
	Alarms       []string    `json:"alarms"`
	Acknowledged []string    `json:"acknowledged,omitempty"`
	Settings     Settings    `json:"settings"`
}

// Clone returns a copy that shares no slices with s.
func (s SimulationState) Clone() SimulationState {
	s.Alarms = slices.Clone(s.Alarms)
	s.Acknowledged = slices.Clone(s.Acknowledged)
	return s
}

// ParallelSimulationState is one immutable snapshot of the two module
// parallel installation. SafetyIsolation records modules whose output
// breaker was opened by the safety rule during the tick that produced it.
type ParallelSimulationState struct {
	Time             int64                    `json:"time"`
	Tick             uint64                   `json:"tick"`
	Seed             uint64                   `json:"seed"`
	Mode             ParallelMode             `json:"systemMode"`
	Breakers         ParallelBreakers         `json:"breakers"`
	Utility          Utility                  `json:"utility"`
	Bus              Bus                      `json:"bus"`
	Modules          [ModuleCount]ModuleState `json:"modules"`
	Faults           ParallelFaults           `json:"faults"`
	AvailableModules int                      `json:"availableModules"`
	RedundancyOK     bool                     `json:"redundancyOK"`
	SafetyIsolation  [ModuleCount]bool        `json:"safetyIsolation"`
	Alarms           []string                 `json:"alarms"`
	Acknowledged     []string                 `json:"acknowledged,omitempty"`
	Settings         Settings                 `json:"settings"`
}

// Clone returns a copy that shares no slices with s.
func (s ParallelSimulationState) Clone() ParallelSimulationState {
	s.Alarms = slices.Clone(s.Alarms)
	s.Acknowledged = slices.Clone(s.Acknowledged)
	return s
}

// Permission is the outcome of an interlock check.
type Permission struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the permission granted when no interlock refuses the operation.
var Allow = Permission{Allowed: true}

// Refuse returns a refusal with reason.
func Refuse(reason string) Permission {
	return Permission{Reason: reason}
}
