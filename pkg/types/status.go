package types

// ComponentStatus is the operating status of a rectifier, inverter or static switch.
type ComponentStatus string

const (
	StatusOff      ComponentStatus = "OFF"
	StatusStarting ComponentStatus = "STARTING"
	StatusNormal   ComponentStatus = "NORMAL"
	StatusAlarm    ComponentStatus = "ALARM"
	StatusFault    ComponentStatus = "FAULT"
)

// Running returns true if the component is producing regulated output.
func (s ComponentStatus) Running() bool {
	return s == StatusNormal || s == StatusAlarm
}

// Active returns true if the component is running or walking in.
func (s ComponentStatus) Active() bool {
	return s.Running() || s == StatusStarting
}

// TransferMode is the source selected by the static transfer switch.
type TransferMode string

const (
	TransferInverter TransferMode = "INVERTER"
	TransferBypass   TransferMode = "BYPASS"
)

// Mode is the operating mode of a single module.
type Mode string

const (
	ModeOff               Mode = "OFF"
	ModeBlackStart        Mode = "BLACK_START"
	ModeOnline            Mode = "ONLINE"
	ModeBattery           Mode = "BATTERY_MODE"
	ModeRecharge          Mode = "RECHARGE"
	ModeStaticBypass      Mode = "STATIC_BYPASS"
	ModeMaintBypass       Mode = "MAINT_BYPASS"
	ModeFaultLockout      Mode = "FAULT_LOCKOUT"
	ModeEmergencyShutdown Mode = "EMERGENCY_SHUTDOWN"
)

// Terminal returns true for modes that are only left by re-initializing the
// state.
func (m Mode) Terminal() bool {
	return m == ModeFaultLockout || m == ModeEmergencyShutdown
}

// Feeding returns true if the load was being carried by the UPS in this mode.
func (m Mode) Feeding() bool {
	switch m {
	case ModeOnline, ModeBattery, ModeRecharge, ModeStaticBypass:
		return true
	}
	return false
}

// ParallelMode is the operating mode of the parallel installation.
type ParallelMode string

const (
	ParallelOff               ParallelMode = "OFF"
	ParallelOnline            ParallelMode = "ONLINE_PARALLEL"
	ParallelBattery           ParallelMode = "BATTERY_PARALLEL"
	ParallelRecharge          ParallelMode = "RECHARGE_PARALLEL"
	ParallelDegraded          ParallelMode = "DEGRADED_REDUNDANCY"
	ParallelStaticBypass      ParallelMode = "STATIC_BYPASS"
	ParallelMaintBypass       ParallelMode = "MAINT_BYPASS"
	ParallelBlackStart        ParallelMode = "BLACK_START_PARALLEL"
	ParallelFaultLockout      ParallelMode = "FAULT_LOCKOUT"
	ParallelEmergencyShutdown ParallelMode = "EMERGENCY_SHUTDOWN"
)

// Terminal returns true for modes that are only left by re-initializing the
// state.
func (m ParallelMode) Terminal() bool {
	return m == ParallelFaultLockout || m == ParallelEmergencyShutdown
}

// Feeding returns true if the load was being carried by the installation in
// this mode.
func (m ParallelMode) Feeding() bool {
	switch m {
	case ParallelOnline, ParallelBattery, ParallelRecharge, ParallelDegraded, ParallelStaticBypass:
		return true
	}
	return false
}

// Topology names one of the two supported installations.
type Topology string

const (
	TopologySingle   Topology = "single"
	TopologyParallel Topology = "parallel"
)
