package engine

import (
	"math"

	"github.com/upstwin/upstwin/pkg/types"
)

const (
	walkInStep       = 2.0
	inverterRampStep = 10.0

	inputLossDecay = 0.90
	commandedDecay = 0.95
	dcBleedDecay   = 0.92

	floatCurrent = 0.2

	retransferSyncLimit = 5.0
	retransferFreqLimit = 0.25

	// decayed voltages below this read as zero
	residualVoltage = 1.0
)

// supply is the utility input as measured after fault injection.
type supply struct {
	voltage   float64
	frequency float64
	live      bool
}

// UtilityLive returns true if the utility is usable after fault injection.
func UtilityLive(u types.Utility, utilityLoss bool, set types.Settings) bool {
	return measureSupply(u, utilityLoss, set).live
}

func measureSupply(u types.Utility, utilityLoss bool, set types.Settings) supply {
	if utilityLoss {
		return supply{}
	}
	v := nonNegative(u.Voltage)
	return supply{
		voltage:   v,
		frequency: nonNegative(u.Frequency),
		live:      v >= set.UtilityLiveVoltage,
	}
}

// moduleTick holds the inputs shared by every stage of one module's tick.
// maint is set while a maintenance bypass ties the output bus to the utility.
type moduleTick struct {
	now   int64
	set   types.Settings
	in    supply
	br    types.ModuleBreakers
	f     types.ModuleFaults
	maint bool
	rnd   Noise
}

func (t moduleTick) rectifierInput() bool {
	return t.in.live && t.br.Q1
}

func (t moduleTick) bypassAvailable() bool {
	return t.in.live && t.br.Q2
}

// rectifierSource returns true if the rectifier is the dominant DC source.
func (t moduleTick) rectifierSource(r types.Component) bool {
	return r.Status.Active() && t.rectifierInput() && r.VoltageOut > t.set.DCSourceThreshold
}

// seconds returns the tick timestamp in seconds for the oscillators.
func (t moduleTick) seconds() float64 {
	return float64(t.now) / 1000
}

// jitter emulates PID regulation noise, bounded to +/-0.2 V.
func (t moduleTick) jitter() float64 {
	return 0.15*math.Sin(t.seconds()*4) + 0.05*signed(t.rnd)
}

// step runs the rectifier, DC bus, inverter and static switch stages.
func (t moduleTick) step(m types.ModuleState) types.ModuleState {
	if m.Rectifier.Status == "" {
		m.Rectifier.Status = types.StatusOff
	}
	if m.Inverter.Status == "" {
		m.Inverter.Status = types.StatusOff
	}
	m.Rectifier = t.rectifier(m.Rectifier)
	m = t.dcBus(m)
	m.Inverter = t.inverter(m.Inverter, m.DCBusVoltage)
	m.StaticSwitch = t.staticSwitch(m.StaticSwitch, m.Inverter)
	m.OutputVoltage = t.terminalVoltage(m)
	return m
}

func decay(v, factor float64) float64 {
	v *= factor
	if v < residualVoltage {
		return 0
	}
	return v
}

func (t moduleTick) rectifier(r types.Component) types.Component {
	if t.f.RectifierFault {
		r.Status = types.StatusFault
	}
	switch {
	case r.Status == types.StatusFault:
		r.VoltageOut = 0
	case !t.rectifierInput():
		r.VoltageOut = decay(r.VoltageOut, inputLossDecay)
	case r.Status == types.StatusOff:
		r.VoltageOut = decay(r.VoltageOut, commandedDecay)
	case r.Status == types.StatusStarting:
		precharge := t.set.DCNominalVoltage * t.set.DCPrechargePercent / 100
		r.VoltageOut = math.Max(r.VoltageOut, precharge) + walkInStep
		if r.VoltageOut >= t.set.DCNominalVoltage {
			r.VoltageOut = t.set.DCNominalVoltage
			r.Status = types.StatusNormal
		}
	default:
		ripple := 1.0
		if t.f.DCCapDegradation {
			ripple = 10
		}
		r.VoltageOut = t.set.DCNominalVoltage + ripple*t.jitter()
	}

	switch {
	case r.Status == types.StatusNormal && t.f.DCCapDegradation:
		r.Status = types.StatusAlarm
	case r.Status == types.StatusAlarm && !t.f.DCCapDegradation:
		r.Status = types.StatusNormal
	}
	r.VoltageOut = nonNegative(r.VoltageOut)
	return r
}

// OpenCircuitVoltage returns the battery string voltage at soc percent:
// linear between the DC floor and float voltage with a surface charge boost
// above 90% and a knee penalty below 20%.
func OpenCircuitVoltage(soc float64, set types.Settings) float64 {
	v := linearOCV(soc, set)
	if soc > 90 {
		v += 0.3 * (soc - 90)
	}
	if soc < 20 {
		v -= 0.8 * (20 - soc)
	}
	return nonNegative(v)
}

func linearOCV(soc float64, set types.Settings) float64 {
	return set.DCMinimumVoltage + (set.DCNominalVoltage-set.DCMinimumVoltage)*soc/100
}

func (t moduleTick) dcBus(m types.ModuleState) types.ModuleState {
	b := m.Battery
	switch {
	case t.rectifierSource(m.Rectifier):
		m.DCBusVoltage = m.Rectifier.VoltageOut
	case t.br.QF1 && b.ChargeLevel > 0:
		m.DCBusVoltage = OpenCircuitVoltage(b.ChargeLevel, t.set)
	default:
		m.DCBusVoltage = decay(m.DCBusVoltage, dcBleedDecay)
	}
	if t.br.QF1 && m.DCBusVoltage > 0 {
		b.Voltage = m.DCBusVoltage
	} else {
		b.Voltage = OpenCircuitVoltage(b.ChargeLevel, t.set)
	}
	m.Battery = b
	return m
}

func (t moduleTick) inverter(inv types.Component, dc float64) types.Component {
	if t.f.InverterFault {
		inv.Status = types.StatusFault
	}
	dcOK := dc > t.set.DCMinimumVoltage
	target := t.set.InverterTargetVoltage
	switch inv.Status {
	case types.StatusFault, types.StatusOff:
		inv.VoltageOut = 0
	case types.StatusStarting:
		if !dcOK {
			inv.VoltageOut = 0
			break
		}
		inv.VoltageOut += inverterRampStep
		if inv.VoltageOut >= target {
			inv.VoltageOut = target
			inv.Status = types.StatusNormal
		}
	default:
		if !dcOK {
			// DC undervoltage trip, walks in again once the bus recovers
			inv.Status = types.StatusStarting
			inv.VoltageOut = 0
			break
		}
		inv.VoltageOut = target + t.jitter()
	}

	switch {
	case inv.Status == types.StatusNormal && t.f.GroundFault:
		inv.Status = types.StatusAlarm
	case inv.Status == types.StatusAlarm && !t.f.GroundFault:
		inv.Status = types.StatusNormal
	}

	nominal := t.set.NominalFrequency
	switch {
	case inv.VoltageOut <= 0:
		inv.Frequency = 0
	case t.f.SyncDrift:
		inv.Frequency = nominal + 0.4*math.Sin(t.seconds()/4)
	case t.bypassAvailable():
		inv.Frequency = nominal
	default:
		inv.Frequency = nominal + 0.1*math.Sin(t.seconds()/5)
	}
	inv.VoltageOut = nonNegative(inv.VoltageOut)
	return inv
}

// InverterReady returns true if the inverter can carry the load.
func InverterReady(inv types.Component, set types.Settings) bool {
	return inv.Status == types.StatusNormal && inv.VoltageOut > set.InverterReadyVoltage
}

func (t moduleTick) syncError() float64 {
	if t.f.SyncDrift {
		return 8 + 6*math.Abs(math.Sin(t.seconds()/2))
	}
	return math.Abs(2*math.Sin(t.seconds()/3)) + 0.5*t.rnd.Float64()
}

func (t moduleTick) staticSwitch(sts types.StaticSwitch, inv types.Component) types.StaticSwitch {
	sts.SyncError = t.syncError()
	ready := InverterReady(inv, t.set)
	bypass := t.bypassAvailable()
	freqOK := math.Abs(inv.Frequency-t.set.NominalFrequency) <= retransferFreqLimit

	switch sts.Mode {
	case types.TransferBypass:
		if ready && sts.SyncError < retransferSyncLimit && freqOK && !sts.ForceBypass && !t.maint {
			sts.Mode = types.TransferInverter
		}
	default:
		sts.Mode = types.TransferInverter
		if t.maint || ((!ready || sts.ForceBypass) && bypass) {
			sts.Mode = types.TransferBypass
		}
	}

	selected, other := ready, bypass
	if sts.Mode == types.TransferBypass {
		selected, other = bypass, ready
	}
	switch {
	case selected:
		sts.Status = types.StatusNormal
	case other:
		sts.Status = types.StatusAlarm
	default:
		sts.Status = types.StatusOff
	}
	return sts
}

// terminalVoltage is the voltage the static switch presents to the output
// breaker.
func (t moduleTick) terminalVoltage(m types.ModuleState) float64 {
	if m.StaticSwitch.Mode == types.TransferInverter {
		return m.Inverter.VoltageOut
	}
	if t.bypassAvailable() {
		return t.in.voltage
	}
	return 0
}

// InverterFeeding returns true if the module pushes inverter power through a
// closed output breaker.
func InverterFeeding(m types.ModuleState, br types.ModuleBreakers) bool {
	return br.Q4 && m.StaticSwitch.Mode == types.TransferInverter &&
		m.Inverter.Status.Running() && m.Inverter.VoltageOut > 0
}

func inverterEfficiency(loadPct float64) float64 {
	return clamp(0.96-0.08*math.Exp(-loadPct/15), 0, 1)
}

func rectifierEfficiency(loadPct float64) float64 {
	return clamp(0.97-0.06*math.Exp(-loadPct/15), 0, 1)
}

// EffectiveCapacity returns the usable capacity in Ah at a discharge current
// after the Peukert, temperature and state of health corrections.
func EffectiveCapacity(b types.Battery, current float64, set types.Settings) float64 {
	nominal := b.NominalCapacityAh
	if nominal <= 0 {
		nominal = set.BatteryCapacityAh
	}
	exp := b.PeukertExponent
	if exp < 1 {
		exp = set.PeukertExponent
	}
	if current <= 0 {
		current = set.BatteryNominalRateA
	}
	c := nominal * math.Pow(set.BatteryNominalRateA/current, exp-1)
	c *= clamp(1+0.006*(b.Temp-25), 0.5, 1.3)
	c *= clamp(b.Health, 80, 100) / 100
	return math.Max(c, 1e-6)
}

// HealthFromCycles returns state of health for an equivalent cycle count,
// reaching the 80% floor at 1500 cycles.
func HealthFromCycles(cycles float64) float64 {
	return clamp(100-20*math.Min(cycles/1500, 1), 80, 100)
}

// energy accounts the module's share of the load against its inverter,
// rectifier and battery.
func (t moduleTick) energy(m types.ModuleState, shareKW, shareA float64) types.ModuleState {
	inv := m.Inverter
	pct := shareKW / t.set.ModuleRatingKW * 100
	inv.LoadPct = clamp(pct, 0, 100)
	inv.Efficiency = 0
	if inv.Status.Running() && inv.VoltageOut > 0 {
		inv.Efficiency = inverterEfficiency(pct)
	}
	m.LoadKW = shareKW
	m.OutputCurrent = shareA

	var dcKW float64
	if shareKW > 0 && inv.Efficiency > 0 {
		dcKW = shareKW / inv.Efficiency
	}

	b := m.Battery
	b.Current = 0
	capacity := b.NominalCapacityAh
	if capacity <= 0 {
		capacity = t.set.BatteryCapacityAh
	}
	hours := t.set.TickHours()
	rectKW := 0.0
	switch {
	case t.rectifierSource(m.Rectifier):
		rectKW = dcKW
		if !t.br.QF1 {
			break
		}
		if b.ChargeLevel >= 100 {
			b.Current = floatCurrent
		} else {
			i := (m.DCBusVoltage - linearOCV(b.ChargeLevel, t.set)) / t.set.InternalResistanceOhm
			b.Current = clamp(i, floatCurrent, math.Max(t.set.MaxChargeCurrentA, floatCurrent))
			b.ChargeLevel += b.Current * hours / capacity * 100
		}
		rectKW += b.Current * m.DCBusVoltage / 1000
	case t.br.QF1 && b.ChargeLevel > 0 && m.DCBusVoltage > 0 && dcKW > 0:
		i := dcKW * 1000 / m.DCBusVoltage
		discharged := i * hours / EffectiveCapacity(b, i, t.set) * 100
		b.ChargeLevel -= discharged
		b.CycleCount += discharged / 100
		b.Current = -i
	}
	b.ChargeLevel = clamp(b.ChargeLevel, 0, 100)
	b.Health = HealthFromCycles(b.CycleCount)
	b.EffectiveCapacityAh = EffectiveCapacity(b, math.Abs(b.Current), t.set)
	m.Battery = b

	r := m.Rectifier
	rpct := rectKW / t.set.ModuleRatingKW * 100
	r.LoadPct = clamp(rpct, 0, 100)
	r.Efficiency = 0
	if r.Status.Active() && r.VoltageOut > 0 {
		r.Efficiency = rectifierEfficiency(rpct)
	}
	m.Rectifier = r
	m.Inverter = inv
	return m
}

const (
	heatingGain = 0.02
	coolingGain = 0.05

	batteryHeatPerAmp = 0.0005
	batteryCooling    = 0.01

	degradedCapHeat = 20.0
)

func approach(c types.Component, target float64) types.Component {
	gain := coolingGain
	if target > c.Temperature {
		gain = heatingGain
	}
	c.Temperature += (target - c.Temperature) * gain
	return c
}

func (t moduleTick) thermal(m types.ModuleState) types.ModuleState {
	ambient := t.set.AmbientTemp
	extra := 0.0
	if t.f.DCCapDegradation {
		extra = degradedCapHeat
	}
	m.Rectifier = approach(m.Rectifier, ambient+0.5*m.Rectifier.LoadPct+extra)
	m.Inverter = approach(m.Inverter, ambient+0.5*m.Inverter.LoadPct)
	b := m.Battery
	b.Temp += batteryHeatPerAmp*math.Abs(b.Current) - batteryCooling*(b.Temp-ambient)
	m.Battery = b
	return m
}
