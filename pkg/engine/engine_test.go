package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstwin/upstwin/pkg/types"
)

type constNoise float64

func (n constNoise) Float64() float64 { return float64(n) }

func liveTick(br types.ModuleBreakers) moduleTick {
	set := types.DefaultSettings()
	return moduleTick{
		set: set,
		in:  supply{voltage: set.NominalInputVoltage, frequency: set.NominalFrequency, live: true},
		br:  br,
		rnd: constNoise(0.5),
	}
}

func onlineModule(set types.Settings) types.ModuleState {
	return types.ModuleState{
		Rectifier:    types.Component{Status: types.StatusNormal, Commanded: true, VoltageOut: set.DCNominalVoltage, Temperature: set.AmbientTemp},
		Inverter:     types.Component{Status: types.StatusNormal, Commanded: true, VoltageOut: set.InverterTargetVoltage, Frequency: set.NominalFrequency, Temperature: set.AmbientTemp},
		StaticSwitch: types.StaticSwitch{Mode: types.TransferInverter, Status: types.StatusNormal},
		Battery: types.Battery{
			ChargeLevel:       100,
			Health:            100,
			Temp:              set.AmbientTemp,
			NominalCapacityAh: set.BatteryCapacityAh,
			PeukertExponent:   set.PeukertExponent,
		},
		DCBusVoltage: set.DCNominalVoltage,
	}
}

var onlineBreakers = types.ModuleBreakers{Q1: true, Q2: true, Q4: true, QF1: true}

func TestOpenCircuitVoltage(t *testing.T) {
	set := types.DefaultSettings()
	tests := []struct {
		soc  float64
		want float64
	}{
		{0, 139},
		{10, 153.5},
		{20, 168},
		{50, 187.5},
		{90, 213.5},
		{100, 223},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, OpenCircuitVoltage(tt.soc, set), 0.001, "soc %v", tt.soc)
	}

	prev := OpenCircuitVoltage(0, set)
	for soc := 1.0; soc <= 100; soc++ {
		v := OpenCircuitVoltage(soc, set)
		assert.Greater(t, v, prev, "voltage must rise with charge at %v", soc)
		prev = v
	}
}

func TestEffectiveCapacity(t *testing.T) {
	set := types.DefaultSettings()
	b := types.Battery{Health: 100, Temp: 25, NominalCapacityAh: 400, PeukertExponent: 1.15}

	t.Run("Nominal Rate", func(t *testing.T) {
		assert.InDelta(t, 400, EffectiveCapacity(b, 40, set), 0.001)
		assert.InDelta(t, 400, EffectiveCapacity(b, 0, set), 0.001, "idle reads as the nominal rate")
	})

	t.Run("Peukert", func(t *testing.T) {
		assert.InDelta(t, 400*math.Pow(0.5, 0.15), EffectiveCapacity(b, 80, set), 0.001)
		assert.Greater(t, EffectiveCapacity(b, 20, set), 400.0)
	})

	t.Run("Temperature And Health", func(t *testing.T) {
		cold := b
		cold.Temp = 15
		assert.InDelta(t, 376, EffectiveCapacity(cold, 40, set), 0.001)

		worn := b
		worn.Health = 90
		assert.InDelta(t, 360, EffectiveCapacity(worn, 40, set), 0.001)
	})

	t.Run("Defaults From Settings", func(t *testing.T) {
		assert.InDelta(t, set.BatteryCapacityAh, EffectiveCapacity(types.Battery{Health: 100, Temp: 25}, 40, set), 0.001)
	})
}

func TestHealthFromCycles(t *testing.T) {
	assert.Equal(t, 100.0, HealthFromCycles(0))
	assert.InDelta(t, 90, HealthFromCycles(750), 0.001)
	assert.Equal(t, 80.0, HealthFromCycles(1500))
	assert.Equal(t, 80.0, HealthFromCycles(9000))
}

func TestOverloaded(t *testing.T) {
	set := types.DefaultSettings()
	assert.False(t, Overloaded(110, 1, set))
	assert.True(t, Overloaded(111, 1, set))
	assert.False(t, Overloaded(220, 2, set))
	assert.True(t, Overloaded(111, 0, set))
}

func TestRectifier(t *testing.T) {
	t.Run("Walk In From Precharge", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{Q1: true})
		r := tk.rectifier(types.Component{Status: types.StatusStarting})
		assert.Equal(t, types.StatusStarting, r.Status)
		assert.InDelta(t, 68, r.VoltageOut, 0.001)

		r = tk.rectifier(r)
		assert.InDelta(t, 70, r.VoltageOut, 0.001)

		r.VoltageOut = 219
		r = tk.rectifier(r)
		assert.Equal(t, types.StatusNormal, r.Status)
		assert.Equal(t, 220.0, r.VoltageOut)
	})

	t.Run("Regulation Jitter", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{Q1: true})
		for now := int64(0); now < 10000; now += 200 {
			tk.now = now
			tk.rnd = constNoise(float64(now%1000) / 1000)
			r := tk.rectifier(types.Component{Status: types.StatusNormal, VoltageOut: 220})
			assert.InDelta(t, 220, r.VoltageOut, 0.2)
		}
	})

	t.Run("Input Lost", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{})
		r := tk.rectifier(types.Component{Status: types.StatusNormal, VoltageOut: 220})
		assert.InDelta(t, 198, r.VoltageOut, 0.001)

		r = tk.rectifier(types.Component{Status: types.StatusNormal, VoltageOut: 1})
		assert.Equal(t, 0.0, r.VoltageOut)
	})

	t.Run("Fault", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{Q1: true})
		tk.f.RectifierFault = true
		r := tk.rectifier(types.Component{Status: types.StatusNormal, VoltageOut: 220})
		assert.Equal(t, types.StatusFault, r.Status)
		assert.Equal(t, 0.0, r.VoltageOut)
	})

	t.Run("Capacitor Degradation", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{Q1: true})
		tk.f.DCCapDegradation = true
		r := tk.rectifier(types.Component{Status: types.StatusNormal, VoltageOut: 220})
		assert.Equal(t, types.StatusAlarm, r.Status)

		tk.f.DCCapDegradation = false
		r = tk.rectifier(r)
		assert.Equal(t, types.StatusNormal, r.Status)
	})
}

func TestInverter(t *testing.T) {
	tk := liveTick(onlineBreakers)

	t.Run("Ramp", func(t *testing.T) {
		inv := tk.inverter(types.Component{Status: types.StatusStarting}, 220)
		assert.InDelta(t, 10, inv.VoltageOut, 0.001)
		assert.Equal(t, 50.0, inv.Frequency, "locked to a live bypass")

		inv.VoltageOut = 410
		inv = tk.inverter(inv, 220)
		assert.Equal(t, types.StatusNormal, inv.Status)
		assert.Equal(t, 415.0, inv.VoltageOut)
		assert.True(t, InverterReady(inv, tk.set))
	})

	t.Run("DC Undervoltage Trip", func(t *testing.T) {
		inv := tk.inverter(types.Component{Status: types.StatusNormal, VoltageOut: 415}, 150)
		assert.Equal(t, types.StatusStarting, inv.Status)
		assert.Equal(t, 0.0, inv.VoltageOut)
		assert.Equal(t, 0.0, inv.Frequency)
	})

	t.Run("Ground Fault", func(t *testing.T) {
		gf := tk
		gf.f.GroundFault = true
		inv := gf.inverter(types.Component{Status: types.StatusNormal, VoltageOut: 415}, 220)
		assert.Equal(t, types.StatusAlarm, inv.Status)
		assert.False(t, InverterReady(inv, tk.set))
	})

	t.Run("Free Running", func(t *testing.T) {
		fr := liveTick(types.ModuleBreakers{Q1: true})
		for now := int64(0); now < 60000; now += 1000 {
			fr.now = now
			inv := fr.inverter(types.Component{Status: types.StatusNormal, VoltageOut: 415}, 220)
			assert.InDelta(t, 50, inv.Frequency, 0.1)
		}
	})
}

func TestStaticSwitch(t *testing.T) {
	tk := liveTick(onlineBreakers)
	ready := types.Component{Status: types.StatusNormal, VoltageOut: 415, Frequency: 50}

	t.Run("Retransfer", func(t *testing.T) {
		sts := tk.staticSwitch(types.StaticSwitch{Mode: types.TransferBypass}, ready)
		assert.Equal(t, types.TransferInverter, sts.Mode)
		assert.Equal(t, types.StatusNormal, sts.Status)
		assert.Less(t, sts.SyncError, retransferSyncLimit)
	})

	t.Run("Forced Bypass Holds", func(t *testing.T) {
		sts := tk.staticSwitch(types.StaticSwitch{Mode: types.TransferBypass, ForceBypass: true}, ready)
		assert.Equal(t, types.TransferBypass, sts.Mode)
		assert.Equal(t, types.StatusNormal, sts.Status)
	})

	t.Run("Sync Drift Blocks Retransfer", func(t *testing.T) {
		drift := tk
		drift.f.SyncDrift = true
		sts := drift.staticSwitch(types.StaticSwitch{Mode: types.TransferBypass}, ready)
		assert.Equal(t, types.TransferBypass, sts.Mode)
		assert.GreaterOrEqual(t, sts.SyncError, 8.0)
	})

	t.Run("Maintenance Bypass Holds", func(t *testing.T) {
		maint := tk
		maint.maint = true
		sts := maint.staticSwitch(types.StaticSwitch{Mode: types.TransferBypass}, ready)
		assert.Equal(t, types.TransferBypass, sts.Mode)
		assert.Equal(t, types.StatusNormal, sts.Status)

		sts = maint.staticSwitch(types.StaticSwitch{Mode: types.TransferInverter}, ready)
		assert.Equal(t, types.TransferBypass, sts.Mode)
	})

	t.Run("Inverter Lost", func(t *testing.T) {
		sts := tk.staticSwitch(types.StaticSwitch{Mode: types.TransferInverter}, types.Component{Status: types.StatusFault})
		assert.Equal(t, types.TransferBypass, sts.Mode)
		assert.Equal(t, types.StatusNormal, sts.Status)
	})

	t.Run("No Source", func(t *testing.T) {
		dead := liveTick(onlineBreakers)
		dead.in = supply{}
		sts := dead.staticSwitch(types.StaticSwitch{Mode: types.TransferInverter}, types.Component{Status: types.StatusOff})
		assert.Equal(t, types.TransferInverter, sts.Mode)
		assert.Equal(t, types.StatusOff, sts.Status)
	})
}

func TestEnergy(t *testing.T) {
	set := types.DefaultSettings()

	t.Run("Float", func(t *testing.T) {
		tk := liveTick(onlineBreakers)
		m := tk.energy(onlineModule(set), 60, 92.7)
		assert.InDelta(t, floatCurrent, m.Battery.Current, 0.001)
		assert.Equal(t, 100.0, m.Battery.ChargeLevel)
		assert.InDelta(t, 60, m.Inverter.LoadPct, 0.001)
		assert.Greater(t, m.Inverter.Efficiency, 0.9)
		assert.Greater(t, m.Rectifier.LoadPct, m.Inverter.LoadPct, "rectifier covers inverter losses")
	})

	t.Run("Charge Current Limited", func(t *testing.T) {
		tk := liveTick(onlineBreakers)
		m := onlineModule(set)
		m.Battery.ChargeLevel = 50
		m = tk.energy(m, 0, 0)
		assert.InDelta(t, set.MaxChargeCurrentA, m.Battery.Current, 0.001)
		assert.InDelta(t, 50+40*set.TickHours()/400*100, m.Battery.ChargeLevel, 1e-9)
	})

	t.Run("Discharge", func(t *testing.T) {
		tk := liveTick(onlineBreakers)
		tk.in = supply{}
		m := onlineModule(set)
		m.Battery.ChargeLevel = 50
		m.DCBusVoltage = OpenCircuitVoltage(50, set)
		m = tk.energy(m, 60, 92.7)
		assert.Less(t, m.Battery.Current, 0.0)
		assert.Less(t, m.Battery.ChargeLevel, 50.0)
		assert.InDelta(t, (50-m.Battery.ChargeLevel)/100, m.Battery.CycleCount, 1e-9)
		assert.Less(t, m.Battery.EffectiveCapacityAh, 400.0, "heavy discharge shrinks capacity")
		assert.Equal(t, 0.0, m.Rectifier.LoadPct)
	})

	t.Run("Empty Battery", func(t *testing.T) {
		tk := liveTick(onlineBreakers)
		tk.in = supply{}
		m := onlineModule(set)
		m.Battery.ChargeLevel = 0
		m.DCBusVoltage = OpenCircuitVoltage(0, set)
		m = tk.energy(m, 60, 92.7)
		assert.Equal(t, 0.0, m.Battery.Current)
		assert.Equal(t, 0.0, m.Battery.ChargeLevel)
	})

	t.Run("Battery Breaker Open", func(t *testing.T) {
		tk := liveTick(types.ModuleBreakers{Q1: true, Q2: true, Q4: true})
		m := onlineModule(set)
		m.Battery.ChargeLevel = 50
		m = tk.energy(m, 60, 92.7)
		assert.Equal(t, 0.0, m.Battery.Current)
		assert.Equal(t, 50.0, m.Battery.ChargeLevel)
	})
}

func TestThermal(t *testing.T) {
	set := types.DefaultSettings()
	tk := liveTick(onlineBreakers)
	m := onlineModule(set)
	m.Inverter.LoadPct = 100
	m.Battery.Current = -300

	next := tk.thermal(m)
	assert.Greater(t, next.Inverter.Temperature, set.AmbientTemp)
	assert.Less(t, next.Inverter.Temperature, set.AmbientTemp+50)
	assert.Greater(t, next.Battery.Temp, set.AmbientTemp)

	for range 2000 {
		next = tk.thermal(next)
	}
	assert.InDelta(t, set.AmbientTemp+50, next.Inverter.Temperature, 0.01, "settles at the load dependent target")

	next.Inverter.LoadPct = 0
	cooled := tk.thermal(next)
	assert.Less(t, cooled.Inverter.Temperature, next.Inverter.Temperature)
}

func singleOnline() types.SimulationState {
	set := types.DefaultSettings()
	return types.SimulationState{
		Seed:     1,
		Mode:     types.ModeOnline,
		Breakers: types.Breakers{ModuleBreakers: onlineBreakers, Load: [types.LoadBranches]bool{true, true, true}},
		Utility:  types.Utility{Voltage: set.NominalInputVoltage, Frequency: set.NominalFrequency},
		Module:   onlineModule(set),
		Settings: set,
	}
}

func TestSingle(t *testing.T) {
	e := New()
	s := singleOnline()

	next := e.Single(s, 200)
	assert.Equal(t, uint64(1), next.Tick)
	assert.Equal(t, int64(200), next.Time)
	assert.Nil(t, next.Alarms)
	assert.InDelta(t, 60, next.Bus.LoadKW, 0.001)
	assert.InDelta(t, 415, next.Bus.Voltage, 0.2)
	assert.InDelta(t, 60, next.Module.LoadKW, 0.001)
	assert.InDelta(t, s.Settings.BranchCurrent(0)+s.Settings.BranchCurrent(1)+s.Settings.BranchCurrent(2), next.Bus.Current, 0.001)
	assert.Equal(t, uint64(0), s.Tick, "previous snapshot is untouched")

	again := e.Single(s, 200)
	assert.Equal(t, next, again)

	t.Run("Maintenance Bypass", func(t *testing.T) {
		m := singleOnline()
		m.Breakers.Q3 = true
		m.Breakers.Q4 = false
		next := e.Single(m, 200)
		assert.Equal(t, m.Utility.Voltage, next.Bus.Voltage)
		assert.InDelta(t, 60, next.Bus.LoadKW, 0.001)
		assert.Equal(t, 0.0, next.Module.LoadKW, "maintenance path bypasses the module")
	})

	t.Run("Dead Bus Draws Nothing", func(t *testing.T) {
		d := singleOnline()
		d.Breakers.Q4 = false
		next := e.Single(d, 200)
		assert.Equal(t, 0.0, next.Bus.Voltage)
		assert.Equal(t, 0.0, next.Bus.LoadKW)
		assert.Equal(t, 0.0, next.Bus.Current)
	})
}

func TestNoise(t *testing.T) {
	a := PCGNoise(1, 2)
	b := PCGNoise(1, 2)
	c := PCGNoise(1, 3)
	x := a.Float64()
	assert.Equal(t, x, b.Float64())
	assert.NotEqual(t, x, c.Float64())

	calls := 0
	e := New(WithNoise(func(seed, tick uint64) Noise {
		calls++
		assert.Equal(t, uint64(1), seed)
		return constNoise(0.5)
	}))
	e.Single(singleOnline(), 200)
	assert.Equal(t, 1, calls)
}

func parallelOnline() types.ParallelSimulationState {
	set := types.DefaultSettings()
	s := types.ParallelSimulationState{
		Seed:     1,
		Mode:     types.ParallelOnline,
		Utility:  types.Utility{Voltage: set.NominalInputVoltage, Frequency: set.NominalFrequency},
		Settings: set,
	}
	for i := range s.Modules {
		s.Modules[i] = onlineModule(set)
		s.Breakers.Modules[i] = onlineBreakers
	}
	s.Breakers.Load = [types.LoadBranches]bool{true, true, true}
	return s
}

func TestParallel(t *testing.T) {
	e := New()

	t.Run("Load Sharing", func(t *testing.T) {
		next := e.Parallel(parallelOnline(), 200)
		require.InDelta(t, 60, next.Bus.LoadKW, 0.001)
		for _, m := range next.Modules {
			assert.InDelta(t, 30, m.LoadKW, 0.001)
			assert.InDelta(t, 30, m.Inverter.LoadPct, 0.001)
		}
		assert.InDelta(t, next.Modules[0].OutputCurrent+next.Modules[1].OutputCurrent,
			types.ThreePhaseCurrent(60, next.Bus.Voltage, next.Settings.PowerFactor), 0.001)
	})

	t.Run("Single Feeder", func(t *testing.T) {
		s := parallelOnline()
		s.Breakers.Modules[1].Q4 = false
		next := e.Parallel(s, 200)
		assert.InDelta(t, 60, next.Modules[0].LoadKW, 0.001)
		assert.Equal(t, 0.0, next.Modules[1].LoadKW)
	})

	t.Run("Shared Bypass", func(t *testing.T) {
		s := parallelOnline()
		for i := range s.Modules {
			s.Modules[i].StaticSwitch = types.StaticSwitch{Mode: types.TransferBypass, ForceBypass: true}
		}
		next := e.Parallel(s, 200)
		assert.Equal(t, s.Utility.Voltage, next.Bus.Voltage)
		for _, m := range next.Modules {
			assert.Equal(t, 0.0, m.LoadKW)
			assert.InDelta(t, next.Bus.Current/2, m.OutputCurrent, 0.001)
		}
	})
}

func TestEnforceBusSafety(t *testing.T) {
	t.Run("Isolates", func(t *testing.T) {
		s := parallelOnline()
		s.Modules[1].StaticSwitch.Mode = types.TransferBypass
		s.Modules[1].Inverter = types.Component{Status: types.StatusStarting, VoltageOut: 200}
		got := enforceBusSafety(s)
		assert.False(t, got.Breakers.Modules[1].Q4)
		assert.True(t, got.Breakers.Modules[0].Q4)
		assert.Equal(t, [types.ModuleCount]bool{false, true}, got.SafetyIsolation)
	})

	t.Run("Transfers", func(t *testing.T) {
		s := parallelOnline()
		s.Modules[0].StaticSwitch = types.StaticSwitch{Mode: types.TransferBypass, ForceBypass: true}
		got := enforceBusSafety(s)
		assert.True(t, got.Breakers.Modules[0].Q4)
		assert.Equal(t, types.TransferInverter, got.Modules[0].StaticSwitch.Mode)
		assert.False(t, got.Modules[0].StaticSwitch.ForceBypass)
		assert.Equal(t, s.Modules[0].Inverter.VoltageOut, got.Modules[0].OutputVoltage)
		assert.Equal(t, [types.ModuleCount]bool{}, got.SafetyIsolation)
	})

	t.Run("No Conflict", func(t *testing.T) {
		s := parallelOnline()
		s.Breakers.Modules[1].Q4 = false
		s.Modules[1].StaticSwitch.Mode = types.TransferBypass
		assert.Equal(t, s, enforceBusSafety(s))
	})
}

func TestSingleAlarms(t *testing.T) {
	set := types.DefaultSettings()
	s := types.SimulationState{
		Settings: set,
		Breakers: types.Breakers{Load: [types.LoadBranches]bool{true}},
		Module:   types.ModuleState{Battery: types.Battery{ChargeLevel: 100, Health: 100}},
		Faults: types.Faults{
			UtilityLoss:       true,
			EmergencyPowerOff: true,
			ModuleFaults:      types.ModuleFaults{InverterFault: true, SyncDrift: true},
		},
	}
	assert.Equal(t, []string{
		"INPUT FAIL",
		"CRITICAL LOAD LOSS",
		"EMERGENCY POWER OFF",
		"FAULT INJECTED: UTILITY LOSS",
		"FAULT INJECTED: INVERTER FAULT",
		"FAULT INJECTED: SYNC DRIFT",
	}, SingleAlarms(s))

	online := singleOnline()
	online.Bus = types.Bus{InputVoltage: 415, Voltage: 415, LoadKW: 120}
	online.Module.Battery.ChargeLevel = 10
	online.Module.Battery.Current = -300
	online.Module.Inverter.Temperature = 90
	assert.Equal(t, []string{
		"BATTERY DISCHARGE",
		"BATTERY LOW",
		"INVERTER OVERTEMP",
		"OVERLOAD",
	}, SingleAlarms(online))
}

func TestParallelAlarms(t *testing.T) {
	set := types.DefaultSettings()
	s := types.ParallelSimulationState{
		Settings: set,
		Bus:      types.Bus{InputVoltage: 415},
	}
	for i := range s.Modules {
		s.Modules[i].Battery = types.Battery{ChargeLevel: 100, Health: 100}
	}
	s.SafetyIsolation[1] = true
	assert.Equal(t, []string{"SAFETY ISOLATION: MODULE B"}, ParallelAlarms(s))

	s = parallelOnline()
	s.Bus = types.Bus{InputVoltage: 415, Voltage: 415, LoadKW: 150}
	s.Breakers.Modules[1].Q4 = false
	s.AvailableModules = 1
	s.Faults.Modules[1].RectifierFault = true
	assert.Equal(t, []string{
		"OVERLOAD",
		"REDUNDANCY LOST",
		"INSUFFICIENT CAPACITY",
		"MODULE B: FAULT INJECTED: RECTIFIER FAULT",
	}, ParallelAlarms(s))
}
