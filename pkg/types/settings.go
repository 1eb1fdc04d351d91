package types

import (
	"errors"
	"fmt"
	"math"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings are the plant constants the engine runs against. Scenarios may
// override them.
type Settings struct {
	// Fixed tick period and how much faster than wall time the battery
	// drains and charges.
	TickPeriodMillis   int64   `json:"tickPeriodMillis"`
	AccelerationFactor float64 `json:"accelerationFactor"`

	// Utility
	NominalInputVoltage float64 `json:"nominalInputVoltage"`
	UtilityLiveVoltage  float64 `json:"utilityLiveVoltage"`
	NominalFrequency    float64 `json:"nominalFrequency"`

	// DC link
	DCNominalVoltage   float64 `json:"dcNominalVoltage"`
	DCMinimumVoltage   float64 `json:"dcMinimumVoltage"`
	DCSourceThreshold  float64 `json:"dcSourceThreshold"`
	DCPrechargePercent float64 `json:"dcPrechargePercent"`

	// Inverter
	InverterTargetVoltage float64 `json:"inverterTargetVoltage"`
	InverterReadyVoltage  float64 `json:"inverterReadyVoltage"`

	// Load
	ModuleRatingKW float64               `json:"moduleRatingKW"`
	PowerFactor    float64               `json:"powerFactor"`
	LoadBranchKW   [LoadBranches]float64 `json:"loadBranchKW"`

	// Battery
	BatteryCapacityAh     float64 `json:"batteryCapacityAh"`
	BatteryNominalRateA   float64 `json:"batteryNominalRateA"`
	PeukertExponent       float64 `json:"peukertExponent"`
	InternalResistanceOhm float64 `json:"internalResistanceOhm"`
	MaxChargeCurrentA     float64 `json:"maxChargeCurrentA"`

	AmbientTemp float64 `json:"ambientTemp"`
}

// DefaultSettings returns settings migrated from nothing to the current
// version.
func DefaultSettings() Settings {
	s, _, err := MigrateSettings(Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

// TickHours returns the simulated battery time covered by one tick.
func (s Settings) TickHours() float64 {
	return float64(s.TickPeriodMillis) / 3.6e6 * s.AccelerationFactor
}

// BranchCurrent returns the fixed 3-phase current drawn by load branch i at
// nominal voltage.
func (s Settings) BranchCurrent(i int) float64 {
	return ThreePhaseCurrent(s.LoadBranchKW[i], s.InverterTargetVoltage, s.PowerFactor)
}

// ThreePhaseCurrent returns the line current for kw delivered at volts.
func ThreePhaseCurrent(kw, volts, pf float64) float64 {
	if volts <= 0 || pf <= 0 {
		return 0
	}
	return kw * 1000 / (math.Sqrt(3) * volts * pf)
}

// Validate checks the settings are physically meaningful.
func (s Settings) Validate() error {
	var errs []error
	positive := map[string]float64{
		"tickPeriodMillis":      float64(s.TickPeriodMillis),
		"accelerationFactor":    s.AccelerationFactor,
		"nominalInputVoltage":   s.NominalInputVoltage,
		"nominalFrequency":      s.NominalFrequency,
		"dcNominalVoltage":      s.DCNominalVoltage,
		"inverterTargetVoltage": s.InverterTargetVoltage,
		"moduleRatingKW":        s.ModuleRatingKW,
		"batteryCapacityAh":     s.BatteryCapacityAh,
		"batteryNominalRateA":   s.BatteryNominalRateA,
		"internalResistanceOhm": s.InternalResistanceOhm,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if s.PowerFactor <= 0 || s.PowerFactor > 1 {
		errs = append(errs, errors.New("powerFactor must be in (0, 1]"))
	}
	if s.PeukertExponent < 1 {
		errs = append(errs, errors.New("peukertExponent must be at least 1"))
	}
	if s.UtilityLiveVoltage > s.NominalInputVoltage {
		errs = append(errs, errors.New("utilityLiveVoltage must not exceed nominalInputVoltage"))
	}
	if s.DCMinimumVoltage >= s.DCNominalVoltage {
		errs = append(errs, errors.New("dcMinimumVoltage must be below dcNominalVoltage"))
	}
	for i, kw := range s.LoadBranchKW {
		if kw < 0 {
			errs = append(errs, fmt.Errorf("loadBranchKW[%d] must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	setDefault := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
			migrated = true
		}
	}
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.TickPeriodMillis == 0 {
				s.TickPeriodMillis = 200
				migrated = true
			}
			setDefault(&s.AccelerationFactor, 60)
			setDefault(&s.NominalInputVoltage, 415)
			setDefault(&s.UtilityLiveVoltage, 400)
			setDefault(&s.NominalFrequency, 50)
			setDefault(&s.DCNominalVoltage, 220)
			setDefault(&s.DCMinimumVoltage, 155)
			setDefault(&s.DCSourceThreshold, 180)
			setDefault(&s.InverterTargetVoltage, 415)
			setDefault(&s.InverterReadyVoltage, 400)
			setDefault(&s.ModuleRatingKW, 100)
			setDefault(&s.PowerFactor, 0.9)
			setDefault(&s.BatteryCapacityAh, 400)
			setDefault(&s.BatteryNominalRateA, 40)
			setDefault(&s.PeukertExponent, 1.15)
			setDefault(&s.AmbientTemp, 25)
			if s.LoadBranchKW == [LoadBranches]float64{} {
				s.LoadBranchKW = [LoadBranches]float64{25, 20, 15}
				migrated = true
			}
		case 2:
			// version 2: internal resistance charging model
			setDefault(&s.InternalResistanceOhm, 0.05)
			setDefault(&s.MaxChargeCurrentA, 40)
		case 3:
			// version 3: walk-in starts from the precharged DC link
			setDefault(&s.DCPrechargePercent, 30)
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
