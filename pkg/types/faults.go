package types

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ModuleFaults are the fault injection toggles that act on one module.
type ModuleFaults struct {
	RectifierFault   bool `json:"rectifierFault"`
	InverterFault    bool `json:"inverterFault"`
	DCCapDegradation bool `json:"dcCapDegradation"`
	GroundFault      bool `json:"groundFault"`
	SyncDrift        bool `json:"syncDrift"`
}

// Active returns the alarm names of the active module faults in a fixed
// order.
func (f ModuleFaults) Active() []string {
	var names []string
	if f.RectifierFault {
		names = append(names, "RECTIFIER FAULT")
	}
	if f.InverterFault {
		names = append(names, "INVERTER FAULT")
	}
	if f.DCCapDegradation {
		names = append(names, "DC CAPACITOR DEGRADATION")
	}
	if f.GroundFault {
		names = append(names, "GROUND FAULT")
	}
	if f.SyncDrift {
		names = append(names, "SYNC DRIFT")
	}
	return names
}

// Faults are the fault injection toggles of a single module installation.
// The engine reads them every tick. Clearing a fault does not clear a
// component's FAULT status.
type Faults struct {
	UtilityLoss       bool `json:"utilityLoss"`
	EmergencyPowerOff bool `json:"emergencyPowerOff"`
	ModuleFaults
}

// Patch returns a copy with the named toggles from patch applied. Unknown
// names are rejected.
func (f Faults) Patch(patch map[string]any) (Faults, error) {
	if err := decodePatch(patch, &f); err != nil {
		return Faults{}, err
	}
	return f, nil
}

// ParallelFaults are the fault injection toggles of the parallel
// installation. Utility loss and EPO act on the whole installation.
type ParallelFaults struct {
	UtilityLoss       bool                      `json:"utilityLoss"`
	EmergencyPowerOff bool                      `json:"emergencyPowerOff"`
	Modules           [ModuleCount]ModuleFaults `json:"modules"`
}

// Patch returns a copy with the named toggles from patch applied. Module
// toggles are given under "modules" as a list indexed by module.
func (f ParallelFaults) Patch(patch map[string]any) (ParallelFaults, error) {
	if err := decodePatch(patch, &f); err != nil {
		return ParallelFaults{}, err
	}
	return f, nil
}

func decodePatch(patch map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Squash:      true,
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return fmt.Errorf("failed to create fault decoder: %w", err)
	}
	if err := dec.Decode(patch); err != nil {
		return fmt.Errorf("invalid fault patch: %w", err)
	}
	return nil
}
