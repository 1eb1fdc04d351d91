package scenario

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	"github.com/upstwin/upstwin/pkg/engine"
	"github.com/upstwin/upstwin/pkg/types"
)

// ErrUnknownScenario is returned when neither a built-in nor a stored scenario
// has the requested name.
var ErrUnknownScenario = errors.New("unknown scenario")

// Parse decodes a YAML scenario document.
func Parse(data []byte) (types.Scenario, error) {
	var sc types.Scenario
	if err := yaml.UnmarshalStrict(data, &sc); err != nil {
		return types.Scenario{}, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.State != nil {
		sc.State = normalize(sc.State).(map[string]any)
	}
	if err := Validate(sc); err != nil {
		return types.Scenario{}, err
	}
	return sc, nil
}

// Validate checks the parts of a scenario that do not need building.
func Validate(sc types.Scenario) error {
	if sc.Name == "" {
		return errors.New("scenario name is required")
	}
	switch sc.Topology {
	case types.TopologySingle, types.TopologyParallel:
	default:
		return fmt.Errorf("scenario %q: unknown topology %q", sc.Name, sc.Topology)
	}
	return nil
}

// normalize converts the interface keyed maps yaml.v2 produces into string
// keyed maps so scenarios can be encoded as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

func baseName(sc types.Scenario, def string) string {
	if sc.Base != "" {
		return sc.Base
	}
	if _, ok := builtins[sc.Name]; ok {
		return sc.Name
	}
	return def
}

// decodeOverrides decodes the scenario's state overrides onto out by JSON
// field name. Fields that are not mentioned keep their base value.
func decodeOverrides(overrides map[string]any, out any) error {
	if len(overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create state decoder: %w", err)
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("invalid state overrides: %w", err)
	}
	return nil
}

// BuildSingle builds the starting snapshot of a single module scenario.
func BuildSingle(sc types.Scenario) (types.SimulationState, error) {
	if sc.Topology != types.TopologySingle {
		return types.SimulationState{}, fmt.Errorf("scenario %q is not a single module scenario", sc.Name)
	}
	base := baseName(sc, ColdStart)
	s, ok := Single(base)
	if !ok {
		return types.SimulationState{}, fmt.Errorf("%w: base %q", ErrUnknownScenario, base)
	}
	if sc.Utility != nil {
		s.Utility = *sc.Utility
	}
	for id, closed := range sc.Breakers {
		b, err := s.Breakers.With(id, closed)
		if err != nil {
			return types.SimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		s.Breakers = b
	}
	if err := decodeOverrides(sc.State, &s); err != nil {
		return types.SimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	if sc.Seed != 0 {
		s.Seed = sc.Seed
	}
	if err := s.Settings.Validate(); err != nil {
		return types.SimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	s.Module.Battery.Health = engine.HealthFromCycles(s.Module.Battery.CycleCount)
	s.Alarms = engine.SingleAlarms(s)
	return s, nil
}

// BuildParallel builds the starting snapshot of a parallel scenario.
func BuildParallel(sc types.Scenario) (types.ParallelSimulationState, error) {
	if sc.Topology != types.TopologyParallel {
		return types.ParallelSimulationState{}, fmt.Errorf("scenario %q is not a parallel scenario", sc.Name)
	}
	base := baseName(sc, ParallelColdStart)
	s, ok := Parallel(base)
	if !ok {
		return types.ParallelSimulationState{}, fmt.Errorf("%w: base %q", ErrUnknownScenario, base)
	}
	if sc.Utility != nil {
		s.Utility = *sc.Utility
	}
	for id, closed := range sc.Breakers {
		b, err := s.Breakers.With(id, closed)
		if err != nil {
			return types.ParallelSimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		s.Breakers = b
	}
	if err := decodeOverrides(sc.State, &s); err != nil {
		return types.ParallelSimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	if sc.Seed != 0 {
		s.Seed = sc.Seed
	}
	if err := s.Settings.Validate(); err != nil {
		return types.ParallelSimulationState{}, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	for i := range s.Modules {
		s.Modules[i].Battery.Health = engine.HealthFromCycles(s.Modules[i].Battery.CycleCount)
	}
	s.Alarms = engine.ParallelAlarms(s)
	return s, nil
}
