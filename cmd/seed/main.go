package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/upstwin/upstwin/pkg/log"
	"github.com/upstwin/upstwin/pkg/scenario"
	"github.com/upstwin/upstwin/pkg/storage"
	"github.com/upstwin/upstwin/pkg/types"
)

// training is the stock exercise library written next to the built-ins.
var training = []types.Scenario{
	{
		Name:        "brownout",
		Description: "Online with the utility sagging below the live threshold",
		Topology:    types.TopologySingle,
		Base:        "normal-online",
		Utility:     &types.Utility{Voltage: 360, Frequency: 50},
	},
	{
		Name:        "low-battery-online",
		Description: "Online with a battery that has not recovered from the last outage",
		Topology:    types.TopologySingle,
		Base:        "normal-online",
		State: map[string]any{
			"module": map[string]any{"battery": map[string]any{"chargeLevel": 25.0, "cycleCount": 900.0}},
		},
	},
	{
		Name:        "maintenance-return",
		Description: "Maintenance bypass with the module energized, ready to return to inverter",
		Topology:    types.TopologySingle,
		Base:        "maintenance-bypass",
		Breakers:    map[string]bool{"Q1": true, "QF1": true},
	},
	{
		Name:        "parallel-light-load",
		Description: "Parallel online with a single load branch",
		Topology:    types.TopologyParallel,
		Base:        "parallel-online",
		Breakers:    map[string]bool{"LOAD2": false, "LOAD3": false},
	},
}

func main() {
	s := storage.Configured()
	overwrite := lflag.Bool("overwrite", false, "Replace scenarios that already exist in storage")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding scenario library")

	var library []types.Scenario
	for _, b := range scenario.Builtins() {
		b.Base = b.Name
		b.Seed = scenario.DefaultSeed
		library = append(library, b)
	}
	library = append(library, training...)

	var failed bool
	for _, sc := range library {
		if !*overwrite {
			_, err := s.GetScenario(ctx, sc.Name)
			if err == nil {
				log.Ctx(ctx).InfoContext(ctx, "scenario exists, skipping", slog.String("name", sc.Name))
				continue
			} else if !errors.Is(err, storage.ErrScenarioNotFound) {
				log.Ctx(ctx).ErrorContext(ctx, "failed to check scenario", slog.String("name", sc.Name), slog.Any("error", err))
				failed = true
				continue
			}
		}
		if err := build(sc); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid scenario", slog.String("name", sc.Name), slog.Any("error", err))
			failed = true
			continue
		}
		if err := s.PutScenario(ctx, sc); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save scenario", slog.String("name", sc.Name), slog.Any("error", err))
			failed = true
			continue
		}
		log.Ctx(ctx).InfoContext(ctx, "saved scenario", slog.String("name", sc.Name))
	}
	if failed {
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete", slog.Int("count", len(library)))
}

func build(sc types.Scenario) error {
	switch sc.Topology {
	case types.TopologyParallel:
		_, err := scenario.BuildParallel(sc)
		return err
	default:
		_, err := scenario.BuildSingle(sc)
		return err
	}
}
