package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upstwin/upstwin/pkg/types"
)

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "scenarios")
	f := NewFileProvider(dir)
	require.NoError(t, f.Validate())
	defer f.Close()

	t.Run("Empty Dir", func(t *testing.T) {
		list, err := f.ListScenarios(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = f.GetScenario(ctx, "missing")
		assert.ErrorIs(t, err, ErrScenarioNotFound)
	})

	t.Run("Put Get List", func(t *testing.T) {
		sc := types.Scenario{
			Name:        "low-battery",
			Description: "online with a half charged battery",
			Topology:    types.TopologySingle,
			Base:        "normal-online",
			Seed:        7,
			Utility:     &types.Utility{Voltage: 400, Frequency: 50},
			Breakers:    map[string]bool{"LOAD3": false},
			State:       map[string]any{"module": map[string]any{"battery": map[string]any{"chargeLevel": 55.5}}},
		}
		require.NoError(t, f.PutScenario(ctx, sc))
		require.NoError(t, f.PutScenario(ctx, types.Scenario{Name: "degraded", Topology: types.TopologyParallel, Base: "parallel-degraded"}))

		got, err := f.GetScenario(ctx, "low-battery")
		require.NoError(t, err)
		assert.Equal(t, sc.Name, got.Name)
		assert.Equal(t, sc.Utility, got.Utility)
		assert.Equal(t, sc.Breakers, got.Breakers)
		assert.Equal(t, sc.State, got.State)
		assert.Equal(t, uint64(7), got.Seed)

		list, err := f.ListScenarios(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "degraded", list[0].Name)
		assert.Equal(t, "low-battery", list[1].Name)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, f.PutScenario(ctx, types.Scenario{Name: "degraded", Topology: types.TopologyParallel, Description: "v2"}))
		got, err := f.GetScenario(ctx, "degraded")
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Description)
	})

	t.Run("Skips Broken Files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [oops"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
		list, err := f.ListScenarios(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		_, err = f.GetScenario(ctx, "broken")
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("Invalid Names", func(t *testing.T) {
		_, err := f.GetScenario(ctx, "../etc/passwd")
		assert.ErrorContains(t, err, "invalid scenario name")
		err = f.PutScenario(ctx, types.Scenario{Name: ".hidden", Topology: types.TopologySingle})
		assert.ErrorContains(t, err, "invalid scenario name")
		err = f.PutScenario(ctx, types.Scenario{Name: "nope", Topology: "triple"})
		assert.ErrorContains(t, err, "unknown topology")
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, NewFileProvider("").Validate())
	})
}
