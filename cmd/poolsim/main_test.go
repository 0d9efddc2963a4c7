package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/poolkit/internal/config"
	"github.com/coachpo/poolkit/internal/pool"
)

func testConfig(frames int) config.AppConfig {
	cfg := config.Default()
	cfg.Simulation.Frames = frames
	return cfg
}

func newTestSimulation(t *testing.T, cfg config.AppConfig) (*pool.Manager, *simulation) {
	t.Helper()
	manager := pool.NewManager()
	require.NoError(t, registerPools(manager, cfg))
	sim, err := newSimulation(manager, cfg.Simulation)
	require.NoError(t, err)
	return manager, sim
}

func TestSimulationReturnsEveryEntity(t *testing.T) {
	cfg := testConfig(200)
	manager, sim := newTestSimulation(t, cfg)

	report, err := sim.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 200, report.Frames)
	require.Equal(t, 200*cfg.Simulation.SpawnPerFrame, report.Spawned)
	require.Greater(t, report.Expired, 0)
	require.Equal(t, report.Expired*sparksPerImpact, report.Sparks)

	for _, stats := range manager.Snapshot() {
		require.Zero(t, stats.Active, "pool %s", stats.Name)
		require.Zero(t, stats.DoubleReleases, "pool %s", stats.Name)
		require.LessOrEqual(t, stats.Idle, stats.MaxSize, "pool %s", stats.Name)
		require.Equal(t, stats.Created-stats.Destroyed, uint64(stats.All), "pool %s", stats.Name)
	}
	require.NoError(t, manager.Shutdown(context.Background()))
}

func TestSimulationIsDeterministicForSeed(t *testing.T) {
	cfg := testConfig(120)
	_, first := newTestSimulation(t, cfg)
	_, second := newTestSimulation(t, cfg)

	a, err := first.run(context.Background())
	require.NoError(t, err)
	b, err := second.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestSimulationStopsOnCancel(t *testing.T) {
	manager, sim := newTestSimulation(t, testConfig(1000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := sim.run(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Frames)
	for _, stats := range manager.Snapshot() {
		require.Zero(t, stats.Active)
	}
}

func TestSimulationRequiresPools(t *testing.T) {
	manager := pool.NewManager()
	_, err := newSimulation(manager, config.Default().Simulation)
	require.ErrorIs(t, err, pool.ErrPoolNotRegistered)
}

func TestRunPrintsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: staging
pools:
  projectiles:
    maxSize: 8
  sparks:
    maxSize: 8
    collectionCheck: false
simulation:
  frames: 50
  spawnPerFrame: 2
  lifetimeTicks: 6
  seed: 7
`), 0o600))

	var out bytes.Buffer
	logger := log.New(io.Discard, "", 0)
	require.NoError(t, run(context.Background(), logger, options{configPath: path}, &out))

	var snapshot []pool.Stats
	require.NoError(t, json.Unmarshal(out.Bytes(), &snapshot))
	require.Len(t, snapshot, 2)
	require.Equal(t, "projectiles", snapshot[0].Name)
	require.Equal(t, "sparks", snapshot[1].Name)
	for _, stats := range snapshot {
		require.LessOrEqual(t, stats.Idle, 8)
		require.Zero(t, stats.Active)
		require.Greater(t, stats.Acquired, uint64(0))
	}
}

func TestRunFallsBackToDefaults(t *testing.T) {
	var out bytes.Buffer
	logger := log.New(io.Discard, "", 0)
	opts := options{configPath: filepath.Join(t.TempDir(), "missing.yaml"), frames: 10}
	require.NoError(t, run(context.Background(), logger, opts, &out))
	require.Contains(t, out.String(), `"name":"projectiles"`)
}
