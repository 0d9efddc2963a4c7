package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/coachpo/poolkit/internal/config"
	"github.com/coachpo/poolkit/internal/pool"
)

type staticSource []pool.Stats

func (s staticSource) Snapshot() []pool.Stats { return s }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func gaugeValue(t *testing.T, m metricdata.Metrics, poolName string) int64 {
	t.Helper()
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "%s is not an int64 gauge", m.Name)
	for _, dp := range gauge.DataPoints {
		if v, found := dp.Attributes.Value(AttrPoolName); found && v.AsString() == poolName {
			return dp.Value
		}
	}
	t.Fatalf("no %s data point for pool %s", m.Name, poolName)
	return 0
}

func sumValue(t *testing.T, m metricdata.Metrics, poolName string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	require.True(t, sum.IsMonotonic)
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(AttrPoolName); found && v.AsString() == poolName {
			return dp.Value
		}
	}
	t.Fatalf("no %s data point for pool %s", m.Name, poolName)
	return 0
}

func TestObservePoolsReportsEveryPool(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	source := staticSource{
		{Name: "projectiles", MaxSize: 100, Idle: 4, Active: 6, All: 10, Created: 12, Destroyed: 2},
		{Name: "sparks", MaxSize: 64, Idle: 16, All: 16, Created: 16, DoubleReleases: 3},
	}
	reg, err := ObservePools(provider.Meter("poolkit-test"), "staging", source)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Unregister() })

	metrics := collect(t, reader)
	require.Equal(t, int64(4), gaugeValue(t, metrics["poolkit.pool.items.idle"], "projectiles"))
	require.Equal(t, int64(6), gaugeValue(t, metrics["poolkit.pool.items.active"], "projectiles"))
	require.Equal(t, int64(10), gaugeValue(t, metrics["poolkit.pool.items.live"], "projectiles"))
	require.Equal(t, int64(16), gaugeValue(t, metrics["poolkit.pool.items.live"], "sparks"))
	require.Equal(t, int64(12), sumValue(t, metrics["poolkit.pool.items.created"], "projectiles"))
	require.Equal(t, int64(2), sumValue(t, metrics["poolkit.pool.items.destroyed"], "projectiles"))
	require.Equal(t, int64(3), sumValue(t, metrics["poolkit.pool.double_releases"], "sparks"))

	gauge := metrics["poolkit.pool.items.idle"].Data.(metricdata.Gauge[int64])
	env, ok := gauge.DataPoints[0].Attributes.Value(AttrEnvironment)
	require.True(t, ok)
	require.Equal(t, "staging", env.AsString())
}

func TestObservePoolsTracksLiveManager(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	manager := pool.NewManager()
	p, err := pool.Register(manager, pool.Config[*int]{
		Name:    "ints",
		Hooks:   pool.Hooks[*int]{Create: func() (*int, error) { return new(int), nil }},
		MaxSize: 4,
	})
	require.NoError(t, err)

	_, err = ObservePools(provider.Meter("poolkit-test"), "development", manager)
	require.NoError(t, err)

	item, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, int64(1), gaugeValue(t, collect(t, reader)["poolkit.pool.items.active"], "ints"))

	require.NoError(t, p.Release(item))
	metrics := collect(t, reader)
	require.Equal(t, int64(0), gaugeValue(t, metrics["poolkit.pool.items.active"], "ints"))
	require.Equal(t, int64(1), gaugeValue(t, metrics["poolkit.pool.items.idle"], "ints"))
}

func TestObservePoolsRequiresSource(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	_, err := ObservePools(provider.Meter("poolkit-test"), "development", nil)
	require.Error(t, err)
}

func TestFromAppConfigOverridesDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	cfg := FromAppConfig(config.EnvStaging, config.TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "http://collector:4318",
		ServiceName:    "poolsim",
		MetricInterval: 5 * time.Second,
	})
	require.True(t, cfg.Enabled)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "poolsim", cfg.ServiceName)
	require.Equal(t, 5*time.Second, cfg.MetricInterval)
	require.Equal(t, "collector:4318", stripScheme(cfg.OTLPEndpoint))
}

func TestDisabledProviderUsesGlobalMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "Production"})
	require.NoError(t, err)
	require.NotNil(t, p.Meter("poolkit"))
	require.Equal(t, "production", p.Environment())
	require.NoError(t, p.Shutdown(context.Background()))
}
