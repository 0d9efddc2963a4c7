package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/poolkit/internal/pool"
)

// PoolSource supplies pool stats on demand. *pool.Manager satisfies it.
type PoolSource interface {
	Snapshot() []pool.Stats
}

// ObservePools registers observable instruments that report every pool in
// source on each collection: idle, active and live item gauges, plus
// created, destroyed and double-release counters.
func ObservePools(meter metric.Meter, environment string, source PoolSource) (metric.Registration, error) {
	if meter == nil || source == nil {
		return nil, fmt.Errorf("observe pools: meter and source are required")
	}

	idle, err := meter.Int64ObservableGauge("poolkit.pool.items.idle",
		metric.WithDescription("Idle items retained by the pool"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("idle gauge: %w", err)
	}
	active, err := meter.Int64ObservableGauge("poolkit.pool.items.active",
		metric.WithDescription("Items currently checked out of the pool"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("active gauge: %w", err)
	}
	live, err := meter.Int64ObservableGauge("poolkit.pool.items.live",
		metric.WithDescription("Live items (idle + active)"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("live gauge: %w", err)
	}
	created, err := meter.Int64ObservableCounter("poolkit.pool.items.created",
		metric.WithDescription("Items produced by the create hook"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("created counter: %w", err)
	}
	destroyed, err := meter.Int64ObservableCounter("poolkit.pool.items.destroyed",
		metric.WithDescription("Items passed to the destroy hook"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, fmt.Errorf("destroyed counter: %w", err)
	}
	doubleReleases, err := meter.Int64ObservableCounter("poolkit.pool.double_releases",
		metric.WithDescription("Releases rejected by the collection check"),
		metric.WithUnit("{release}"))
	if err != nil {
		return nil, fmt.Errorf("double release counter: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		for _, stats := range source.Snapshot() {
			attrs := metric.WithAttributes(PoolAttributes(environment, stats.Name)...)
			observer.ObserveInt64(idle, int64(stats.Idle), attrs)
			observer.ObserveInt64(active, int64(stats.Active), attrs)
			observer.ObserveInt64(live, int64(stats.All), attrs)
			observer.ObserveInt64(created, int64(stats.Created), attrs)
			observer.ObserveInt64(destroyed, int64(stats.Destroyed), attrs)
			observer.ObserveInt64(doubleReleases, int64(stats.DoubleReleases), attrs)
		}
		return nil
	}, idle, active, live, created, destroyed, doubleReleases)
}
