// Command poolsim drives configured object pools through a simulated frame
// loop and prints the resulting pool statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/poolkit/internal/config"
	"github.com/coachpo/poolkit/internal/observability"
	"github.com/coachpo/poolkit/internal/pool"
	"github.com/coachpo/poolkit/internal/registry"
	"github.com/coachpo/poolkit/internal/telemetry"
)

const (
	defaultConfigPath = "config/poolsim.yaml"
	loggerPrefix      = "poolsim "
	meterName         = "github.com/coachpo/poolkit/cmd/poolsim"
	shutdownTimeout   = 10 * time.Second
)

type options struct {
	configPath string
	frames     int
	debug      bool
}

func main() {
	opts := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewStdLogger(logger, opts.debug))

	if err := run(ctx, logger, opts, os.Stdout); err != nil {
		logger.Printf("poolsim failed: %v", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.IntVar(&opts.frames, "frames", 0, "Override simulation.frames")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return opts
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

// metricsRegistration unregisters pool instruments when the registry shuts down.
type metricsRegistration struct {
	reg metric.Registration
}

func (m *metricsRegistration) Close() error {
	if m == nil || m.reg == nil {
		return nil
	}
	return m.reg.Unregister()
}

// buildRegistry provides the process services. Shutdown order is the reverse
// of resolution: metrics, then pools, then the telemetry exporter.
func buildRegistry(cfg config.AppConfig) (*registry.Registry, error) {
	reg := registry.New()
	if err := registry.Provide(reg, func(ctx context.Context, _ *registry.Registry) (*telemetry.Provider, error) {
		return telemetry.NewProvider(ctx, telemetry.FromAppConfig(cfg.Environment, cfg.Telemetry))
	}, registry.WithRetry(3)); err != nil {
		return nil, err
	}
	if err := registry.Provide(reg, func(context.Context, *registry.Registry) (*pool.Manager, error) {
		manager := pool.NewManager()
		if err := registerPools(manager, cfg); err != nil {
			_ = manager.Shutdown(context.Background())
			return nil, err
		}
		return manager, nil
	}); err != nil {
		return nil, err
	}
	if err := registry.Provide(reg, func(ctx context.Context, r *registry.Registry) (*metricsRegistration, error) {
		provider, err := registry.Resolve[*telemetry.Provider](ctx, r)
		if err != nil {
			return nil, err
		}
		manager, err := registry.Resolve[*pool.Manager](ctx, r)
		if err != nil {
			return nil, err
		}
		handle, err := telemetry.ObservePools(provider.Meter(meterName), provider.Environment(), manager)
		if err != nil {
			return nil, fmt.Errorf("observe pools: %w", err)
		}
		return &metricsRegistration{reg: handle}, nil
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func run(ctx context.Context, logger *log.Logger, opts options, out io.Writer) (err error) {
	cfg, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	if opts.frames > 0 {
		cfg.Simulation.Frames = opts.frames
	}
	logger.Printf("configuration initialised: env=%s, pools=%d, frames=%d",
		cfg.Environment, len(cfg.Pools), cfg.Simulation.Frames)

	reg, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := reg.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if _, err := registry.Resolve[*metricsRegistration](ctx, reg); err != nil {
		return fmt.Errorf("initialise services: %w", err)
	}
	manager := registry.MustResolve[*pool.Manager](ctx, reg)
	for _, inst := range reg.Instances() {
		logger.Printf("service ready: type=%s id=%s attempts=%d", inst.Type, inst.ID, inst.Attempts)
	}

	sim, err := newSimulation(manager, cfg.Simulation)
	if err != nil {
		return err
	}

	started := time.Now()
	report, err := sim.run(ctx)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	logger.Printf("simulation finished in %v: frames=%d spawned=%d expired=%d sparks=%d",
		time.Since(started), report.Frames, report.Spawned, report.Expired, report.Sparks)

	if err := manager.WriteSnapshot(out); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	_, err = fmt.Fprintln(out)
	return err
}
