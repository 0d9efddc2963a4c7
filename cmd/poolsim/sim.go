package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/coachpo/poolkit/internal/config"
	"github.com/coachpo/poolkit/internal/pool"
)

const (
	projectilePoolName = "projectiles"
	sparkPoolName      = "sparks"
	sparksPerImpact    = 2
	sparkLifetimeTicks = 3
)

// entity is the pooled game object: a projectile or a spark.
type entity struct {
	kind   string
	ttl    int
	x, y   float64
	vx, vy float64
}

func entityHooks(kind string) pool.Hooks[*entity] {
	return pool.Hooks[*entity]{
		Create: func() (*entity, error) { return &entity{kind: kind}, nil },
		OnRelease: func(e *entity) {
			*e = entity{kind: e.kind}
		},
	}
}

// registerPools creates one entity pool per configured spec.
func registerPools(m *pool.Manager, cfg config.AppConfig) error {
	for _, name := range cfg.PoolNames() {
		if _, err := pool.RegisterSpec(m, name, cfg.Pools[name], entityHooks(name)); err != nil {
			return fmt.Errorf("register pool %s: %w", name, err)
		}
	}
	return nil
}

type simReport struct {
	Frames  int `json:"frames"`
	Spawned int `json:"spawned"`
	Expired int `json:"expired"`
	Sparks  int `json:"sparks"`
}

type simulation struct {
	cfg         config.SimulationConfig
	projectiles *pool.Synchronized[*entity]
	sparks      *pool.Synchronized[*entity]
	rng         *rand.Rand

	liveProjectiles []*entity
	liveSparks      []*entity
	report          simReport
}

func newSimulation(m *pool.Manager, cfg config.SimulationConfig) (*simulation, error) {
	projectiles, err := pool.Lookup[*entity](m, projectilePoolName)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", projectilePoolName, err)
	}
	sparks, err := pool.Lookup[*entity](m, sparkPoolName)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", sparkPoolName, err)
	}
	return &simulation{
		cfg:         cfg,
		projectiles: projectiles,
		sparks:      sparks,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// run advances the configured number of frames, or until ctx ends, then
// returns every live entity to its pool.
func (s *simulation) run(ctx context.Context) (simReport, error) {
	for frame := 0; frame < s.cfg.Frames; frame++ {
		if ctx.Err() != nil {
			break
		}
		if err := s.step(); err != nil {
			_ = s.drain()
			return s.report, fmt.Errorf("frame %d: %w", frame, err)
		}
		s.report.Frames++
	}
	return s.report, s.drain()
}

func (s *simulation) step() error {
	for i := 0; i < s.cfg.SpawnPerFrame; i++ {
		p, err := s.projectiles.Acquire()
		if err != nil {
			return err
		}
		half := s.cfg.LifetimeTicks / 2
		p.ttl = half + s.rng.Intn(s.cfg.LifetimeTicks-half+1)
		p.vx = s.rng.Float64()*2 - 1
		p.vy = s.rng.Float64()*2 - 1
		s.liveProjectiles = append(s.liveProjectiles, p)
		s.report.Spawned++
	}

	var impacts []*entity
	kept := s.liveProjectiles[:0]
	for _, p := range s.liveProjectiles {
		p.x += p.vx
		p.y += p.vy
		p.ttl--
		if p.ttl > 0 {
			kept = append(kept, p)
			continue
		}
		impacts = append(impacts, &entity{x: p.x, y: p.y})
		if err := s.projectiles.Release(p); err != nil {
			return err
		}
		s.report.Expired++
	}
	s.liveProjectiles = kept

	keptSparks := s.liveSparks[:0]
	for _, sp := range s.liveSparks {
		sp.ttl--
		if sp.ttl > 0 {
			keptSparks = append(keptSparks, sp)
			continue
		}
		if err := s.sparks.Release(sp); err != nil {
			return err
		}
	}
	s.liveSparks = keptSparks

	for _, hit := range impacts {
		for i := 0; i < sparksPerImpact; i++ {
			sp, err := s.sparks.Acquire()
			if err != nil {
				return err
			}
			sp.x, sp.y = hit.x, hit.y
			sp.ttl = sparkLifetimeTicks
			s.liveSparks = append(s.liveSparks, sp)
			s.report.Sparks++
		}
	}
	return nil
}

func (s *simulation) drain() error {
	var firstErr error
	for _, p := range s.liveProjectiles {
		if err := s.projectiles.Release(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sp := range s.liveSparks {
		if err := s.sparks.Release(sp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.liveProjectiles = nil
	s.liveSparks = nil
	return firstErr
}
