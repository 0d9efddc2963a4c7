package pool

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/poolkit/errs"
	"github.com/coachpo/poolkit/internal/config"
)

type spark struct{ ttl int }

func sparkHooks(destroyed *int) Hooks[*spark] {
	return Hooks[*spark]{
		Create:    func() (*spark, error) { return &spark{}, nil },
		OnRelease: func(s *spark) { s.ttl = 0 },
		OnDestroy: func(*spark) { *destroyed++ },
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager()
	require.NotNil(t, m)
	require.NotNil(t, m.pools)
	require.Empty(t, m.Names())
}

func TestRegisterAndLookup(t *testing.T) {
	m := NewManager()
	destroyed := 0

	p, err := Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 4})
	require.NoError(t, err)

	found, err := Lookup[*spark](m, "sparks")
	require.NoError(t, err)
	require.Same(t, p, found)

	_, err = Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 4})
	require.True(t, errs.HasCode(err, errs.CodeConflict), "duplicate registration: %v", err)

	_, err = Lookup[*projectile](m, "sparks")
	require.True(t, errs.HasCode(err, errs.CodeInvalid), "wrong item type: %v", err)

	_, err = Lookup[*spark](m, "missing")
	require.ErrorIs(t, err, ErrPoolNotRegistered)
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	m := NewManager()
	destroyed := 0
	_, err := Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 0})
	require.Error(t, err)
	require.Empty(t, m.Names())
}

func TestRegisterSpecWarmsPool(t *testing.T) {
	m := NewManager()
	destroyed := 0
	disabled := false

	p, err := RegisterSpec(m, "sparks", config.PoolSpec{
		DefaultCapacity: 4,
		MaxSize:         8,
		CollectionCheck: &disabled,
		Warm:            3,
	}, sparkHooks(&destroyed))
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, "sparks", stats.Name)
	require.Equal(t, 8, stats.MaxSize)
	require.Equal(t, 3, stats.Idle)
	require.Equal(t, uint64(3), stats.Created)

	item, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(item))
	require.NoError(t, p.Release(item), "collection check disabled in config")
}

func TestRegisterSpecWarmFailureClosesPool(t *testing.T) {
	m := NewManager()
	boom := errors.New("no texture")
	_, err := RegisterSpec(m, "sparks", config.PoolSpec{MaxSize: 4, Warm: 2}, Hooks[*spark]{
		Create: func() (*spark, error) { return nil, boom },
	})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrCreateFailed)
	require.Empty(t, m.Names())
}

func TestSnapshotSortedAndJSON(t *testing.T) {
	m := NewManager()
	destroyed := 0
	_, err := Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 4})
	require.NoError(t, err)
	bullets, err := Register(m, Config[*projectile]{
		Name:    "bullets",
		Hooks:   Hooks[*projectile]{Create: func() (*projectile, error) { return &projectile{}, nil }},
		MaxSize: 2,
	})
	require.NoError(t, err)

	_, err = bullets.Acquire()
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "bullets", snap[0].Name)
	require.Equal(t, 1, snap[0].Active)
	require.Equal(t, "sparks", snap[1].Name)

	var buf bytes.Buffer
	require.NoError(t, m.WriteSnapshot(&buf))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "bullets", decoded[0]["name"])
	require.EqualValues(t, 1, decoded[0]["active"])
}

func TestShutdownWaitsForReturns(t *testing.T) {
	m := NewManager()
	destroyed := 0
	p, err := Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 4})
	require.NoError(t, err)

	item, err := p.Acquire()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		_ = p.Release(item)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()

	require.Equal(t, 1, destroyed, "returned item is destroyed when the pool closes")
	require.True(t, p.Stats().Closed)

	_, err = Lookup[*spark](m, "sparks")
	require.ErrorIs(t, err, ErrPoolManagerClosed)
	_, err = Register(m, Config[*spark]{Name: "late", Hooks: sparkHooks(&destroyed), MaxSize: 1})
	require.ErrorIs(t, err, ErrPoolManagerClosed)
}

func TestShutdownTimesOutWithOutstandingItems(t *testing.T) {
	m := NewManager()
	destroyed := 0
	p, err := Register(m, Config[*spark]{Name: "sparks", Hooks: sparkHooks(&destroyed), MaxSize: 4})
	require.NoError(t, err)
	require.NoError(t, p.Warm(2))

	_, err = p.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = m.Shutdown(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 pooled objects unreturned")

	require.True(t, p.Stats().Closed, "pools are closed even after a timeout")
	require.Equal(t, 1, destroyed, "the remaining idle item is destroyed")
}
