package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/poolkit/errs"
	"github.com/coachpo/poolkit/internal/config"
	"github.com/coachpo/poolkit/internal/observability"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	shutdownPollInterval   = 10 * time.Millisecond
)

var (
	// ErrPoolNotRegistered indicates the requested pool has not been registered.
	ErrPoolNotRegistered = errors.New("pool manager: pool not registered")
	// ErrPoolManagerClosed indicates the manager is shutting down and cannot service requests.
	ErrPoolManagerClosed = errors.New("pool manager: shutdown in progress")
)

// Managed is the type-erased view of a pool that the Manager coordinates.
// Implementations must be safe for concurrent use.
type Managed interface {
	Name() string
	Stats() Stats
	Clear()
	Close() error
	ActiveStacks() []string
}

// Manager coordinates named pools of different item types, providing lookup,
// stats snapshots and graceful shutdown.
type Manager struct {
	mu           sync.RWMutex
	pools        map[string]Managed
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewManager constructs a manager ready for pool registration.
func NewManager() *Manager {
	return &Manager{
		pools:      make(map[string]Managed),
		shutdownCh: make(chan struct{}),
	}
}

// add registers a synchronized pool under its name.
func (m *Manager) add(p Managed) error {
	if p == nil {
		return errs.New("pool manager", errs.CodeInvalid, errs.WithMessage("pool must not be nil"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing() {
		return ErrPoolManagerClosed
	}
	name := p.Name()
	if _, exists := m.pools[name]; exists {
		return errs.New("pool manager", errs.CodeConflict, errs.WithMessage(fmt.Sprintf("pool %s already registered", name)))
	}
	m.pools[name] = p
	observability.Log().Debug("pool registered", observability.F("pool", name))
	return nil
}

// Register builds a synchronized pool from cfg and adds it to m.
func Register[T any](m *Manager, cfg Config[T]) (*Synchronized[T], error) {
	p, err := NewSynchronized(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.add(p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterSpec builds a pool named name from a configuration entry, warms it
// and adds it to m.
func RegisterSpec[T any](m *Manager, name string, spec config.PoolSpec, hooks Hooks[T]) (*Synchronized[T], error) {
	p, err := NewSynchronized(Config[T]{
		Hooks:           hooks,
		Name:            name,
		DefaultCapacity: spec.DefaultCapacity,
		MaxSize:         spec.MaxSize,
		CollectionCheck: spec.CollectionCheckEnabled(),
	})
	if err != nil {
		return nil, err
	}
	if spec.Warm > 0 {
		if err := p.Warm(spec.Warm); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("pool %s: warm: %w", name, err)
		}
	}
	if err := m.add(p); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Lookup returns the pool registered under name with item type T.
func Lookup[T any](m *Manager, name string) (*Synchronized[T], error) {
	p, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	typed, ok := p.(*Synchronized[T])
	if !ok {
		var zero T
		return nil, errs.New("pool manager", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("pool %s does not hold %T items (%T)", name, zero, p)))
	}
	return typed, nil
}

// Names returns the registered pool names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the stats of every registered pool sorted by name.
func (m *Manager) Snapshot() []Stats {
	pools := m.sorted()
	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	return out
}

// WriteSnapshot writes Snapshot to w as a JSON array.
func (m *Manager) WriteSnapshot(w io.Writer) error {
	return WriteJSON(w, m.Snapshot())
}

// Shutdown stops registration, waits until no pool has checked-out items or
// ctx ends (5 seconds when ctx has no deadline), then closes every pool.
// Outstanding items are logged with their acquisition stacks when the debug
// build tag is set. Pools are closed even when the wait times out.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})

	var waitErr error
	if remaining := m.waitForReturns(ctx); remaining > 0 {
		m.logOutstanding(remaining)
		waitErr = fmt.Errorf("shutdown timeout: %d pooled objects unreturned", remaining)
	}

	closers := concpool.New().WithErrors()
	for _, p := range m.sorted() {
		closers.Go(func() error {
			if err := p.Close(); err != nil {
				return fmt.Errorf("close pool %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	closeErr := closers.Wait()

	return observability.AggregateErrors("pool manager shutdown", []error{waitErr, closeErr})
}

func (m *Manager) waitForReturns(ctx context.Context) int {
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()
	for {
		remaining := m.activeCount()
		if remaining == 0 {
			return 0
		}
		select {
		case <-ctx.Done():
			return m.activeCount()
		case <-ticker.C:
		}
	}
}

func (m *Manager) activeCount() int {
	total := 0
	for _, p := range m.sorted() {
		total += p.Stats().Active
	}
	return total
}

func (m *Manager) closing() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

func (m *Manager) lookup(name string) (Managed, error) {
	if m.closing() {
		return nil, ErrPoolManagerClosed
	}
	m.mu.RLock()
	p, ok := m.pools[strings.TrimSpace(name)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotRegistered, name)
	}
	return p, nil
}

func (m *Manager) sorted() []Managed {
	m.mu.RLock()
	out := make([]Managed, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (m *Manager) logOutstanding(remaining int) {
	observability.Log().Error("pool manager: shutdown timed out with objects in flight",
		observability.F("remaining", remaining))
	for _, p := range m.sorted() {
		for _, stack := range p.ActiveStacks() {
			observability.Log().Error("pool manager: leak candidate",
				observability.F("pool", p.Name()),
				observability.F("stack", stack))
		}
	}
}
