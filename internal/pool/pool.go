// Package pool contains bounded object pooling primitives and helpers.
package pool

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/poolkit/errs"
	"github.com/coachpo/poolkit/internal/observability"
)

const (
	// DefaultCapacity is the idle storage hint used when none is configured.
	DefaultCapacity = 10

	defaultName         = "pool"
	overflowLogInterval = 5 * time.Second
)

var (
	// ErrCreateFailed matches errors produced when the create hook fails.
	ErrCreateFailed = errs.New(defaultName, errs.CodeCreateFailed)
	// ErrDoubleRelease matches errors produced when an idle item is released again.
	ErrDoubleRelease = errs.New(defaultName, errs.CodeDoubleRelease)
	// ErrPoolClosed indicates the pool was closed and no longer hands out items.
	ErrPoolClosed = errors.New("pool: closed")
)

// Hooks are the caller-supplied lifecycle callbacks of a pool. Only Create is required.
type Hooks[T any] struct {
	// Create builds a new item when no idle item is available.
	Create func() (T, error)
	// OnAcquire runs on every item just before Acquire returns it.
	OnAcquire func(T)
	// OnRelease runs on every item handed back through Release.
	OnRelease func(T)
	// OnDestroy runs when an item leaves the pool for good.
	OnDestroy func(T)
}

// Config describes a pool.
type Config[T any] struct {
	Hooks[T]

	// Name labels errors, logs and metrics.
	Name string
	// DefaultCapacity pre-sizes idle storage. It is a hint, not a limit.
	DefaultCapacity int
	// MaxSize is the most idle items the pool retains. Items released
	// beyond it are destroyed.
	MaxSize int
	// CollectionCheck turns on double-release detection.
	CollectionCheck bool
}

// Pool hands out reusable items and reclaims them on release, retaining at
// most MaxSize idle items. Idle items are reused last-in-first-out.
//
// Pool is not safe for concurrent use; wrap it in Synchronized when several
// goroutines share it.
type Pool[T any] struct {
	name  string
	hooks Hooks[T]

	maxSize         int
	collectionCheck bool

	idle     []T
	idleKeys map[any]struct{}
	active   map[any]struct{}
	countAll int
	closed   bool

	counters    counters
	debug       *debugState
	overflowLog rate.Sometimes
}

// New validates cfg and returns an empty pool.
func New[T any](cfg Config[T]) (*Pool[T], error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = defaultName
	}
	component := componentFor(name)
	if cfg.Create == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("create hook must be provided"))
	}
	if cfg.MaxSize <= 0 {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("max size must be positive, got %d", cfg.MaxSize)))
	}
	capacity := cfg.DefaultCapacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > cfg.MaxSize {
		capacity = cfg.MaxSize
	}
	if cfg.CollectionCheck && !checkableType(reflect.TypeFor[T]()) {
		return nil, errs.New(component, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("collection check needs items with identity, %v has none", reflect.TypeFor[T]())),
			errs.WithRemediation("pool pointers or disable the collection check"))
	}

	p := &Pool[T]{
		name:            name,
		hooks:           cfg.Hooks,
		maxSize:         cfg.MaxSize,
		collectionCheck: cfg.CollectionCheck,
		idle:            make([]T, 0, capacity),
		debug:           newDebugState(name),
		overflowLog:     rate.Sometimes{First: 1, Interval: overflowLogInterval},
	}
	if cfg.CollectionCheck {
		p.idleKeys = make(map[any]struct{}, capacity)
		p.active = make(map[any]struct{}, capacity)
	}
	return p, nil
}

// Name returns the pool label.
func (p *Pool[T]) Name() string { return p.name }

// MaxSize returns the retained-item ceiling.
func (p *Pool[T]) MaxSize() int { return p.maxSize }

// CountAll returns the number of live items, idle plus checked out.
func (p *Pool[T]) CountAll() int { return p.countAll }

// CountInactive returns the number of idle items.
func (p *Pool[T]) CountInactive() int { return len(p.idle) }

// CountActive returns the number of checked-out items.
func (p *Pool[T]) CountActive() int {
	if n := p.countAll - len(p.idle); n > 0 {
		return n
	}
	return 0
}

// Acquire returns the most recently released idle item, or a new one from the
// create hook when none is idle. OnAcquire runs before the item is returned.
// A create failure leaves the pool untouched and matches ErrCreateFailed.
func (p *Pool[T]) Acquire() (T, error) {
	var zero T
	if p.closed {
		return zero, p.closedErr("acquire")
	}

	var item T
	if n := len(p.idle); n > 0 {
		item = p.idle[n-1]
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		if p.collectionCheck {
			if key, ok := identityKey(item); ok {
				delete(p.idleKeys, key)
			}
		}
	} else {
		created, err := p.create()
		if err != nil {
			return zero, err
		}
		item = created
	}

	if p.collectionCheck {
		if key, ok := identityKey(item); ok {
			p.active[key] = struct{}{}
		}
	}
	p.counters.acquired++
	p.debug.recordAcquire(item)
	if p.hooks.OnAcquire != nil {
		p.hooks.OnAcquire(item)
	}
	return item, nil
}

// Release hands item back. With the collection check enabled, releasing an
// idle item fails with ErrDoubleRelease and leaves the pool untouched.
// Otherwise OnRelease runs and the item is retained while fewer than MaxSize
// items are idle, or destroyed when the pool is full or closed.
//
// With the check enabled the pool also knows which items it handed out. An
// item it did not hand out is adopted: it joins CountAll and is then retained
// or destroyed like any other. Adopted items without an identity cannot be
// tracked while idle, so they are always destroyed.
func (p *Pool[T]) Release(item T) error {
	key, keyed, out, err := p.checkRelease(item)
	if err != nil {
		return err
	}
	if out {
		delete(p.active, key)
	} else if p.collectionCheck {
		p.countAll++
		p.counters.adopted++
	}
	p.counters.released++
	p.debug.recordRelease(item)
	if p.hooks.OnRelease != nil {
		p.hooks.OnRelease(item)
	}

	retainable := keyed || !p.collectionCheck
	if retainable && !p.closed && len(p.idle) < p.maxSize {
		p.idle = append(p.idle, item)
		if keyed {
			p.idleKeys[key] = struct{}{}
		}
		return nil
	}

	p.destroy(item)
	if retainable && !p.closed {
		p.overflowLog.Do(func() {
			observability.Log().Debug("pool full, destroying released item",
				observability.F("pool", p.name),
				observability.F("max_size", p.maxSize),
				observability.F("destroyed_total", p.counters.destroyed))
		})
	}
	return nil
}

// Clear destroys every idle item, most recently released first. Checked-out
// items are not affected.
func (p *Pool[T]) Clear() {
	items := p.idle
	p.idle = make([]T, 0, cap(items))
	if p.collectionCheck {
		clear(p.idleKeys)
	}
	for i := len(items) - 1; i >= 0; i-- {
		p.destroy(items[i])
	}
}

// Warm creates items until n are idle, capped at MaxSize. Warmed items pass
// through OnRelease before being parked. Warm stops at the first create
// failure and returns it; items created before the failure stay idle.
func (p *Pool[T]) Warm(n int) error {
	if p.closed {
		return p.closedErr("warm")
	}
	if n > p.maxSize {
		n = p.maxSize
	}
	for len(p.idle) < n {
		item, err := p.create()
		if err != nil {
			return err
		}
		if p.hooks.OnRelease != nil {
			p.hooks.OnRelease(item)
		}
		p.idle = append(p.idle, item)
		if p.collectionCheck {
			if key, ok := identityKey(item); ok {
				p.idleKeys[key] = struct{}{}
			}
		}
	}
	return nil
}

// Close clears the pool and stops it from handing out items. Items released
// after Close are destroyed. Close is idempotent and always returns nil; the
// error result lets pools satisfy io.Closer.
func (p *Pool[T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.Clear()
	return nil
}

// Closed reports whether Close was called.
func (p *Pool[T]) Closed() bool { return p.closed }

// ActiveStacks returns the acquisition stacks of checked-out items. It is only
// populated in builds with the debug tag.
func (p *Pool[T]) ActiveStacks() []string {
	return p.debug.activeStacks()
}

// create runs the create hook. With the collection check enabled an item
// without an identity counts as a failed create, since the pool could never
// tell it apart on release.
func (p *Pool[T]) create() (T, error) {
	item, err := p.hooks.Create()
	if err == nil && p.collectionCheck {
		if _, ok := identityKey(item); !ok {
			err = fmt.Errorf("created %T has no identity for the collection check", item)
		}
	}
	if err != nil {
		p.counters.createFailures++
		var zero T
		return zero, errs.New(componentFor(p.name), errs.CodeCreateFailed,
			errs.WithMessage("create hook failed"),
			errs.WithCause(err))
	}
	p.countAll++
	p.counters.created++
	return item, nil
}

func (p *Pool[T]) destroy(item T) {
	if p.countAll > 0 {
		p.countAll--
	}
	p.counters.destroyed++
	if p.hooks.OnDestroy != nil {
		p.hooks.OnDestroy(item)
	}
}

// checkRelease returns the identity key of item, whether it has one, and
// whether it is currently checked out. Without the collection check every
// release is treated as a return of a checked-out item.
func (p *Pool[T]) checkRelease(item T) (key any, keyed, out bool, err error) {
	if !p.collectionCheck {
		return nil, false, true, nil
	}
	key, keyed = identityKey(item)
	if !keyed {
		return nil, false, false, nil
	}
	if _, idle := p.idleKeys[key]; idle {
		p.counters.doubleReleases++
		return nil, false, false, errs.New(componentFor(p.name), errs.CodeDoubleRelease,
			errs.WithMessage(fmt.Sprintf("%T already released to the pool", item)))
	}
	_, out = p.active[key]
	return key, true, out, nil
}

func (p *Pool[T]) closedErr(op string) error {
	return fmt.Errorf("pool %s: %s: %w", p.name, op, ErrPoolClosed)
}

func componentFor(name string) string {
	if name == defaultName {
		return defaultName
	}
	return defaultName + " " + name
}
