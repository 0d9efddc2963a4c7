// Package registry owns process-wide services so that hosts resolve shared
// components from one explicit container instead of package globals.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/coachpo/poolkit/errs"
	"github.com/coachpo/poolkit/internal/observability"
)

const component = "registry"

// ErrShuttingDown is returned by Resolve once Shutdown has started.
var ErrShuttingDown = errors.New("registry: shutting down")

// Factory builds a service. It may resolve other services from r.
type Factory[T any] func(ctx context.Context, r *Registry) (T, error)

// Option tunes how a provided service is built.
type Option func(*entry)

// WithRetry retries a failing factory up to maxTries attempts in total,
// sleeping with exponential backoff between attempts.
func WithRetry(maxTries int) Option {
	return func(e *entry) {
		if maxTries > 1 {
			e.maxTries = maxTries
		}
	}
}

// WithRetryInterval sets the initial backoff interval used by WithRetry.
func WithRetryInterval(d time.Duration) Option {
	return func(e *entry) {
		if d > 0 {
			e.retryInterval = d
		}
	}
}

// Instance describes a created service.
type Instance struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type entry struct {
	typ           reflect.Type
	factory       func(context.Context, *Registry) (any, error)
	maxTries      int
	retryInterval time.Duration

	inflight *call
	created  bool
	value    any
	info     Instance
}

type call struct {
	done  chan struct{}
	value any
	err   error
}

type resolvingKey struct{}

// Registry holds at most one instance per provided type. Instances are built
// lazily on first Resolve and torn down in reverse creation order.
type Registry struct {
	mu      sync.Mutex
	entries map[reflect.Type]*entry
	order   []*entry
	closing bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[reflect.Type]*entry)}
}

// Provide registers the factory for T. Registering T twice is a conflict.
func Provide[T any](r *Registry, factory Factory[T], opts ...Option) error {
	if r == nil || factory == nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("registry and factory are required"))
	}
	typ := reflect.TypeFor[T]()
	e := &entry{
		typ: typ,
		factory: func(ctx context.Context, reg *Registry) (any, error) {
			return factory(ctx, reg)
		},
		maxTries:      1,
		retryInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return ErrShuttingDown
	}
	if _, exists := r.entries[typ]; exists {
		return errs.New(component, errs.CodeConflict,
			errs.WithMessage(fmt.Sprintf("service %s already provided", typ)),
			errs.WithRemediation("provide each service type exactly once"))
	}
	r.entries[typ] = e
	return nil
}

// Resolve returns the single instance of T, building it on first use.
// Concurrent callers wait for the same build; a failed build is retried on
// the next Resolve.
func Resolve[T any](ctx context.Context, r *Registry) (T, error) {
	var zero T
	if r == nil {
		return zero, errs.New(component, errs.CodeInvalid, errs.WithMessage("nil registry"))
	}
	value, err := r.resolve(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, ok := value.(T)
	if !ok {
		return zero, errs.New(component, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("service %s has unexpected type %T", reflect.TypeFor[T](), value)))
	}
	return out, nil
}

// MustResolve is Resolve for wiring code where a missing service is a programming error.
func MustResolve[T any](ctx context.Context, r *Registry) T {
	out, err := Resolve[T](ctx, r)
	if err != nil {
		panic(err)
	}
	return out
}

func (r *Registry) resolve(ctx context.Context, typ reflect.Type) (any, error) {
	if stack, _ := ctx.Value(resolvingKey{}).([]reflect.Type); len(stack) > 0 {
		for _, seen := range stack {
			if seen == typ {
				return nil, errs.New(component, errs.CodeConflict,
					errs.WithMessage(fmt.Sprintf("dependency cycle resolving %s", typ)))
			}
		}
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	e, ok := r.entries[typ]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(component, errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("service %s not provided", typ)),
			errs.WithRemediation("call registry.Provide before Resolve"))
	}
	if e.created {
		value := e.value
		r.mu.Unlock()
		return value, nil
	}
	if c := e.inflight; c != nil {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.value, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight = c
	r.mu.Unlock()

	stack, _ := ctx.Value(resolvingKey{}).([]reflect.Type)
	buildCtx := context.WithValue(ctx, resolvingKey{}, append(append([]reflect.Type(nil), stack...), typ))
	value, attempts, err := r.build(buildCtx, e)

	r.mu.Lock()
	e.inflight = nil
	switch {
	case err != nil:
		c.err = fmt.Errorf("resolve %s: %w", typ, err)
	case r.closing:
		c.err = ErrShuttingDown
	default:
		e.created = true
		e.value = value
		e.info = Instance{
			ID:        uuid.New(),
			Type:      typ.String(),
			CreatedAt: time.Now().UTC(),
			Attempts:  attempts,
		}
		r.order = append(r.order, e)
		c.value = value
	}
	info := e.info
	r.mu.Unlock()
	close(c.done)

	if err == nil && errors.Is(c.err, ErrShuttingDown) {
		if closeErr := closeInstance(ctx, value); closeErr != nil {
			observability.Log().Error("registry: close late instance failed",
				observability.F("service", typ.String()),
				observability.F("error", closeErr.Error()))
		}
		return nil, c.err
	}
	if c.err == nil {
		observability.Log().Debug("registry: service created",
			observability.F("service", info.Type),
			observability.F("instance_id", info.ID.String()),
			observability.F("attempts", info.Attempts))
	}
	return c.value, c.err
}

func (r *Registry) build(ctx context.Context, e *entry) (any, int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryInterval
	policy.Reset()

	attempts := 0
	for {
		attempts++
		value, err := e.factory(ctx, r)
		if err == nil {
			return value, attempts, nil
		}
		if attempts >= e.maxTries || errs.HasCode(err, errs.CodeConflict) || errors.Is(err, ErrShuttingDown) {
			return nil, attempts, err
		}
		sleep := policy.NextBackOff()
		if sleep == backoff.Stop {
			return nil, attempts, err
		}
		observability.Log().Debug("registry: factory failed, retrying",
			observability.F("service", e.typ.String()),
			observability.F("attempt", attempts),
			observability.F("backoff", sleep.String()),
			observability.F("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, attempts, errors.Join(err, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// Instances lists created services in creation order.
func (r *Registry) Instances() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instance, len(r.order))
	for i, e := range r.order {
		out[i] = e.info
	}
	return out
}

// Shutdown stops further resolution and closes every created instance that
// implements io.Closer or Shutdown(context.Context) error, newest first.
// Calling it again is a no-op.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	order := r.order
	r.order = nil
	r.mu.Unlock()

	var failures []error
	for i := len(order) - 1; i >= 0; i-- {
		e := order[i]
		if err := closeInstance(ctx, e.value); err != nil {
			failures = append(failures, fmt.Errorf("close %s: %w", e.typ, err))
		}
	}
	return observability.AggregateErrors("registry shutdown", failures,
		observability.F("instances", len(order)))
}

func closeInstance(ctx context.Context, value any) error {
	switch v := value.(type) {
	case shutdowner:
		return v.Shutdown(ctx)
	case io.Closer:
		return v.Close()
	default:
		return nil
	}
}
