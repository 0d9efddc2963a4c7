package pool

import "sync"

// Synchronized guards a Pool with a mutex so it can be shared between
// goroutines. Hooks run while the lock is held and must not call back into
// the same pool.
type Synchronized[T any] struct {
	mu   sync.Mutex
	pool *Pool[T]
}

// NewSynchronized builds a pool from cfg and wraps it.
func NewSynchronized[T any](cfg Config[T]) (*Synchronized[T], error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Synchronized[T]{pool: p}, nil
}

// Name returns the pool label.
func (s *Synchronized[T]) Name() string { return s.pool.Name() }

// Acquire is Pool.Acquire under the lock.
func (s *Synchronized[T]) Acquire() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Acquire()
}

// Release is Pool.Release under the lock.
func (s *Synchronized[T]) Release(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Release(item)
}

// Get acquires an item wrapped in a lease that releases under the lock.
func (s *Synchronized[T]) Get() (*Lease[T], error) {
	item, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	return &Lease[T]{release: s.Release, item: item}, nil
}

// Warm is Pool.Warm under the lock.
func (s *Synchronized[T]) Warm(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Warm(n)
}

// Clear is Pool.Clear under the lock.
func (s *Synchronized[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Clear()
}

// Close is Pool.Close under the lock.
func (s *Synchronized[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Close()
}

// Stats is Pool.Stats under the lock.
func (s *Synchronized[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Stats()
}

// ActiveStacks is Pool.ActiveStacks under the lock.
func (s *Synchronized[T]) ActiveStacks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.ActiveStacks()
}
