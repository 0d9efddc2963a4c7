package pool

// Lease is a scoped checkout. Release hands the item back exactly once, so
// it is safe to defer alongside an explicit early release.
type Lease[T any] struct {
	release func(T) error
	item    T
	done    bool
}

// Get acquires an item wrapped in a lease.
func (p *Pool[T]) Get() (*Lease[T], error) {
	item, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	return &Lease[T]{release: p.Release, item: item}, nil
}

// Item returns the leased item.
func (l *Lease[T]) Item() T { return l.item }

// Release returns the item to its pool. Calls after the first are no-ops.
func (l *Lease[T]) Release() error {
	if l == nil || l.done {
		return nil
	}
	l.done = true
	return l.release(l.item)
}
