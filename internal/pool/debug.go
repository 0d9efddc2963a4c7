//go:build debug

package pool

import (
	"runtime/debug"
	"sort"
	"sync"
)

// debugState remembers where each checked-out item was acquired so leaks can
// be traced on shutdown.
type debugState struct {
	name   string
	mu     sync.Mutex
	stacks map[any]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:   name,
		stacks: make(map[any]string),
	}
}

func (d *debugState) recordAcquire(item any) {
	if d == nil {
		return
	}
	key, ok := identityKey(item)
	if !ok {
		return
	}
	stack := string(debug.Stack())
	d.mu.Lock()
	d.stacks[key] = stack
	d.mu.Unlock()
}

func (d *debugState) recordRelease(item any) {
	if d == nil {
		return
	}
	key, ok := identityKey(item)
	if !ok {
		return
	}
	d.mu.Lock()
	delete(d.stacks, key)
	d.mu.Unlock()
}

func (d *debugState) activeStacks() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stacks) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.stacks))
	for _, stack := range d.stacks {
		out = append(out, stack)
	}
	sort.Strings(out)
	return out
}
