package eventbus

import (
	"context"
	"sync"
)

// Local is an in-process bus.
type Local struct {
	mu      sync.Mutex
	waiters map[*waiter]struct{}
}

type waiter struct {
	name string
	hit  chan struct{}
}

func NewLocal() *Local {
	return &Local{waiters: make(map[*waiter]struct{})}
}

func (b *Local) Publish(ctx context.Context, name string) error {
	name = normalize(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.waiters {
		if w.name == name {
			delete(b.waiters, w)
			close(w.hit)
		}
	}
	return nil
}

func (b *Local) WaitFor(ctx context.Context, name string) error {
	w := &waiter{name: normalize(name), hit: make(chan struct{})}
	b.mu.Lock()
	b.waiters[w] = struct{}{}
	b.mu.Unlock()

	select {
	case <-w.hit:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.waiters, w)
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Waiting reports how many WaitFor calls are currently blocked.
func (b *Local) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
