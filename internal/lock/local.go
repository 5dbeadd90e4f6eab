package lock

import (
	"context"
	"fmt"
	"sync"
)

// Local is an in-process Locker. Each key is a one-slot semaphore that is
// dropped from the table when its last holder or waiter leaves.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = NormalizeKeys(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
		held = held[:0]
	}

	for _, key := range keys {
		if err := l.lock(ctx, key); err != nil {
			release()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, err)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.drop(key, e)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Local) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		return
	}
	<-e.sem
	l.drop(key, e)
}

// drop must be called with mu held
func (l *Local) drop(key string, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// size reports the number of live keys
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
