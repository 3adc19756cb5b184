package memory

import (
	"context"
	"sync"
)

// keyedMutex hands out one mutex per key and forgets keys nobody holds or
// waits on, so memory stays proportional to in-flight conversations.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[string]*slot)}
}

// Lock acquires key, giving up when ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	s := k.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return k.unlocker(key, s), nil
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}
}

// lock acquires key unconditionally.
func (k *keyedMutex) lock(key string) func() {
	s := k.acquire(key)
	s.ch <- struct{}{}
	return k.unlocker(key, s)
}

func (k *keyedMutex) acquire(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *keyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *keyedMutex) unlocker(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}
}

// size reports how many keys are tracked.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
