package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyLock serializes work per conversation. Entries exist only while some
// caller holds or waits for the key.
type keyLock struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*keyLockEntry
}

type keyLockEntry struct {
	token chan struct{}
	refs  int
}

func newKeyLock() *keyLock {
	return &keyLock{entries: make(map[uuid.UUID]*keyLockEntry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (k *keyLock) Lock(ctx context.Context, key uuid.UUID) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyLockEntry{token: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.token <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.token
			k.release(key, e)
		})
	}, nil
}

func (k *keyLock) release(key uuid.UUID, e *keyLockEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
