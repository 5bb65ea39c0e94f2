package upload

import (
	"context"
	"sync"
)

// Locker serializes mutations of a single upload id
type Locker interface {
	// Lock blocks until id is held or ctx is done, in which case it returns ErrLocked
	Lock(ctx context.Context, id string) (release func(), err error)
	// TryLock takes id only if nobody holds it
	TryLock(ctx context.Context, id string) (release func(), ok bool, err error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is an in-process Locker. Entries are dropped once nobody waits on them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*lockEntry)}
}

func (l *MemoryLocker) ref(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *MemoryLocker) unref(id string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *MemoryLocker) releaser(id string, entry *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.unref(id, entry)
		})
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, id string) (func(), error) {
	entry := l.ref(id)

	select {
	case entry.sem <- struct{}{}:
		return l.releaser(id, entry), nil
	case <-ctx.Done():
		l.unref(id, entry)
		return nil, ErrLocked
	}
}

func (l *MemoryLocker) TryLock(ctx context.Context, id string) (func(), bool, error) {
	entry := l.ref(id)

	select {
	case entry.sem <- struct{}{}:
		return l.releaser(id, entry), true, nil
	default:
		l.unref(id, entry)
		return nil, false, nil
	}
}

// held reports the number of ids with a holder or waiter
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
