package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/local/notesync/internal/store"
)

// Locker serializes work on one (course, week). TryLock never waits.
type Locker interface {
	TryLock(ctx context.Context, courseID string, week int) (lease store.Lease, ok bool, err error)
}

// LocalLocker is an in-process Locker for single-replica deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLease)}
}

func (l *LocalLocker) TryLock(_ context.Context, courseID string, week int) (store.Lease, bool, error) {
	key := fmt.Sprintf("%s:%d", courseID, week)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	lease := &localLease{locker: l, key: key}
	l.held[key] = lease
	return lease, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

func (l *localLease) Held(context.Context) bool {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	return l.locker.held[l.key] == l
}

func (l *localLease) Release() {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
}
