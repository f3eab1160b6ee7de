// Package locks implements the per-key exclusive row lock table of a
// resource manager. Locks are owned by transaction ids, acquisition is
// non-blocking, and re-acquisition by the owner is a no-op.
package locks

import (
	"sort"
	"sync"
)

// RowLockManager maps keys to the xid holding their write lock.
type RowLockManager struct {
	mu     sync.Mutex
	owners map[string]string
}

// New builds an empty lock table.
func New() *RowLockManager {
	return &RowLockManager{owners: make(map[string]string)}
}

// TryLock attempts to take the write lock on key for xid. It never blocks:
// the result is true when the key was free or already owned by xid.
func (l *RowLockManager) TryLock(xid, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, held := l.owners[key]
	if !held {
		l.owners[key] = xid
		return true
	}
	return owner == xid
}

// ReleaseAll drops every lock owned by xid.
func (l *RowLockManager) ReleaseAll(xid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, owner := range l.owners {
		if owner == xid {
			delete(l.owners, key)
		}
	}
}

// Owner reports the xid holding key, if any.
func (l *RowLockManager) Owner(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[key]
	return owner, ok
}

// HeldKeys returns the keys locked by xid, sorted.
func (l *RowLockManager) HeldKeys(xid string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var keys []string
	for key, owner := range l.owners {
		if owner == xid {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
