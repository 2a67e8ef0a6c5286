// Package threadlock provides the per-thread mutual exclusion the Agent
// Execution Loop uses to reject a second concurrent turn on the same
// thread with thread-busy instead of queuing it.
package threadlock

import "sync"

// threadMutex wraps a mutex with an explicit locked flag so TryLock can
// report contention instead of blocking.
type threadMutex struct {
	mu     sync.Mutex
	locked bool
}

// Locker grants exclusive access to one thread_id at a time. Unlike a
// session-scoped write lock meant to queue writers, Locker is fail-fast:
// a second caller for a thread already locked gets false immediately,
// which the loop surfaces as a thread-busy error rather than waiting.
type Locker struct {
	locks sync.Map // map[string]*threadMutex
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{}
}

func (l *Locker) getOrCreate(threadID string) *threadMutex {
	if m, ok := l.locks.Load(threadID); ok {
		return m.(*threadMutex)
	}
	actual, _ := l.locks.LoadOrStore(threadID, &threadMutex{})
	return actual.(*threadMutex)
}

// TryLock attempts to acquire the lock for threadID without blocking. It
// returns false if another turn already holds it.
func (l *Locker) TryLock(threadID string) bool {
	m := l.getOrCreate(threadID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases the lock for threadID. Safe to call even if not held.
func (l *Locker) Unlock(threadID string) {
	if m, ok := l.locks.Load(threadID); ok {
		mu := m.(*threadMutex)
		mu.mu.Lock()
		mu.locked = false
		mu.mu.Unlock()
	}
}

// IsLocked reports whether threadID is currently held.
func (l *Locker) IsLocked(threadID string) bool {
	m, ok := l.locks.Load(threadID)
	if !ok {
		return false
	}
	mu := m.(*threadMutex)
	mu.mu.Lock()
	defer mu.mu.Unlock()
	return mu.locked
}

// WithLock runs fn while holding threadID's lock, releasing it on return.
// It returns false without running fn if the lock is already held.
func (l *Locker) WithLock(threadID string, fn func()) bool {
	if !l.TryLock(threadID) {
		return false
	}
	defer l.Unlock(threadID)
	fn()
	return true
}
