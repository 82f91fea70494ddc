// Package rwlock provides reader/writer locks whose exclusive mode can be
// downgraded to shared mode without letting another writer in between.
// RWMutex blocks the calling goroutine. CtxRWMutex waits on a context and
// gives up when the context is done.
package rwlock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

/////////////////////////////////////////////////////////////////////
/////// BLOCKING
/////////////////////////////////////////////////////////////////////

// RWMutex is a reader/writer lock with a Downgrade operation.
// The zero value is an unlocked mutex. It must not be copied after first use.
type RWMutex struct {
	w sync.Mutex   // held by the exclusive owner until it unlocks or downgrades
	r sync.RWMutex // the lock readers actually contend on
}

func (m *RWMutex) RLock()   { m.r.RLock() }
func (m *RWMutex) RUnlock() { m.r.RUnlock() }

func (m *RWMutex) TryRLock() bool { return m.r.TryRLock() }

// Lock takes w, then r. Writers queue on w, so while Downgrade swaps r from
// exclusive to shared no other writer can reach r.
func (m *RWMutex) Lock() {
	m.w.Lock()
	m.r.Lock()
}

// TryLock is Lock without blocking, in the same w-then-r order. It holds
// nothing when it returns false.
func (m *RWMutex) TryLock() bool {
	if !m.w.TryLock() {
		return false
	}
	if !m.r.TryLock() {
		m.w.Unlock()
		return false
	}
	return true
}

// Unlock releases r before w, the reverse of Lock.
func (m *RWMutex) Unlock() {
	m.r.Unlock()
	m.w.Unlock()
}

// Downgrade turns a held exclusive lock into a shared lock. Other readers may
// enter immediately, but no writer can acquire the lock until the caller's
// RUnlock. It is a run-time error if m is not locked for writing.
func (m *RWMutex) Downgrade() {
	m.r.Unlock()
	m.r.RLock()
	m.w.Unlock()
}

/////////////////////////////////////////////////////////////////////
/////// CONTEXT-AWARE
/////////////////////////////////////////////////////////////////////

// Upper bound on concurrent readers of a CtxRWMutex. A writer acquires the
// whole weight, so it waits for every reader to leave.
const maxReaders int64 = 1 << 30

// CtxRWMutex is a reader/writer lock whose acquisitions take a context.
// Waiters are served in FIFO order, so a pending writer holds back readers
// that arrive after it. Use NewCtxRWMutex to create one.
type CtxRWMutex struct {
	sem *semaphore.Weighted
}

func NewCtxRWMutex() *CtxRWMutex {
	return &CtxRWMutex{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires a shared lock, or returns ctx.Err() if ctx is done first.
func (m *CtxRWMutex) RLock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

func (m *CtxRWMutex) TryRLock() bool { return m.sem.TryAcquire(1) }
func (m *CtxRWMutex) RUnlock()       { m.sem.Release(1) }

// Lock acquires the exclusive lock, or returns ctx.Err() if ctx is done first.
// On error nothing is held.
func (m *CtxRWMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, maxReaders)
}

func (m *CtxRWMutex) TryLock() bool { return m.sem.TryAcquire(maxReaders) }

// Unlock releases the exclusive lock. It may be called from a goroutine other
// than the one that locked.
func (m *CtxRWMutex) Unlock() { m.sem.Release(maxReaders) }

// Downgrade turns a held exclusive lock into a single shared lock.
func (m *CtxRWMutex) Downgrade() {
	m.sem.Release(maxReaders - 1)
}
