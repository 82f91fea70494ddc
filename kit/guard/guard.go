// Package guard provides the scoped lock handles returned by lazy cells.
//
// A guard represents a held lock over a slot of type opt.Option[T] and hides
// the option: Get and Ptr project straight to T. Guards are released exactly
// once; call Release with defer right after obtaining one:
//
//	g := cell.ReadOrInit(owner)
//	defer g.Release()
//	use(g.Get())
//
// Touching a guard after Release, or projecting a guard whose slot is empty,
// panics. Both are bugs in the caller or in the cell, never runtime conditions.
package guard

import (
	"sync/atomic"

	"github.com/river-now/lazyfield/kit/opt"
)

/////////////////////////////////////////////////////////////////////
/////// BASE
/////////////////////////////////////////////////////////////////////

type base[T any] struct {
	slot     *opt.Option[T]
	release  func()
	released atomic.Bool
}

func (b *base[T]) live() *opt.Option[T] {
	if b.released.Load() {
		panic("guard: used after Release")
	}
	return b.slot
}

func (b *base[T]) deref() *T {
	p := b.live().Ptr()
	if p == nil {
		panic("guard: slot is empty")
	}
	return p
}

// Release unlocks the underlying lock. Calling it more than once is a no-op.
func (b *base[T]) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.release()
	}
}

// Released reports whether Release has been called.
func (b *base[T]) Released() bool { return b.released.Load() }

/////////////////////////////////////////////////////////////////////
/////// READ
/////////////////////////////////////////////////////////////////////

// Read is a shared lock over a populated slot.
type Read[T any] struct{ base[T] }

// NewRead wraps a slot whose shared lock the caller already holds.
// release is called once, by the first Release.
func NewRead[T any](slot *opt.Option[T], release func()) *Read[T] {
	return &Read[T]{base[T]{slot: slot, release: release}}
}

// Get returns a copy of the guarded value.
func (g *Read[T]) Get() T { return *g.deref() }

/////////////////////////////////////////////////////////////////////
/////// WRITE
/////////////////////////////////////////////////////////////////////

// Write is an exclusive lock over a populated slot, allowing in-place mutation.
type Write[T any] struct{ base[T] }

// NewWrite wraps a slot whose exclusive lock the caller already holds.
func NewWrite[T any](slot *opt.Option[T], release func()) *Write[T] {
	return &Write[T]{base[T]{slot: slot, release: release}}
}

func (g *Write[T]) Get() T { return *g.deref() }

// Ptr returns a pointer into the slot. It must not be retained past Release.
func (g *Write[T]) Ptr() *T { return g.deref() }

// Set overwrites the guarded value in place.
func (g *Write[T]) Set(v T) { *g.deref() = v }

/////////////////////////////////////////////////////////////////////
/////// HANDLE
/////////////////////////////////////////////////////////////////////

// Handle is an exclusive lock over a slot that may be empty. It keeps the
// owning cell's is-set flag in step with every Store and Clear.
type Handle[T any] struct {
	base[T]
	isSet *atomic.Bool
}

// NewHandle wraps a slot whose exclusive lock the caller already holds.
// isSet is the cell's lock-free mirror of slot.IsSome().
func NewHandle[T any](slot *opt.Option[T], isSet *atomic.Bool, release func()) *Handle[T] {
	return &Handle[T]{base: base[T]{slot: slot, release: release}, isSet: isSet}
}

// Store replaces the slot's content with v and returns what was there before.
func (h *Handle[T]) Store(v T) opt.Option[T] {
	prev := h.live().Replace(v)
	h.isSet.Store(true)
	return prev
}

// Clear empties the slot and returns what was there before.
func (h *Handle[T]) Clear() opt.Option[T] {
	prev := h.live().Take()
	h.isSet.Store(false)
	return prev
}

// Peek returns a copy of the slot's current content.
func (h *Handle[T]) Peek() opt.Option[T] { return *h.live() }
