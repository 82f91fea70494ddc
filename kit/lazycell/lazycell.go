// Package lazycell provides a lazy, thread-safe, rebuildable struct field.
//
// A Cell is computed on first access by a builder that receives the owning
// aggregate, cached, and can later be overwritten with Store or reset with
// Clear, after which the next read builds it again. Put one Cell per lazy
// field in your struct and install the builder in the struct's constructor:
//
//	type Doc struct {
//		html *lazycell.Cell[*Doc, string]
//	}
//
//	func NewDoc() *Doc {
//		d := &Doc{}
//		d.html = lazycell.NewEmpty((*Doc).buildHTML)
//		return d
//	}
//
//	func (d *Doc) HTML() string { return d.html.Get(d) }
//
// Blocking operations block the calling goroutine. See package asynccell for
// a variant whose waits are bound to a context.Context.
//
// A builder must not read its own cell, and code holding a guard must not
// ask the same cell for another exclusive lock: either deadlocks.
package lazycell

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/river-now/lazyfield/kit/guard"
	"github.com/river-now/lazyfield/kit/opt"
	"github.com/river-now/lazyfield/kit/rwlock"
)

// Builder computes a cell's value from the cell's owner.
type Builder[O any, T any] = func(owner O) T

type (
	ReadGuard[T any]   = guard.Read[T]
	WriteGuard[T any]  = guard.Write[T]
	WriteHandle[T any] = guard.Handle[T]
)

/////////////////////////////////////////////////////////////////////
/////// SLOTS
/////////////////////////////////////////////////////////////////////

// slot is the guarded value. isSet mirrors value.IsSome() and is only
// written while mu is held exclusively, after value itself.
type slot[T any] struct {
	mu    rwlock.RWMutex
	value opt.Option[T]
	isSet atomic.Bool
}

type builderSlot[O any, T any] struct {
	mu sync.RWMutex
	fn Builder[O, T]
}

func (b *builderSlot[O, T]) load() Builder[O, T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fn
}

func (b *builderSlot[O, T]) swap(fn Builder[O, T]) Builder[O, T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.fn
	b.fn = fn
	return prev
}

/////////////////////////////////////////////////////////////////////
/////// CELL
/////////////////////////////////////////////////////////////////////

// Cell is a lazily built value of type T owned by an aggregate of type O.
// Create cells with New, NewEmpty or NewFilled. A Cell must not be copied.
type Cell[O any, T any] struct {
	slot    slot[T]
	builder builderSlot[O, T]
}

// New returns a cell with the given builder and initial content. A nil
// builder is allowed for cells that are always populated before they are read.
func New[O any, T any](builder Builder[O, T], initial opt.Option[T]) *Cell[O, T] {
	c := &Cell[O, T]{}
	c.builder.fn = builder
	c.slot.value = initial
	c.slot.isSet.Store(initial.IsSome())
	return c
}

func NewEmpty[O any, T any](builder Builder[O, T]) *Cell[O, T] {
	return New(builder, opt.None[T]())
}

func NewFilled[O any, T any](builder Builder[O, T], v T) *Cell[O, T] {
	return New(builder, opt.Some(v))
}

// IsSet reports, without locking, whether the cell currently holds a value.
func (c *Cell[O, T]) IsSet() bool {
	return c.slot.isSet.Load()
}

func (c *Cell[O, T]) HasBuilder() bool {
	return c.builder.load() != nil
}

// SetBuilder replaces the builder and returns the previous one. It does not
// wait for, or affect, a build already in progress.
func (c *Cell[O, T]) SetBuilder(fn Builder[O, T]) Builder[O, T] {
	return c.builder.swap(fn)
}

/////////////////////////////////////////////////////////////////////
/////// READ / INITIALIZE
/////////////////////////////////////////////////////////////////////

// ReadOrInit returns a shared guard over the cell's value, building it with
// owner first if the cell is empty. Concurrent callers on an empty cell
// trigger exactly one build; the rest wait and then read its result.
// Panics if the cell is empty and has no builder.
func (c *Cell[O, T]) ReadOrInit(owner O) *ReadGuard[T] {
	s := &c.slot
	s.mu.RLock()
	if s.value.IsSome() {
		return guard.NewRead(&s.value, s.mu.RUnlock)
	}
	s.mu.RUnlock()

	s.mu.Lock()
	c.fillLocked(owner)
	s.mu.Downgrade()
	return guard.NewRead(&s.value, s.mu.RUnlock)
}

// ReadOrInitMut is ReadOrInit for callers that want to mutate the value in
// place. The returned guard holds the exclusive lock.
func (c *Cell[O, T]) ReadOrInitMut(owner O) *WriteGuard[T] {
	s := &c.slot
	s.mu.Lock()
	c.fillLocked(owner)
	return guard.NewWrite(&s.value, s.mu.Unlock)
}

// fillLocked builds the value if the slot is still empty. The caller holds
// the exclusive lock; if the builder panics the lock is released before the
// panic continues and the slot stays empty.
func (c *Cell[O, T]) fillLocked(owner O) {
	s := &c.slot
	if s.value.IsSome() {
		return
	}
	ok := false
	defer func() {
		if !ok {
			s.mu.Unlock()
		}
	}()
	fn := c.builder.load()
	if fn == nil {
		panic(fmt.Sprintf("lazycell: cell of %T is empty and has no builder", *new(T)))
	}
	v := fn(owner)
	s.value = opt.Some(v)
	s.isSet.Store(true)
	ok = true
}

// Get returns a copy of the value, building it first if needed.
func (c *Cell[O, T]) Get(owner O) T {
	g := c.ReadOrInit(owner)
	defer g.Release()
	return g.Get()
}

// View calls fn with the value while holding the shared lock.
func (c *Cell[O, T]) View(owner O, fn func(v T)) {
	g := c.ReadOrInit(owner)
	defer g.Release()
	fn(g.Get())
}

// Update calls fn with a pointer to the value while holding the exclusive lock.
func (c *Cell[O, T]) Update(owner O, fn func(v *T)) {
	g := c.ReadOrInitMut(owner)
	defer g.Release()
	fn(g.Ptr())
}

/////////////////////////////////////////////////////////////////////
/////// WRITE
/////////////////////////////////////////////////////////////////////

// Write acquires the exclusive lock and returns a handle for Store and Clear.
func (c *Cell[O, T]) Write() *WriteHandle[T] {
	s := &c.slot
	s.mu.Lock()
	return guard.NewHandle(&s.value, &s.isSet, s.mu.Unlock)
}

// Store replaces the value and returns the previous one.
func (c *Cell[O, T]) Store(v T) opt.Option[T] {
	h := c.Write()
	defer h.Release()
	return h.Store(v)
}

// Clear empties the cell and returns the previous value. The next read
// builds it again.
func (c *Cell[O, T]) Clear() opt.Option[T] {
	h := c.Write()
	defer h.Release()
	return h.Clear()
}

/////////////////////////////////////////////////////////////////////
/////// PLUMBING
/////////////////////////////////////////////////////////////////////

// IntoInner takes the value out without locking and leaves the cell empty.
// Only call it when nothing else can reach the cell, typically while the
// owner is being torn down.
func (c *Cell[O, T]) IntoInner() opt.Option[T] {
	c.slot.isSet.Store(false)
	return c.slot.value.Take()
}

// Clone returns an independent cell holding a snapshot of c's value and
// builder.
func (c *Cell[O, T]) Clone() *Cell[O, T] {
	c.slot.mu.RLock()
	v := c.slot.value
	c.slot.mu.RUnlock()
	return New(c.builder.load(), v)
}

// String never blocks: a cell locked by a writer prints as Cell(<locked>).
func (c *Cell[O, T]) String() string {
	if !c.slot.mu.TryRLock() {
		return "Cell(<locked>)"
	}
	defer c.slot.mu.RUnlock()
	if v, ok := c.slot.value.Get(); ok {
		return fmt.Sprintf("Cell(%v)", v)
	}
	return "Cell(<unset>)"
}
