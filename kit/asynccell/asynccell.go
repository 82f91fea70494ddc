// Package asynccell is the context-aware counterpart of package lazycell.
//
// The cell's protocol is the same: build on first read, at most one build per
// empty period, Store and Clear through an exclusive handle. The difference
// is how waiting works. Every operation that may wait for the cell's lock
// takes a context.Context and returns ctx.Err() if the context is done
// before the lock is acquired. The builder also receives the context and runs
// on its own goroutine while the caller holds the exclusive lock, so a build
// that outlives its caller's context is abandoned: the caller returns
// ctx.Err() at once, the cell stays empty and the builder's eventual result is
// dropped. The abandoned builder keeps the exclusive lock until it returns, so
// two builds of one cell never overlap. The next reader then builds again from
// scratch.
package asynccell

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/river-now/lazyfield/kit/guard"
	"github.com/river-now/lazyfield/kit/opt"
	"github.com/river-now/lazyfield/kit/rwlock"
)

// Builder computes a cell's value from the cell's owner. It should return
// promptly once ctx is done: its result is discarded in that case, and the
// cell stays locked until it returns.
type Builder[O any, T any] = func(ctx context.Context, owner O) T

type (
	ReadGuard[T any]   = guard.Read[T]
	WriteGuard[T any]  = guard.Write[T]
	WriteHandle[T any] = guard.Handle[T]
)

type slot[T any] struct {
	mu    *rwlock.CtxRWMutex
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

// Cell is a lazily built value of type T owned by an aggregate of type O.
// The zero value is not usable; create cells with New, NewEmpty or NewFilled.
type Cell[O any, T any] struct {
	slot    slot[T]
	builder builderSlot[O, T]
}

func New[O any, T any](builder Builder[O, T], initial opt.Option[T]) *Cell[O, T] {
	c := &Cell[O, T]{}
	c.slot.mu = rwlock.NewCtxRWMutex()
	c.slot.value = initial
	c.slot.isSet.Store(initial.IsSome())
	c.builder.fn = builder
	return c
}

func NewEmpty[O any, T any](builder Builder[O, T]) *Cell[O, T] {
	return New(builder, opt.None[T]())
}

func NewFilled[O any, T any](builder Builder[O, T], v T) *Cell[O, T] {
	return New(builder, opt.Some(v))
}

// IsSet reports, without locking, whether the cell currently holds a value.
// It reports false for the whole duration of a first build.
func (c *Cell[O, T]) IsSet() bool {
	return c.slot.isSet.Load()
}

func (c *Cell[O, T]) HasBuilder() bool {
	return c.builder.load() != nil
}

func (c *Cell[O, T]) SetBuilder(fn Builder[O, T]) Builder[O, T] {
	return c.builder.swap(fn)
}

/////////////////////////////////////////////////////////////////////
/////// READ / INITIALIZE
/////////////////////////////////////////////////////////////////////

// ReadOrInit returns a shared guard over the value, building it first if the
// cell is empty. Waiters on a cell that is being built resume only once the
// build has finished and its value is stored.
func (c *Cell[O, T]) ReadOrInit(ctx context.Context, owner O) (*ReadGuard[T], error) {
	s := &c.slot
	if err := s.mu.RLock(ctx); err != nil {
		return nil, err
	}
	if s.value.IsSome() {
		return guard.NewRead(&s.value, s.mu.RUnlock), nil
	}
	s.mu.RUnlock()

	if err := s.mu.Lock(ctx); err != nil {
		return nil, err
	}
	if err := c.fillLocked(ctx, owner); err != nil {
		return nil, err
	}
	s.mu.Downgrade()
	return guard.NewRead(&s.value, s.mu.RUnlock), nil
}

// ReadOrInitMut is ReadOrInit returning the exclusive lock as a mutable guard.
func (c *Cell[O, T]) ReadOrInitMut(ctx context.Context, owner O) (*WriteGuard[T], error) {
	s := &c.slot
	if err := s.mu.Lock(ctx); err != nil {
		return nil, err
	}
	if err := c.fillLocked(ctx, owner); err != nil {
		return nil, err
	}
	return guard.NewWrite(&s.value, s.mu.Unlock), nil
}

// fillLocked builds the value if the slot is still empty. The caller holds
// the exclusive lock. On panic, or on error before the builder started, the
// lock is released and the slot is left empty. If ctx ends while the builder
// runs, the lock passes to the builder goroutine, which releases it once the
// builder returns.
func (c *Cell[O, T]) fillLocked(ctx context.Context, owner O) error {
	s := &c.slot
	if s.value.IsSome() {
		return nil
	}
	held := true
	defer func() {
		if held {
			s.mu.Unlock()
		}
	}()
	fn := c.builder.load()
	if fn == nil {
		panic(fmt.Sprintf("asynccell: cell of %T is empty and has no builder", *new(T)))
	}
	v, handedOff, err := await(ctx, fn, owner, s.mu.Unlock)
	if handedOff {
		held = false
	}
	if err != nil {
		return err
	}
	s.value = opt.Some(v)
	s.isSet.Store(true)
	held = false
	return nil
}

type outcome[T any] struct {
	val      T
	panicked bool
	rec      any
}

// await runs fn on its own goroutine and waits for it or for ctx, whichever
// comes first. A panic inside fn is re-raised on the calling goroutine.
//
// Exactly one side claims the result. If the caller gives up first, the
// builder goroutine owns the lock from then on: it drops its result and
// calls unlock, and await reports handedOff.
func await[O any, T any](ctx context.Context, fn Builder[O, T], owner O, unlock func()) (_ T, handedOff bool, _ error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	var claimed atomic.Bool
	ch := make(chan outcome[T], 1)
	go func() {
		var out outcome[T]
		defer func() {
			if r := recover(); r != nil {
				out.panicked, out.rec = true, r
			}
			if claimed.CompareAndSwap(false, true) {
				ch <- out
				return
			}
			unlock()
		}()
		out.val = fn(ctx, owner)
	}()

	select {
	case out := <-ch:
		if out.panicked {
			panic(out.rec)
		}
		return out.val, false, nil
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return zero, true, ctx.Err()
		}
		// The builder finished at the same moment; its result sits in the
		// buffered channel and is dropped.
		return zero, false, ctx.Err()
	}
}

// Get returns a copy of the value, building it first if needed.
func (c *Cell[O, T]) Get(ctx context.Context, owner O) (T, error) {
	g, err := c.ReadOrInit(ctx, owner)
	if err != nil {
		var zero T
		return zero, err
	}
	defer g.Release()
	return g.Get(), nil
}

// View calls fn with the value while holding the shared lock.
func (c *Cell[O, T]) View(ctx context.Context, owner O, fn func(v T)) error {
	g, err := c.ReadOrInit(ctx, owner)
	if err != nil {
		return err
	}
	defer g.Release()
	fn(g.Get())
	return nil
}

// Update calls fn with a pointer to the value while holding the exclusive lock.
func (c *Cell[O, T]) Update(ctx context.Context, owner O, fn func(v *T)) error {
	g, err := c.ReadOrInitMut(ctx, owner)
	if err != nil {
		return err
	}
	defer g.Release()
	fn(g.Ptr())
	return nil
}

/////////////////////////////////////////////////////////////////////
/////// WRITE
/////////////////////////////////////////////////////////////////////

// Write acquires the exclusive lock and returns a handle for Store and Clear.
func (c *Cell[O, T]) Write(ctx context.Context) (*WriteHandle[T], error) {
	s := &c.slot
	if err := s.mu.Lock(ctx); err != nil {
		return nil, err
	}
	return guard.NewHandle(&s.value, &s.isSet, s.mu.Unlock), nil
}

func (c *Cell[O, T]) Store(ctx context.Context, v T) (opt.Option[T], error) {
	h, err := c.Write(ctx)
	if err != nil {
		return opt.None[T](), err
	}
	defer h.Release()
	return h.Store(v), nil
}

func (c *Cell[O, T]) Clear(ctx context.Context) (opt.Option[T], error) {
	h, err := c.Write(ctx)
	if err != nil {
		return opt.None[T](), err
	}
	defer h.Release()
	return h.Clear(), nil
}

/////////////////////////////////////////////////////////////////////
/////// PLUMBING
/////////////////////////////////////////////////////////////////////

// IntoInner takes the value out without locking and leaves the cell empty.
// Only valid when nothing else can reach the cell.
func (c *Cell[O, T]) IntoInner() opt.Option[T] {
	c.slot.isSet.Store(false)
	return c.slot.value.Take()
}

// Clone returns an independent cell holding a snapshot of c's value and builder.
func (c *Cell[O, T]) Clone(ctx context.Context) (*Cell[O, T], error) {
	if err := c.slot.mu.RLock(ctx); err != nil {
		return nil, err
	}
	v := c.slot.value
	c.slot.mu.RUnlock()
	return New(c.builder.load(), v), nil
}

// String never blocks: a cell that is locked or being built prints as
// Cell(<locked>).
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
