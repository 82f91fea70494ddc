// Package lazyfield provides lazily built, rebuildable fields for aggregate
// types. A field is built from its owner on first read, at most once per
// empty period even under concurrent readers, and can be set or cleared
// later through an exclusive handle. Cell blocks while it waits; AsyncCell
// waits under a context.Context instead.
package lazyfield

import (
	"github.com/river-now/lazyfield/kit/asynccell"
	"github.com/river-now/lazyfield/kit/lazycell"
	"github.com/river-now/lazyfield/kit/opt"
)

/////////////////////////////////////////////////////////////////////
/////// PUBLIC API
/////////////////////////////////////////////////////////////////////

type (
	Cell[O any, T any]         = lazycell.Cell[O, T]
	Builder[O any, T any]      = lazycell.Builder[O, T]
	AsyncCell[O any, T any]    = asynccell.Cell[O, T]
	AsyncBuilder[O any, T any] = asynccell.Builder[O, T]
	ReadGuard[T any]           = lazycell.ReadGuard[T]
	WriteGuard[T any]          = lazycell.WriteGuard[T]
	WriteHandle[T any]         = lazycell.WriteHandle[T]
	Option[T any]              = opt.Option[T]
)

func New[O any, T any](builder Builder[O, T], initial Option[T]) *Cell[O, T] {
	return lazycell.New(builder, initial)
}

func NewEmpty[O any, T any](builder Builder[O, T]) *Cell[O, T] {
	return lazycell.NewEmpty(builder)
}

func NewFilled[O any, T any](builder Builder[O, T], v T) *Cell[O, T] {
	return lazycell.NewFilled(builder, v)
}

func NewAsync[O any, T any](builder AsyncBuilder[O, T], initial Option[T]) *AsyncCell[O, T] {
	return asynccell.New(builder, initial)
}

func NewAsyncEmpty[O any, T any](builder AsyncBuilder[O, T]) *AsyncCell[O, T] {
	return asynccell.NewEmpty(builder)
}

func NewAsyncFilled[O any, T any](builder AsyncBuilder[O, T], v T) *AsyncCell[O, T] {
	return asynccell.NewFilled(builder, v)
}

func Some[T any](v T) Option[T] { return opt.Some(v) }

func None[T any]() Option[T] { return opt.None[T]() }
