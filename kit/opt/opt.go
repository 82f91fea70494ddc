// Package opt provides a small generic optional value. It exists so that
// "no value yet" can be represented without pointers or sentinel zero values.
package opt

import "fmt"

// Option holds either a value of type T or nothing.
// The zero value is None.
type Option[T any] struct {
	val T
	ok  bool
}

func Some[T any](v T) Option[T] { return Option[T]{val: v, ok: true} }
func None[T any]() Option[T]     { return Option[T]{} }

// FromPtr returns None for a nil pointer and Some(*p) otherwise.
func FromPtr[T any](p *T) Option[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (o Option[T]) IsSome() bool { return o.ok }
func (o Option[T]) IsNone() bool { return !o.ok }

// Get returns the held value and whether there was one.
func (o Option[T]) Get() (T, bool) {
	return o.val, o.ok
}

// OrZero returns the held value, or the zero value of T if empty.
func (o Option[T]) OrZero() T {
	return o.val
}

// Or returns the held value, or fallback if empty.
func (o Option[T]) Or(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.val
}

// MustGet returns the held value and panics if there is none.
func (o Option[T]) MustGet() T {
	if !o.ok {
		panic(fmt.Sprintf("opt: MustGet called on empty Option[%T]", o.val))
	}
	return o.val
}

// Ptr returns a pointer to the held value inside o, or nil if empty.
// The pointer aliases o and is only valid while o is.
func (o *Option[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	return &o.val
}

// Take moves the value out of o, leaving it empty, and returns the prior state.
func (o *Option[T]) Take() Option[T] {
	prev := *o
	*o = Option[T]{}
	return prev
}

// Replace stores v in o and returns the prior state.
func (o *Option[T]) Replace(v T) Option[T] {
	prev := *o
	*o = Some(v)
	return prev
}

func (o Option[T]) String() string {
	if !o.ok {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.val)
}
