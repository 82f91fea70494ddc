// Useful for creating methods that lazily initialize a derived value that
// has no owner to speak of, e.g. package-level configuration. Add a private
// field of type Value[T] to your struct (or declare one at package level)
// and return the value from a getter using Get. Unlike sync.Once, a Value
// can be Reset, after which the next Get runs its init function again.
package lazycache

import (
	"sync"

	"github.com/river-now/lazyfield/kit/lazycell"
)

type Value[T any] struct {
	once sync.Once
	cell *lazycell.Cell[func() T, T]
}

func (v *Value[T]) c() *lazycell.Cell[func() T, T] {
	v.once.Do(func() {
		v.cell = lazycell.NewEmpty(func(initFunc func() T) T { return initFunc() })
	})
	return v.cell
}

// Get returns the cached value, running initFunc first if there is none.
// Concurrent first calls run initFunc once.
func Get[T any](v *Value[T], initFunc func() T) T {
	return v.c().Get(initFunc)
}

// Reset drops the cached value so the next Get recomputes it.
func Reset[T any](v *Value[T]) {
	v.c().Clear()
}

// IsSet reports whether a value is currently cached.
func IsSet[T any](v *Value[T]) bool {
	return v.c().IsSet()
}

// New returns a getter that lazily runs fn once per Reset cycle, and the
// matching reset function.
func New[T any](fn func() T) (get func() T, reset func()) {
	var v Value[T]
	return func() T { return Get(&v, fn) }, func() { Reset(&v) }
}
