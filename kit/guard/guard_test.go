package guard

import (
	"sync/atomic"
	"testing"

	"github.com/river-now/lazyfield/kit/opt"
)

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	f()
}

func TestRead(t *testing.T) {
	slot := opt.Some(7)
	var releases int
	g := NewRead(&slot, func() { releases++ })

	if g.Get() != 7 {
		t.Errorf("expected 7, got %d", g.Get())
	}
	g.Release()
	g.Release()
	if releases != 1 {
		t.Errorf("expected release to run once, ran %d times", releases)
	}
	if !g.Released() {
		t.Errorf("expected Released to report true")
	}
	expectPanic(t, "Get after Release", func() { g.Get() })
}

func TestReadEmptySlotPanics(t *testing.T) {
	slot := opt.None[int]()
	g := NewRead(&slot, func() {})
	defer g.Release()
	expectPanic(t, "Get on empty slot", func() { g.Get() })
}

func TestWrite(t *testing.T) {
	slot := opt.Some([]string{"a"})
	g := NewWrite(&slot, func() {})

	*g.Ptr() = append(*g.Ptr(), "b")
	if got := slot.MustGet(); len(got) != 2 || got[1] != "b" {
		t.Errorf("expected mutation through Ptr to reach the slot, got %v", got)
	}
	g.Set([]string{"z"})
	if got := g.Get(); len(got) != 1 || got[0] != "z" {
		t.Errorf("expected Set to overwrite, got %v", got)
	}
	g.Release()
	expectPanic(t, "Set after Release", func() { g.Set(nil) })
}

func TestHandle(t *testing.T) {
	t.Run("StoreThenClear", func(t *testing.T) {
		slot := opt.Some("built")
		var isSet atomic.Bool
		isSet.Store(true)
		var released bool
		h := NewHandle(&slot, &isSet, func() { released = true })

		prev := h.Store("manual")
		if prev.MustGet() != "built" {
			t.Errorf("expected previous value built, got %v", prev)
		}
		if !isSet.Load() {
			t.Errorf("expected isSet after Store")
		}
		prev = h.Clear()
		if prev.MustGet() != "manual" {
			t.Errorf("expected previous value manual, got %v", prev)
		}
		if isSet.Load() || slot.IsSome() {
			t.Errorf("expected empty slot and cleared flag after Clear")
		}
		if h.Peek().IsSome() {
			t.Errorf("expected Peek to see empty slot")
		}
		h.Release()
		if !released {
			t.Errorf("expected release func to run")
		}
		expectPanic(t, "Store after Release", func() { h.Store("x") })
	})

	t.Run("ClearOnEmpty", func(t *testing.T) {
		var slot opt.Option[int]
		var isSet atomic.Bool
		h := NewHandle(&slot, &isSet, func() {})
		defer h.Release()
		if h.Clear().IsSome() {
			t.Errorf("expected None from clearing an empty slot")
		}
		if prev := h.Store(1); prev.IsSome() {
			t.Errorf("expected None from storing into an empty slot, got %v", prev)
		}
		if !isSet.Load() {
			t.Errorf("expected isSet after Store")
		}
	})
}
