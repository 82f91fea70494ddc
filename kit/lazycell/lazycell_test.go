package lazycell

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/river-now/lazyfield/kit/opt"
	"golang.org/x/sync/errgroup"
)

type owner struct {
	id int
}

func builtFor(o *owner) string { return fmt.Sprintf("built:%d", o.id) }

func TestCellScenario(t *testing.T) {
	o := &owner{id: 42}
	var builds atomic.Int32
	c := NewEmpty(func(o *owner) string {
		builds.Add(1)
		return builtFor(o)
	})

	if c.IsSet() {
		t.Fatalf("expected fresh empty cell to be unset")
	}
	if got := c.Get(o); got != "built:42" {
		t.Fatalf("expected built:42, got %s", got)
	}
	if !c.IsSet() {
		t.Fatalf("expected cell to be set after read")
	}

	h := c.Write()
	prev := h.Store("manual")
	h.Release()
	if prev.MustGet() != "built:42" {
		t.Errorf("expected store to return built:42, got %v", prev)
	}
	if got := c.Get(o); got != "manual" {
		t.Errorf("expected manual, got %s", got)
	}

	h = c.Write()
	prev = h.Clear()
	h.Release()
	if prev.MustGet() != "manual" {
		t.Errorf("expected clear to return manual, got %v", prev)
	}
	if c.IsSet() {
		t.Errorf("expected cell to be unset after clear")
	}

	if got := c.Get(o); got != "built:42" {
		t.Errorf("expected rebuilt value built:42, got %s", got)
	}
	if n := builds.Load(); n != 2 {
		t.Errorf("expected builder to run twice, ran %d times", n)
	}
}

func TestCellInitialState(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		c := NewEmpty(builtFor)
		if c.IsSet() {
			t.Errorf("expected empty cell to be unset")
		}
		if c.String() != "Cell(<unset>)" {
			t.Errorf("expected Cell(<unset>), got %s", c.String())
		}
	})

	t.Run("Filled", func(t *testing.T) {
		var builds int
		c := NewFilled(func(*owner) string { builds++; return "x" }, "pre")
		if !c.IsSet() {
			t.Errorf("expected pre-populated cell to be set")
		}
		if got := c.Get(&owner{}); got != "pre" {
			t.Errorf("expected pre, got %s", got)
		}
		if builds != 0 {
			t.Errorf("expected no build for pre-populated cell, got %d", builds)
		}
		if c.String() != "Cell(pre)" {
			t.Errorf("expected Cell(pre), got %s", c.String())
		}
	})

	t.Run("NewWithOption", func(t *testing.T) {
		c := New[*owner](nil, opt.Some(3))
		if !c.IsSet() || c.HasBuilder() {
			t.Errorf("expected set cell without builder")
		}
	})
}

func TestCellBuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	c := NewEmpty(func(o *owner) string {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return builtFor(o)
	})
	o := &owner{id: 7}

	const readers = 64
	results := make([]string, readers)
	var g errgroup.Group
	for i := range readers {
		g.Go(func() error {
			results[i] = c.Get(o)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := builds.Load(); n != 1 {
		t.Fatalf("expected exactly one build, got %d", n)
	}
	for i, r := range results {
		if r != "built:7" {
			t.Errorf("reader %d: expected built:7, got %s", i, r)
		}
	}
}

func TestCellIdempotentRead(t *testing.T) {
	var builds int
	c := NewEmpty(func(*owner) int { builds++; return builds })
	o := &owner{}
	first := c.Get(o)
	second := c.Get(o)
	if first != 1 || second != 1 || builds != 1 {
		t.Errorf("expected single build returning 1, got %d, %d after %d builds", first, second, builds)
	}
}

func TestCellStoreRoundTrip(t *testing.T) {
	var builds int
	c := NewEmpty(func(*owner) string { builds++; return "built" })
	if prev := c.Store("stored"); prev.IsSome() {
		t.Errorf("expected no previous value, got %v", prev)
	}
	if got := c.Get(&owner{}); got != "stored" {
		t.Errorf("expected stored, got %s", got)
	}
	if builds != 0 {
		t.Errorf("expected builder not to run after store, ran %d times", builds)
	}
}

func TestCellClearRebuild(t *testing.T) {
	var builds int
	c := NewFilled(func(*owner) string { builds++; return fmt.Sprintf("gen%d", builds) }, "initial")

	if prev := c.Clear(); prev.MustGet() != "initial" {
		t.Fatalf("expected clear to return initial, got %v", prev)
	}
	if c.IsSet() {
		t.Fatalf("expected unset after clear")
	}
	if prev := c.Clear(); prev.IsSome() {
		t.Errorf("expected second clear to return None, got %v", prev)
	}

	transitions := 0
	wasSet := c.IsSet()
	for range 3 {
		c.Get(&owner{})
		if now := c.IsSet(); now != wasSet {
			transitions++
			wasSet = now
		}
	}
	if transitions != 1 {
		t.Errorf("expected exactly one false->true transition, got %d", transitions)
	}
	if builds != 1 {
		t.Errorf("expected one rebuild, got %d", builds)
	}
	if got := c.Get(&owner{}); got != "gen1" {
		t.Errorf("expected gen1, got %s", got)
	}
}

func TestCellStoreThenClearInOneHandle(t *testing.T) {
	c := NewFilled(builtFor, "old")
	h := c.Write()
	prevStore := h.Store("new")
	prevClear := h.Clear()
	h.Release()

	if prevStore.MustGet() != "old" || prevClear.MustGet() != "new" {
		t.Errorf("expected old then new, got %v then %v", prevStore, prevClear)
	}
	if c.IsSet() {
		t.Errorf("expected cell to end up unset")
	}
	if got := c.Get(&owner{id: 1}); got != "built:1" {
		t.Errorf("expected rebuild after handle clear, got %s", got)
	}
}

func TestCellReadOrInitMut(t *testing.T) {
	c := NewEmpty(func(*owner) []int { return []int{1} })
	o := &owner{}

	g := c.ReadOrInitMut(o)
	*g.Ptr() = append(*g.Ptr(), 2)
	g.Release()

	c.Update(o, func(v *[]int) { *v = append(*v, 3) })

	var seen []int
	c.View(o, func(v []int) { seen = v })
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", seen)
	}
}

func TestCellMissingBuilderPanics(t *testing.T) {
	c := NewEmpty[*owner, string](nil)
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatalf("expected panic for missing builder")
			}
			if !strings.Contains(fmt.Sprint(r), "no builder") {
				t.Errorf("unexpected panic message: %v", r)
			}
		}()
		c.Get(&owner{})
	}()

	// the lock must have been released on the way out
	if prev := c.Store("ok"); prev.IsSome() {
		t.Errorf("expected empty cell, got %v", prev)
	}
}

func TestCellBuilderPanicDoesNotWedge(t *testing.T) {
	var calls int
	c := NewEmpty(func(*owner) string {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return "recovered"
	})

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("expected boom panic, got %v", r)
			}
		}()
		c.Get(&owner{})
	}()

	if c.IsSet() {
		t.Fatalf("expected cell to stay empty after a panicking build")
	}

	done := make(chan string, 1)
	go func() { done <- c.Get(&owner{}) }()
	select {
	case got := <-done:
		if got != "recovered" {
			t.Errorf("expected recovered, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("cell stayed locked after builder panic")
	}
}

func TestCellGuardReleasedOnPanicInView(t *testing.T) {
	c := NewFilled(builtFor, "v")
	func() {
		defer func() { recover() }()
		c.View(&owner{}, func(string) { panic("user code") })
	}()
	if prev := c.Clear(); prev.MustGet() != "v" {
		t.Errorf("expected clear to succeed after panic in View, got %v", prev)
	}
}

// Lazy fields may read sibling lazy fields from their builders.
type twoFields struct {
	base    *Cell[*twoFields, int]
	derived *Cell[*twoFields, string]
	nBase   int
}

func newTwoFields() *twoFields {
	f := &twoFields{}
	f.base = NewEmpty(func(f *twoFields) int {
		f.nBase++
		return 20
	})
	f.derived = NewEmpty(func(f *twoFields) string {
		return fmt.Sprintf("derived from %d", f.base.Get(f))
	})
	return f
}

func TestCellSiblingDependency(t *testing.T) {
	f := newTwoFields()
	if got := f.derived.Get(f); got != "derived from 20" {
		t.Errorf("expected derived from 20, got %s", got)
	}
	if !f.base.IsSet() {
		t.Errorf("expected sibling to be initialized transitively")
	}

	f.base.Store(21)
	if got := f.derived.Get(f); got != "derived from 20" {
		t.Errorf("expected dependent to keep its value until cleared, got %s", got)
	}
	f.derived.Clear()
	if got := f.derived.Get(f); got != "derived from 21" {
		t.Errorf("expected derived from 21, got %s", got)
	}
	if f.nBase != 1 {
		t.Errorf("expected one base build, got %d", f.nBase)
	}
}

func TestCellClone(t *testing.T) {
	c := NewFilled(builtFor, "orig")
	d := c.Clone()
	d.Store("changed")
	if got := c.Get(&owner{}); got != "orig" {
		t.Errorf("expected original to be untouched, got %s", got)
	}
	d.Clear()
	if got := d.Get(&owner{id: 5}); got != "built:5" {
		t.Errorf("expected clone to keep the builder, got %s", got)
	}
	if !c.IsSet() {
		t.Errorf("expected original to stay set")
	}
}

func TestCellIntoInner(t *testing.T) {
	c := NewFilled(builtFor, "last")
	v := c.IntoInner()
	if v.MustGet() != "last" {
		t.Errorf("expected last, got %v", v)
	}
	if c.IsSet() {
		t.Errorf("expected cell to be emptied")
	}
	if NewEmpty(builtFor).IntoInner().IsSome() {
		t.Errorf("expected None from empty cell")
	}
}

func TestCellSetBuilder(t *testing.T) {
	c := NewEmpty[*owner, string](nil)
	if prev := c.SetBuilder(func(*owner) string { return "late" }); prev != nil {
		t.Errorf("expected no previous builder")
	}
	if got := c.Get(&owner{}); got != "late" {
		t.Errorf("expected late, got %s", got)
	}
}

func TestCellStringWhileLocked(t *testing.T) {
	c := NewFilled(builtFor, "x")
	h := c.Write()
	if s := c.String(); s != "Cell(<locked>)" {
		t.Errorf("expected Cell(<locked>), got %s", s)
	}
	h.Release()
}

func TestCellStressReadersAndClearer(t *testing.T) {
	var builds, clears atomic.Int64
	c := NewFilled(func(*owner) string {
		n := builds.Add(1)
		return fmt.Sprintf("gen%d", n)
	}, "gen0")
	o := &owner{}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if c.Clear().IsSome() {
				clears.Add(1)
			}
			time.Sleep(50 * time.Microsecond)
		}
		close(stop)
	}()

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := c.ReadOrInit(o)
				v := g.Get()
				set := c.IsSet()
				g.Release()

				if !set {
					t.Errorf("observed IsSet false while holding a read guard")
					return
				}
				var n int64
				if _, err := fmt.Sscanf(v, "gen%d", &n); err != nil || n > builds.Load() {
					t.Errorf("observed value %q that no completed build produced", v)
					return
				}
			}
		}()
	}
	wg.Wait()

	if b, cl := builds.Load(), clears.Load(); b > cl {
		t.Errorf("expected builds (%d) never to exceed clears (%d)", b, cl)
	}
}
