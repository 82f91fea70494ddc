package lazycache

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGet(t *testing.T) {
	var v Value[int]
	var calls atomic.Int32
	init := func() int { return int(calls.Add(1)) * 10 }

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := Get(&v, init); got != 10 {
				t.Errorf("expected 10, got %d", got)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected init to run once, ran %d times", calls.Load())
	}
	if !IsSet(&v) {
		t.Errorf("expected value to be cached")
	}
}

func TestReset(t *testing.T) {
	var v Value[string]
	n := 0
	init := func() string { n++; return string(rune('a' + n - 1)) }

	if Get(&v, init) != "a" {
		t.Fatalf("expected a")
	}
	Reset(&v)
	if IsSet(&v) {
		t.Fatalf("expected value to be dropped after Reset")
	}
	if got := Get(&v, init); got != "b" {
		t.Errorf("expected b after reset, got %s", got)
	}
}

func TestNew(t *testing.T) {
	calls := 0
	get, reset := New(func() int { calls++; return calls })
	if get() != 1 || get() != 1 {
		t.Fatalf("expected cached 1")
	}
	reset()
	if get() != 2 {
		t.Errorf("expected 2 after reset")
	}
}
