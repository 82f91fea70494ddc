package lazyfield_test

import (
	"context"
	"strings"
	"testing"

	"github.com/river-now/lazyfield"
)

type user struct {
	first, last string
	full        *lazyfield.Cell[*user, string]
	initials    *lazyfield.AsyncCell[*user, string]
}

func newUser(first, last string) *user {
	u := &user{first: first, last: last}
	u.full = lazyfield.NewEmpty(func(u *user) string { return u.first + " " + u.last })
	u.initials = lazyfield.NewAsyncEmpty(func(_ context.Context, u *user) string {
		var b strings.Builder
		for _, part := range strings.Fields(u.full.Get(u)) {
			b.WriteByte(part[0])
		}
		return b.String()
	})
	return u
}

func TestAggregate(t *testing.T) {
	u := newUser("Ada", "Lovelace")
	ctx := context.Background()

	got, err := u.initials.Get(ctx, u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "AL" {
		t.Errorf("expected AL, got %s", got)
	}
	if !u.full.IsSet() {
		t.Errorf("expected the sibling field to be built along the way")
	}

	// Rename: replace one field, clear the one derived from it.
	h := u.full.Write()
	h.Store("Augusta King")
	h.Release()
	if _, err := u.initials.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	if got, _ := u.initials.Get(ctx, u); got != "AK" {
		t.Errorf("expected AK, got %s", got)
	}
}

func TestConstructors(t *testing.T) {
	build := func(*user) int { return 1 }

	if lazyfield.New(build, lazyfield.None[int]()).IsSet() {
		t.Errorf("expected New with None to be empty")
	}
	if !lazyfield.New(build, lazyfield.Some(2)).IsSet() {
		t.Errorf("expected New with Some to be set")
	}
	if got := lazyfield.NewFilled(build, 3).Get(nil); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}

	abuild := func(context.Context, *user) int { return 1 }
	if lazyfield.NewAsync(abuild, lazyfield.None[int]()).IsSet() {
		t.Errorf("expected NewAsync with None to be empty")
	}
	if !lazyfield.NewAsyncFilled(abuild, 4).IsSet() {
		t.Errorf("expected NewAsyncFilled to be set")
	}
}
