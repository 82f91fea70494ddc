package docs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"
)

func TestIndexEntries(t *testing.T) {
	fsys := testFS()
	fsys["broken.md"] = &fstest.MapFile{Data: []byte("---\ntitle: [unterminated\n---\n")}
	s := newTestStore(t, fsys, "")
	ctx := context.Background()

	entries, err := s.Index().Entries(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[0].Path != "broken.md" || entries[0].Error == "" {
		t.Errorf("expected broken doc to carry its error, got %+v", entries[0])
	}
	guide := entries[1]
	if guide.Title != "Getting Started" || len(guide.Headings) != 2 || guide.ETag == "" {
		t.Errorf("expected full entry for the guide, got %+v", guide)
	}
	if entries[2].Path != "index.md" || entries[2].Title != "Index" {
		t.Errorf("expected index.md last, got %+v", entries[2])
	}
}

func TestIndexBuildsOnce(t *testing.T) {
	s := newTestStore(t, testFS(), "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Index().Entries(ctx); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if s.Index().Builds() != 1 {
		t.Errorf("expected 1 build, got %d", s.Index().Builds())
	}

	was, err := s.Index().Invalidate(ctx)
	if err != nil || !was {
		t.Fatalf("expected index to be cleared, got %v %v", was, err)
	}
	if _, err := s.Index().Entries(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Index().Builds() != 2 {
		t.Errorf("expected rebuild after invalidation, got %d builds", s.Index().Builds())
	}
}

func TestIndexCancelled(t *testing.T) {
	s := newTestStore(t, testFS(), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Index().Entries(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Index().IsBuilt() || s.Index().Builds() != 0 {
		t.Errorf("expected no build with a cancelled context")
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Index().Entries(ctx); err != nil {
		t.Errorf("expected the next caller to build, got %v", err)
	}
}

func TestIndexFailedBuildNotServed(t *testing.T) {
	s := newTestStore(t, testFS(), "")
	ix := s.Index()

	// what a build leaves behind when its request dies as it finishes
	if _, err := ix.entries.Store(context.Background(), entriesResult{err: context.Canceled}); err != nil {
		t.Fatal(err)
	}

	dead, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ix.Entries(dead); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled for the dead caller, got %v", err)
	}

	entries, err := ix.Entries(context.Background())
	if err != nil {
		t.Fatalf("expected a healthy caller to rebuild, got %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
	if ix.Builds() != 1 {
		t.Errorf("expected 1 build, got %d", ix.Builds())
	}

	t.Run("ClearedForDeadCaller", func(t *testing.T) {
		if _, err := ix.entries.Store(context.Background(), entriesResult{err: context.Canceled}); err != nil {
			t.Fatal(err)
		}
		if err := ix.dropFailed(context.WithoutCancel(dead)); err != nil {
			t.Fatal(err)
		}
		if ix.IsBuilt() {
			t.Errorf("expected the failed result to be dropped")
		}
	})

	t.Run("KeepsGoodResult", func(t *testing.T) {
		if _, err := ix.Entries(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := ix.dropFailed(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !ix.IsBuilt() {
			t.Errorf("expected a good index to survive")
		}
	})
}
