package docs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/river-now/lazyfield/kit/asynccell"
	"github.com/river-now/lazyfield/kit/tasks"
)

type Entry struct {
	Path        string    `json:"path"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Headings    []Heading `json:"headings,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type entriesResult struct {
	entries []Entry
	err     error
}

// Index is the table of contents of a Store. Building it touches every
// document, so it lives in an async cell: a request that gives up stops
// waiting for it, and whichever request comes next starts over.
type Index struct {
	store *Store
	limit int
	log   *slog.Logger

	entries *asynccell.Cell[*Index, entriesResult]
	builds  atomic.Int64
}

func newIndex(store *Store, limit int, log *slog.Logger) *Index {
	ix := &Index{store: store, limit: limit, log: log}
	ix.entries = asynccell.NewEmpty(func(ctx context.Context, ix *Index) entriesResult {
		return ix.buildEntries(ctx)
	})
	return ix
}

func (ix *Index) buildEntries(ctx context.Context) entriesResult {
	ix.builds.Add(1)
	all := ix.store.Docs()
	entries, err := tasks.Map(ctx, ix.limit, all, func(ctx context.Context, d *Doc) (Entry, error) {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		return entryFor(d), nil
	})
	if err != nil {
		return entriesResult{err: err}
	}
	ix.log.Debug("built index", "entries", len(entries))
	return entriesResult{entries: entries}
}

func entryFor(d *Doc) Entry {
	e := Entry{Path: d.Path()}
	page, err := d.Page()
	if err != nil {
		e.Error = err.Error()
		return e
	}
	e.Title = page.Title
	e.Description = page.Description
	e.Tags = page.Tags
	e.Headings, _ = d.Headings()
	e.ETag, _ = d.ETag()
	return e
}

// Entries returns one entry per document, sorted by path, building the index
// if needed. The only errors are those of ctx.
func (ix *Index) Entries(ctx context.Context) ([]Entry, error) {
	for {
		res, err := ix.entries.Get(ctx, ix)
		if err != nil {
			return nil, err
		}
		if res.err == nil {
			return res.entries, nil
		}
		// Some caller's ctx ended just as its build finished. The stored
		// result is unusable for everyone, so drop it even if ctx is done too.
		if err := ix.dropFailed(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// dropFailed clears the index only if it still holds a failed build.
func (ix *Index) dropFailed(ctx context.Context) error {
	h, err := ix.entries.Write(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	if res, ok := h.Peek().Get(); ok && res.err != nil {
		h.Clear()
	}
	return nil
}

// Invalidate drops the built index. It waits for an in-flight build to
// finish or be abandoned, or for ctx.
func (ix *Index) Invalidate(ctx context.Context) (bool, error) {
	prev, err := ix.entries.Clear(ctx)
	return prev.IsSome(), err
}

func (ix *Index) IsBuilt() bool { return ix.entries.IsSet() }

func (ix *Index) Builds() int64 { return ix.builds.Load() }
