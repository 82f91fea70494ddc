// Package docs models a directory of markdown documents as aggregates of
// lazy fields. A Doc renders itself on first use and caches every derived
// value (frontmatter, HTML, headings, ETag) until it is invalidated; the
// Index of all docs is built asynchronously and can be abandoned mid-build.
package docs

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/river-now/lazyfield/kit/colorlog"
	"github.com/river-now/lazyfield/kit/tasks"
)

var docsLog = colorlog.New("docs")

type EventKind string

const (
	EventAdded       EventKind = "added"
	EventRemoved     EventKind = "removed"
	EventInvalidated EventKind = "invalidated"
)

type Event struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path"`
}

type Options struct {
	// Glob selects documents, relative to the root of the FS. Defaults to
	// "**/*.md".
	Glob string
	// WarmLimit bounds concurrent builds in Warm and in index builds.
	WarmLimit int
	Logger    *slog.Logger
}

type Store struct {
	fsys  fs.FS
	glob  string
	limit int
	log   *slog.Logger
	index *Index

	mu   sync.RWMutex
	docs map[string]*Doc

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

func NewStore(fsys fs.FS, opts Options) (*Store, error) {
	if opts.Glob == "" {
		opts.Glob = "**/*.md"
	}
	if !doublestar.ValidatePattern(opts.Glob) {
		return nil, fmt.Errorf("invalid glob pattern %q", opts.Glob)
	}
	if opts.Logger == nil {
		opts.Logger = docsLog
	}
	s := &Store{
		fsys:  fsys,
		glob:  opts.Glob,
		limit: opts.WarmLimit,
		log:   opts.Logger,
		docs:  map[string]*Doc{},
		subs:  map[chan Event]struct{}{},
	}
	s.index = newIndex(s, opts.WarmLimit, opts.Logger)
	if err := s.Scan(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

/////////////////////////////////////////////////////////////////////
/////// LOOKUP
/////////////////////////////////////////////////////////////////////

func (s *Store) Doc(path string) (*Doc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[path]
	return d, ok
}

// Docs returns every document, sorted by path.
func (s *Store) Docs() []*Doc {
	s.mu.RLock()
	out := make([]*Doc, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Doc) int { return cmp.Compare(a.path, b.path) })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Index() *Index { return s.index }

// Matches reports whether path (slash-separated, relative to the FS root)
// is selected by the store's glob.
func (s *Store) Matches(path string) bool {
	ok, err := doublestar.Match(s.glob, path)
	return err == nil && ok
}

/////////////////////////////////////////////////////////////////////
/////// SCAN / INVALIDATE
/////////////////////////////////////////////////////////////////////

// Scan re-reads the document list. New paths get fresh docs, vanished paths
// are dropped, and existing docs keep their built fields. The index is
// invalidated if the list changed.
func (s *Store) Scan(ctx context.Context) error {
	paths, err := doublestar.Glob(s.fsys, s.glob, doublestar.WithFilesOnly())
	if err != nil {
		return fmt.Errorf("error globbing %q: %w", s.glob, err)
	}
	seen := make(map[string]struct{}, len(paths))
	var events []Event

	s.mu.Lock()
	for _, p := range paths {
		seen[p] = struct{}{}
		if _, ok := s.docs[p]; !ok {
			s.docs[p] = newDoc(s.fsys, p, s.log)
			events = append(events, Event{Kind: EventAdded, Path: p})
		}
	}
	for p := range s.docs {
		if _, ok := seen[p]; !ok {
			delete(s.docs, p)
			events = append(events, Event{Kind: EventRemoved, Path: p})
		}
	}
	s.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	s.log.Info("scanned documents", "count", len(paths), "changes", len(events))
	if _, err := s.index.Invalidate(ctx); err != nil {
		return err
	}
	for _, e := range events {
		s.publish(e)
	}
	return nil
}

// Invalidate drops every built field of the doc at path and the index. It
// reports false if no such doc exists.
func (s *Store) Invalidate(ctx context.Context, path string) (bool, error) {
	d, ok := s.Doc(path)
	if !ok {
		return false, nil
	}
	d.Invalidate()
	if _, err := s.index.Invalidate(ctx); err != nil {
		return true, err
	}
	s.log.Debug("invalidated", "path", path)
	s.publish(Event{Kind: EventInvalidated, Path: path})
	return true, nil
}

// Refresh re-reads the doc at path and, if its contents changed, drops its
// derived fields and the index. It reports whether anything changed.
func (s *Store) Refresh(ctx context.Context, path string) (bool, error) {
	d, ok := s.Doc(path)
	if !ok || !d.Refresh() {
		return false, nil
	}
	if _, err := s.index.Invalidate(ctx); err != nil {
		return true, err
	}
	s.log.Debug("refreshed", "path", path)
	s.publish(Event{Kind: EventInvalidated, Path: path})
	return true, nil
}

// InvalidateAll drops the built fields of every doc and the index.
func (s *Store) InvalidateAll(ctx context.Context) error {
	for _, d := range s.Docs() {
		d.Invalidate()
	}
	if _, err := s.index.Invalidate(ctx); err != nil {
		return err
	}
	s.publish(Event{Kind: EventInvalidated, Path: "*"})
	return nil
}

// Warm builds every field of every doc, then the index.
func (s *Store) Warm(ctx context.Context) error {
	if err := tasks.Preload(ctx, s.limit, s.Docs()...); err != nil {
		return err
	}
	_, err := s.index.Entries(ctx)
	return err
}

/////////////////////////////////////////////////////////////////////
/////// EVENTS
/////////////////////////////////////////////////////////////////////

// Subscribe returns a channel of store events and a function that ends the
// subscription. Slow subscribers miss events rather than block the store.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.log.Warn("dropped event for slow subscriber", "kind", string(e.Kind), "path", e.Path)
		}
	}
}
