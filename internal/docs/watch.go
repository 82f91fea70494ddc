package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates documents as files under dir change, until ctx is done.
// dir must be the OS directory the store's FS is rooted at. Writes refresh
// the matching doc; creates, removes and renames rescan.
func (s *Store) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, dir); err != nil {
		return err
	}
	s.log.Info("watching", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("watcher error", "error", err)
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if err := s.handleEvent(ctx, w, dir, evt); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Error("error handling file event", "path", evt.Name, "error", err)
			}
		}
	}
}

func (s *Store) handleEvent(ctx context.Context, w *fsnotify.Watcher, dir string, evt fsnotify.Event) error {
	if isChmodOnly(evt) {
		return nil
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := addTree(w, evt.Name); err != nil {
				return err
			}
			return s.Scan(ctx)
		}
	}

	rel, err := filepath.Rel(dir, evt.Name)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)

	switch {
	case evt.Has(fsnotify.Create), evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		if err := s.Scan(ctx); err != nil {
			return err
		}
		// A file replaced by rename keeps its path but not its contents.
		_, err := s.Invalidate(ctx, rel)
		return err
	case evt.Has(fsnotify.Write):
		if !s.Matches(rel) {
			return nil
		}
		_, err := s.Refresh(ctx, rel)
		return err
	}
	return nil
}

func isChmodOnly(evt fsnotify.Event) bool {
	return evt.Has(fsnotify.Chmod) &&
		!evt.Has(fsnotify.Write) &&
		!evt.Has(fsnotify.Create) &&
		!evt.Has(fsnotify.Remove) &&
		!evt.Has(fsnotify.Rename)
}

// addTree watches dir and every directory below it. fsnotify is not
// recursive.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("error watching %s: %w", p, err)
		}
		return nil
	})
}
