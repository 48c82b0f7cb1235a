package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long Watch waits for a burst of file events to settle
const DefaultWatchDebounce = 500 * time.Millisecond

type changeKind int

const (
	changeUpsert changeKind = iota + 1
	changeRemove
)

// watchScope tracks what Watch was asked to follow
type watchScope struct {
	watcher *fsnotify.Watcher
	dirs    []string        // directory roots, watched recursively
	files   map[string]bool // explicit file roots
}

// Watch keeps the corpus in sync with paths until ctx is done. Supported files
// that are created or written are ingested again; removed or renamed files are
// deleted. Events are applied once no new event arrived for debounce.
func (idx *Indexer) Watch(ctx context.Context, paths []string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	scope := &watchScope{watcher: watcher, files: make(map[string]bool)}
	for _, root := range paths {
		if err := scope.add(root); err != nil {
			return err
		}
	}
	idx.logger.Info("watching for changes", "paths", paths, "debounce", debounce)

	pending := make(map[string]changeKind)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			for path, kind := range scope.classify(ev) {
				pending[path] = kind
			}
			if len(pending) > 0 {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			idx.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if !idx.applyChanges(ctx, pending) {
				// an HTTP ingest holds the lock; try again later
				timer.Reset(debounce)
				continue
			}
			clear(pending)
		}
	}
}

// add starts following root, a directory tree or a single file
func (w *watchScope) add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		w.files[abs] = true
		return w.watcher.Add(filepath.Dir(abs))
	}
	w.dirs = append(w.dirs, abs)
	return w.addTree(abs)
}

// addTree watches dir and every non-hidden directory below it
func (w *watchScope) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// inTree reports whether path lies under one of the directory roots
func (w *watchScope) inTree(path string) bool {
	for _, dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// classify maps one event onto the changes it implies. A directory created
// inside a root is watched and its files are queued.
func (w *watchScope) classify(ev fsnotify.Event) map[string]changeKind {
	path := ev.Name
	if isHidden(path) || !(w.files[path] || w.inTree(path)) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if !ev.Has(fsnotify.Create) || w.addTree(path) != nil {
				return nil
			}
			files, err := discoverFiles([]string{path})
			if err != nil {
				return nil
			}
			changes := make(map[string]changeKind, len(files))
			for _, f := range files {
				changes[f] = changeUpsert
			}
			return changes
		}
		if !w.files[path] && !supportedExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		return map[string]changeKind{path: changeUpsert}

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// path may have been a directory; removePath handles both
		return map[string]changeKind{path: changeRemove}
	}
	return nil
}

// applyChanges ingests or removes every pending path under the ingest lock.
// It returns false without doing anything when the lock is taken.
func (idx *Indexer) applyChanges(ctx context.Context, pending map[string]changeKind) bool {
	if !idx.lock.TryAcquire() {
		return false
	}
	defer idx.lock.Release()

	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return true
		}
		switch pending[path] {
		case changeUpsert:
			res, err := idx.indexFile(ctx, path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				// created and removed within one debounce window
				_, err = idx.removePath(ctx, path)
			case err == nil && !res.Skipped:
				idx.logger.Info("file changed", "path", path, "document_id", res.DocumentID, "corpus_version", res.CorpusVersion)
			}
			if err != nil {
				idx.logger.Warn("watch ingest failed", "path", path, "error", err)
			}
		case changeRemove:
			n, err := idx.removePath(ctx, path)
			if err != nil {
				idx.logger.Warn("watch remove failed", "path", path, "error", err)
			} else if n > 0 {
				idx.logger.Info("file removed", "path", path, "documents", n)
			}
		}
	}
	return true
}

// isHidden reports whether the final path element starts with a dot
func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
