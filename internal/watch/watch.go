// Package watch reports debounced changes to project source files.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is what happened to a file.
type Op int

const (
	// Changed covers creation and modification.
	Changed Op = iota
	Removed
)

func (o Op) String() string {
	if o == Removed {
		return "removed"
	}
	return "changed"
}

// Event is one debounced file change. URI is slash-separated and relative to
// the watched root.
type Event struct {
	URI string
	Op  Op
}

// Watcher watches a project tree recursively. Events are collected until no
// new event arrives for the debounce interval and then handed over as one
// batch, in the order each URI was first touched.
type Watcher struct {
	root     string
	debounce time.Duration
	match    func(uri string) bool
	logger   *slog.Logger

	fs        *fsnotify.Watcher
	closeOnce sync.Once

	pending map[string]Op
	order   []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet interval before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithFilter restricts events to URIs for which match returns true.
func WithFilter(match func(uri string) bool) Option {
	return func(w *Watcher) { w.match = match }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New starts watching every directory under root. Hidden directories are
// skipped. Call Run to receive events and Close if Run is never called.
func New(root string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		root:     root,
		debounce: 150 * time.Millisecond,
		match:    func(string) bool { return true },
		logger:   slog.New(slog.DiscardHandler),
		pending:  map[string]Op{},
	}
	for _, opt := range opts {
		opt(w)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w.fs = fsw
	if _, err := w.addTree(root, false); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Close stops the underlying watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fs.Close() })
	return err
}

// Run delivers batches to handle until ctx is done, then closes the watcher.
// handle runs on the calling goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, handle func([]Event)) error {
	defer w.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case <-timer.C:
			if batch := w.flush(); len(batch) > 0 {
				w.logger.Debug("watch batch", "events", len(batch))
				handle(batch)
			}
		}
	}
}

// handle records ev and reports whether anything was queued.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	info, err := os.Stat(ev.Name)
	if err == nil && info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			// Files can land in a new directory before its watch exists.
			queued, err := w.addTree(ev.Name, true)
			if err != nil {
				w.logger.Warn("watch new directory", "path", ev.Name, "err", err)
			}
			return queued
		}
		return false
	}

	uri, ok := w.uri(ev.Name)
	if !ok || !w.match(uri) {
		return false
	}
	op := Changed
	if err != nil {
		op = Removed
	}
	w.queue(uri, op)
	return true
}

func (w *Watcher) queue(uri string, op Op) {
	if _, ok := w.pending[uri]; !ok {
		w.order = append(w.order, uri)
	}
	w.pending[uri] = op
}

func (w *Watcher) flush() []Event {
	batch := make([]Event, 0, len(w.order))
	for _, uri := range w.order {
		batch = append(batch, Event{URI: uri, Op: w.pending[uri]})
	}
	w.pending = map[string]Op{}
	w.order = nil
	return batch
}

func (w *Watcher) uri(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree watches dir and its subdirectories. When queueFiles is set,
// matching files found on the way are queued as changed.
func (w *Watcher) addTree(dir string, queueFiles bool) (bool, error) {
	queued := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if queueFiles {
				if uri, ok := w.uri(path); ok && w.match(uri) {
					w.queue(uri, Changed)
					queued = true
				}
			}
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			if errors.Is(err, fsnotify.ErrClosed) {
				return err
			}
			w.logger.Warn("watch add", "path", path, "err", err)
		}
		return nil
	})
	if err != nil {
		return queued, fmt.Errorf("watch: %s: %w", dir, err)
	}
	return queued, nil
}
