package gmlindex

import (
	"context"
	"fmt"

	"github.com/jward/gmlindex/internal/watch"
)

// WatchBatch reports what one debounced batch of file events did.
type WatchBatch struct {
	Indexed []string
	Removed []string
	Err     error
}

// Watch re-indexes project files as they change on disk until ctx is
// cancelled. Events are applied one batch at a time, so edits to the same
// file land in the order they happened. onBatch, if non-nil, is called after
// each batch.
func (e *Engine) Watch(ctx context.Context, onBatch func(WatchBatch)) error {
	w, err := watch.New(e.root,
		watch.WithDebounce(e.cfg.Debounce()),
		watch.WithFilter(e.cfg.Match),
		watch.WithLogger(e.logger),
	)
	if err != nil {
		return fmt.Errorf("gmlindex: watch: %w", err)
	}
	return w.Run(ctx, func(events []watch.Event) {
		b := e.applyEvents(ctx, events)
		if b.Err != nil {
			e.logger.Warn("gmlindex: watch batch", "err", b.Err)
		}
		if onBatch != nil {
			onBatch(b)
		}
	})
}

func (e *Engine) applyEvents(ctx context.Context, events []watch.Event) WatchBatch {
	var b WatchBatch
	for _, ev := range events {
		switch ev.Op {
		case watch.Changed:
			b.Indexed = append(b.Indexed, ev.URI)
		case watch.Removed:
			b.Removed = append(b.Removed, ev.URI)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// New or deleted asset folders change which names are objects and
	// scripts, so the resource list is refreshed before indexing.
	if err := e.refreshResources(); err != nil {
		b.Err = err
		return b
	}
	for _, uri := range b.Removed {
		delete(e.overlays, uri)
		e.ref.RemoveURI(uri)
	}
	b.Err = e.indexURIs(ctx, b.Indexed, false)
	return b
}
