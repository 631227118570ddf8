package gmlindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/gml"
	"github.com/jward/gmlindex/internal/store"
)

// workItem holds everything an extraction worker needs for one file, and
// what it produced.
type workItem struct {
	uri  string
	src  string
	hash string
	ctx  fact.Context

	res fact.Result
	err error // fact script failure; gml facts are still committed
}

// IndexFiles indexes the given files (absolute paths or project URIs) using
// a three-phase pipeline:
//
//	Phase A (serial):   Read, hash and skip unchanged files.
//	Phase B (parallel): Extract facts via a bounded worker pool.
//	Phase C (serial):   Apply each file's facts to the tables in input order.
//
// Errors on individual files are collected; processing continues.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		uris = append(uris, e.URI(p))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexURIs(ctx, uris, false)
}

// UpdateFile indexes text as the current content of path, as an editor
// holding unsaved changes would report it.
func (e *Engine) UpdateFile(ctx context.Context, path, text string) error {
	uri := e.URI(path)
	fctx, ok := e.layout.Context(uri)
	if !ok {
		return fmt.Errorf("gmlindex: update %s: not a GML file", uri)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	hash := store.HashBytes([]byte(text))
	e.overlays[uri] = text
	if e.unchanged(uri, hash) {
		return nil
	}
	return e.runItems(ctx, []workItem{{uri: uri, src: text, hash: hash, ctx: fctx}}, nil)
}

func (e *Engine) indexURIs(ctx context.Context, uris []string, force bool) error {
	// ---- Phase A: Serial file preparation ----
	var items []workItem
	var errs []error
	for _, uri := range uris {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, skip, err := e.prepareFile(uri, force)
		if err != nil {
			errs = append(errs, fmt.Errorf("prepare %s: %w", uri, err))
			continue
		}
		if skip {
			continue
		}
		items = append(items, item)
	}
	return e.runItems(ctx, items, errs)
}

// prepareFile does Phase A work for a single file. skip=true means the file
// is unchanged, not GML, or gone (in which case its record is dropped).
func (e *Engine) prepareFile(uri string, force bool) (workItem, bool, error) {
	fctx, ok := e.layout.Context(uri)
	if !ok {
		return workItem{}, true, nil
	}

	// The disk copy supersedes any editor text once it is indexed.
	delete(e.overlays, uri)
	content, err := os.ReadFile(e.layout.Path(uri))
	if errors.Is(err, fs.ErrNotExist) {
		e.ref.RemoveURI(uri)
		return workItem{}, true, nil
	}
	if err != nil {
		return workItem{}, false, fmt.Errorf("read file: %w", err)
	}
	hash := store.HashBytes(content)
	if !force && e.unchanged(uri, hash) {
		return workItem{}, true, nil
	}
	return workItem{uri: uri, src: string(content), hash: hash, ctx: fctx}, false, nil
}

func (e *Engine) unchanged(uri, hash string) bool {
	h, ok := e.ref.Hash(uri)
	return ok && h == hash
}

// runItems extracts and commits items, then settles files that depend on
// the global names the batch changed. errs carries Phase A failures.
func (e *Engine) runItems(ctx context.Context, items []workItem, errs []error) error {
	if len(items) > 0 {
		if err := e.extractAll(ctx, items); err != nil {
			return err
		}
		e.commit(items)
	}

	reported := make(map[string]bool, len(items))
	for _, it := range items {
		reported[it.uri] = true
		if it.err != nil {
			errs = append(errs, fmt.Errorf("scripts %s: %w", it.uri, it.err))
		}
	}
	errs = append(errs, e.settle(ctx, reported)...)

	if len(errs) > 0 {
		return fmt.Errorf("gmlindex: indexing had %d error(s): %w", len(errs), errs[0])
	}
	e.logger.Debug("gmlindex: indexed", "files", len(items))
	return nil
}

// settle re-extracts every file that mentions a global name declared or
// removed since the last settle. Bare identifiers are classified against
// the names known when a file is extracted, so such files may hold facts a
// full rebuild would not produce. Script failures of files in reported are
// not returned again.
func (e *Engine) settle(ctx context.Context, reported map[string]bool) []error {
	now := e.ref.GlobalNames()
	var changed []string
	for n := range now {
		if !e.known[n] {
			changed = append(changed, n.Name)
		}
	}
	for n := range e.known {
		if !now[n] {
			changed = append(changed, n.Name)
		}
	}
	e.known = now
	if len(changed) == 0 {
		return nil
	}

	var items []workItem
	for _, uri := range e.ref.URIsMentioning(changed) {
		if it, ok := e.reloadItem(uri); ok {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil
	}
	e.logger.Debug("gmlindex: global names changed, extracting dependents", "names", len(changed), "files", len(items))
	if err := e.extractAll(ctx, items); err != nil {
		return []error{err}
	}
	e.commit(items)
	// Declarations do not depend on classification, so this is stable.
	e.known = e.ref.GlobalNames()

	var errs []error
	for _, it := range items {
		if it.err != nil && !reported[it.uri] {
			errs = append(errs, fmt.Errorf("scripts %s: %w", it.uri, it.err))
		}
	}
	return errs
}

// reloadItem reads the current text of an indexed file: the editor's copy
// if one was pushed with UpdateFile, else the disk. Files that vanished are
// left for discovery to remove.
func (e *Engine) reloadItem(uri string) (workItem, bool) {
	fctx, ok := e.layout.Context(uri)
	if !ok {
		return workItem{}, false
	}
	src, ok := e.overlays[uri]
	if !ok {
		content, err := os.ReadFile(e.layout.Path(uri))
		if err != nil {
			return workItem{}, false
		}
		src = string(content)
	}
	return workItem{uri: uri, src: src, hash: store.HashBytes([]byte(src)), ctx: fctx}, true
}

// ---- Phase B: Parallel extraction ----

func (e *Engine) extractAll(ctx context.Context, items []workItem) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.extractFile(gctx, &items[i])
			return nil
		})
	}
	return g.Wait()
}

// extractFile runs the GML extractor and, when configured, the fact scripts.
// Tables are only read here; the Reference answers name lookups.
func (e *Engine) extractFile(ctx context.Context, it *workItem) {
	it.res = e.extractor.Extract(it.src, gml.Options{
		Context:    it.ctx,
		Resolver:   e.ref,
		ScriptName: e.layout.ScriptName(it.uri),
	})
	it.err = nil
	if e.runtime == nil {
		return
	}
	facts, err := e.runtime.Extract(ctx, it.uri, []byte(it.src), it.ctx)
	it.res.Facts = append(it.res.Facts, facts...)
	it.err = err
}

func (e *Engine) workers() int {
	if !e.useParallel || e.cfg.Workers < 1 {
		return 1
	}
	return e.cfg.Workers
}

// ---- Phase C: Serial commit ----

// commit applies every item in order.
func (e *Engine) commit(items []workItem) {
	for i := range items {
		it := &items[i]
		e.ref.Reindex(it.uri, it.res)
		e.ref.SetHash(it.uri, it.hash)
	}
}
