package gmlindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jward/gmlindex/internal/config"
	"github.com/jward/gmlindex/internal/gml"
	"github.com/jward/gmlindex/internal/reference"
	"github.com/jward/gmlindex/internal/runtime"
	"github.com/jward/gmlindex/internal/store"
)

// Engine orchestrates the gmlindex pipeline for one GameMaker project: file
// discovery, change detection, fact extraction, the in-memory reference
// tables, and the SQLite cache they are persisted to.
type Engine struct {
	root       string
	cfg        *config.Config
	logger     *slog.Logger
	layout     *gml.Layout
	ref        *reference.Reference
	store      *store.Store
	builtins   *gml.Builtins
	extractor  *gml.Extractor
	runtime    *runtime.Runtime
	scriptsDir string
	scriptsFS  fs.FS

	// useParallel enables the worker pool for extraction.
	useParallel bool

	// known holds the global names as of the last settle.
	known map[reference.GlobalName]bool
	// overlays holds editor text pushed with UpdateFile and not yet
	// superseded by a read from disk.
	overlays map[string]string

	// mu serializes mutating operations. Queries go straight to the
	// Reference, which has its own lock.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the project configuration. Without it New loads
// .gmlindex.toml from the project root.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger for the engine and everything it drives.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithParallel controls parallel extraction. When true (default), IndexFiles
// extracts with a worker pool bounded by the configured worker count and
// commits the results serially. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithScriptsDir sets the directory Risor fact scripts are loaded from,
// overriding scripts_dir from the configuration.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS configures the Engine to load Risor fact scripts from the
// given filesystem instead of from disk. This enables embedding scripts via
// go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithBuiltins replaces the builtin function catalog.
func WithBuiltins(b *gml.Builtins) Option {
	return func(e *Engine) {
		e.builtins = b
	}
}

// New creates an Engine for the project rooted at root. The cache database
// is opened (and created if needed) but nothing is indexed until Load,
// IndexProject or IndexFiles is called.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("gmlindex: resolve root: %w", err)
	}
	e := &Engine{
		root:        abs,
		logger:      slog.New(slog.DiscardHandler),
		useParallel: true,
		overlays:    map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cfg == nil {
		if e.cfg, err = config.Load(abs); err != nil {
			return nil, fmt.Errorf("gmlindex: %w", err)
		}
	}
	if e.scriptsDir == "" {
		e.scriptsDir = e.cfg.ScriptsPath(abs)
	}
	if e.builtins == nil {
		e.builtins = gml.DefaultBuiltins()
	}

	dbPath := e.cfg.CachePath(abs)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("gmlindex: create cache dir: %w", err)
	}
	if e.store, err = e.openStore(dbPath); err != nil {
		return nil, err
	}

	e.layout = gml.NewLayout(abs)
	e.ref = reference.New(reference.WithContextResolver(e.layout), reference.WithLogger(e.logger))
	e.extractor = gml.NewExtractor(e.builtins)

	if e.scriptsFS != nil || e.scriptsDir != "" {
		rtOpts := []runtime.RuntimeOption{runtime.WithRuntimeLogger(e.logger)}
		if e.scriptsFS != nil {
			rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
		}
		e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)
	}

	e.registerCatalog()
	return e, nil
}

// openStore opens and migrates the cache database. A file that is not a
// usable SQLite database is discarded with its WAL files and recreated.
func (e *Engine) openStore(dbPath string) (*store.Store, error) {
	s, err := openMigrated(dbPath)
	if err == nil {
		return s, nil
	}
	e.logger.Warn("gmlindex: discarding unreadable cache", "path", dbPath, "err", err)
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("gmlindex: remove cache: %w", rmErr)
		}
	}
	if s, err = openMigrated(dbPath); err != nil {
		return nil, fmt.Errorf("gmlindex: create store: %w", err)
	}
	return s, nil
}

func openMigrated(dbPath string) (*store.Store, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close writes the cache and releases the Engine's database resources.
func (e *Engine) Close() error {
	saveErr := e.SaveCache()
	return errors.Join(saveErr, e.store.Close())
}

// Root returns the absolute project root.
func (e *Engine) Root() string {
	return e.root
}

// Reference returns the underlying reference tables for direct queries.
func (e *Engine) Reference() *reference.Reference {
	return e.ref
}

// Query returns a new QueryBuilder over the reference tables.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{ref: e.ref, layout: e.layout}
}

// Stats returns the current table sizes.
func (e *Engine) Stats() Stats {
	return e.ref.Stats()
}

// registerCatalog registers builtin functions and the functions every
// extension in the project exports. Extensions that fail to load are logged
// and skipped.
func (e *Engine) registerCatalog() {
	for _, sig := range e.builtins.Functions {
		e.ref.RegisterBuiltin(sig)
	}
	exts, err := e.layout.Extensions()
	if err != nil {
		e.logger.Warn("gmlindex: loading extensions", "err", err)
	}
	for _, ext := range exts {
		for _, sig := range ext.Functions {
			e.ref.RegisterExtension(ext.Name, sig)
		}
	}
	e.known = e.ref.GlobalNames()
}

// scriptsHash hashes every Risor script the runtime can see, so a cache
// built with different scripts is not trusted. Returns "" when no scripts
// are configured.
func (e *Engine) scriptsHash() string {
	if e.runtime == nil {
		return ""
	}
	hashes := map[string]string{}
	collect := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, runtime.ScriptExt) {
			hashes[path] = ""
		}
		return nil
	}
	if e.scriptsFS != nil {
		fs.WalkDir(e.scriptsFS, ".", collect)
	} else {
		filepath.WalkDir(e.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			rel, relErr := filepath.Rel(e.scriptsDir, path)
			if relErr != nil {
				return nil
			}
			return collect(filepath.ToSlash(rel), d, err)
		})
	}
	for path := range hashes {
		src, err := e.runtime.LoadScript(path)
		if err != nil {
			continue
		}
		hashes[path] = store.HashBytes([]byte(src))
	}
	return store.CombineHashes(hashes)
}

// cacheKey identifies the inputs a cache is only valid for: the project
// manifest and the fact scripts.
func (e *Engine) cacheKey() string {
	parts := map[string]string{"scripts": e.scriptsHash()}
	if m := e.layout.Manifest(); m != "" {
		if h, err := store.HashFile(m); err == nil {
			parts["manifest"] = h
		}
	}
	return store.CombineHashes(parts)
}

// Load restores the saved cache, re-indexes whatever changed on disk since
// it was written, and validates the result once. A missing, corrupt,
// incompatible or foreign cache is treated as empty.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c := e.loadCache(); c != nil {
		e.ref.Restore(c)
		// Restore replaces the callable table wholesale.
		e.registerCatalog()
	}
	err := e.indexProject(ctx, false)

	if rep := e.ref.ValidateCache(); rep.Repaired() {
		e.logger.Warn("gmlindex: cache repaired",
			"stale", rep.StaleSlots,
			"orphans", rep.OrphanSlots,
			"dangling", rep.DanglingContributions,
			"reelected", rep.Reelected,
			"pruned", rep.Pruned,
		)
	}
	return err
}

func (e *Engine) loadCache() *reference.Cache {
	meta, c, err := e.store.LoadSnapshot()
	switch {
	case err != nil:
		e.logger.Warn("gmlindex: discarding unreadable cache", "err", err)
		return nil
	case meta == nil:
		return nil
	case !cacheCompatible(meta.Version):
		e.logger.Info("gmlindex: discarding cache", "reason", "format", "version", meta.Version, "want", CacheFormat)
		return nil
	case meta.ManifestHash != e.cacheKey():
		e.logger.Info("gmlindex: discarding cache", "reason", "manifest or scripts changed")
		return nil
	}
	e.logger.Debug("gmlindex: cache loaded", "files", len(c.URIRecords), "saved", meta.SavedAt)
	return c
}

// SaveCache writes the current tables to the cache database.
func (e *Engine) SaveCache() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta := store.Metadata{
		Version:      CacheFormat,
		ManifestHash: e.cacheKey(),
		SavedAt:      time.Now(),
	}
	if err := e.store.SaveSnapshot(meta, e.ref.Snapshot()); err != nil {
		return fmt.Errorf("gmlindex: save cache: %w", err)
	}
	return nil
}

// IndexProject refreshes the resource list, drops records of files that no
// longer exist and indexes every changed or new file.
func (e *Engine) IndexProject(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexProject(ctx, false)
}

// ForceReindex discards every table and the cache, then rebuilds from disk.
// It runs to completion even if ctx is cancelled.
func (e *Engine) ForceReindex(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ref.Clear()
	if err := e.store.Clear(); err != nil {
		return fmt.Errorf("gmlindex: force reindex: %w", err)
	}
	e.registerCatalog()
	return e.indexProject(ctx, true)
}

func (e *Engine) indexProject(ctx context.Context, force bool) error {
	if err := e.refreshResources(); err != nil {
		return err
	}

	uris, err := e.discover()
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(uris))
	for _, uri := range uris {
		present[uri] = true
	}
	for _, uri := range e.ref.URIs() {
		if !present[uri] {
			e.ref.RemoveURI(uri)
		}
	}
	return e.indexURIs(ctx, uris, force)
}

// refreshResources replaces the resource list with what is on disk.
// Resources that disappeared are deleted with their files.
func (e *Engine) refreshResources() error {
	resources, err := e.layout.Resources()
	if err != nil {
		return fmt.Errorf("gmlindex: load resources: %w", err)
	}
	present := make(map[string]bool, len(resources))
	for _, res := range resources {
		e.ref.AddResource(res)
		present[res.Name] = true
	}
	for kind := reference.ResourceObject; kind <= reference.ResourceInclude; kind++ {
		for _, name := range e.ref.ListResourcesOfType(kind) {
			if !present[name] {
				e.logger.Debug("gmlindex: resource removed", "name", name, "kind", kind)
				e.ref.DeleteResource(name)
			}
		}
	}
	return nil
}

// RemoveFile drops everything path contributed. It reports whether the file
// was indexed. Files using a global name only path declared are extracted
// again.
func (e *Engine) RemoveFile(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	uri := e.URI(path)
	delete(e.overlays, uri)
	removed := e.ref.RemoveURI(uri)
	e.settleLogged()
	return removed
}

// DeleteResource removes a resource together with its files and the symbol
// it defines.
func (e *Engine) DeleteResource(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	deleted := e.ref.DeleteResource(name)
	e.settleLogged()
	return deleted
}

// settleLogged settles outside an indexing batch, where there is no caller
// to hand script failures to.
func (e *Engine) settleLogged() {
	for _, err := range e.settle(context.Background(), nil) {
		e.logger.Warn("gmlindex: re-extracting dependents", "err", err)
	}
}

// URI converts a path (absolute, or relative to the project root) to a
// project URI.
func (e *Engine) URI(path string) string {
	if filepath.IsAbs(path) {
		return e.layout.URI(path)
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// discover lists the project's source files as sorted URIs. Inside a git
// repository git ls-files is used so .gitignore is respected; otherwise the
// tree is walked, skipping hidden directories.
func (e *Engine) discover() ([]string, error) {
	paths, err := e.gitListFiles()
	if err != nil {
		paths, err = e.walkListFiles()
		if err != nil {
			return nil, err
		}
	}
	var uris []string
	for _, p := range paths {
		uri := e.layout.URI(p)
		if e.cfg.Match(uri) {
			uris = append(uris, uri)
		}
	}
	slices.Sort(uris)
	return slices.Compact(uris), nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under the root.
func (e *Engine) gitListFiles() ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = e.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, filepath.Join(e.root, line))
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used as a
// fallback when git is not available.
func (e *Engine) walkListFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != e.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gmlindex: walk project: %w", err)
	}
	return paths, nil
}
