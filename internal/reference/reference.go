// Package reference is the in-memory symbol database of a GML project. It
// owns the symbol tables (instance variables per object, callables, enums,
// macros, resources) and one URIRecord per file, and keeps the two in step
// while files are re-indexed one at a time.
package reference

import (
	"log/slog"
	"sync"

	"github.com/jward/gmlindex/internal/fact"
)

// GlobalObject is the pseudo-object global.* variables are recorded under.
const GlobalObject = "global"

// ContextResolver tells the engine which lexical context a file belongs to.
// It is consulted when an instance variable's origin is re-elected.
type ContextResolver interface {
	Context(uri string) (fact.Context, bool)
}

// ContextFunc adapts a function to ContextResolver.
type ContextFunc func(uri string) (fact.Context, bool)

func (f ContextFunc) Context(uri string) (fact.Context, bool) { return f(uri) }

// Reference is the symbol database. All methods are safe for concurrent use;
// mutations hold the write lock for their whole duration, so readers never
// see a file half cleared or half repopulated.
type Reference struct {
	mu sync.RWMutex

	objects   map[string]*Object
	callables map[string]*Callable
	enums     map[string]*Enum
	macros    map[string]*Macro
	resources map[string]*Resource
	records   map[string]*URIRecord

	contexts ContextResolver
	logger   *slog.Logger
}

// Option configures a Reference.
type Option func(*Reference)

// WithContextResolver sets the resolver used to re-derive instance-variable
// ranks during origin re-election. Without one the stored rank is used.
func WithContextResolver(cr ContextResolver) Option {
	return func(r *Reference) {
		r.contexts = cr
	}
}

// WithLogger sets the logger used to report repaired inconsistencies.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reference) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns an empty Reference.
func New(opts ...Option) *Reference {
	r := &Reference{logger: slog.New(slog.DiscardHandler)}
	r.reset()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reference) reset() {
	r.objects = map[string]*Object{}
	r.callables = map[string]*Callable{}
	r.enums = map[string]*Enum{}
	r.macros = map[string]*Macro{}
	r.resources = map[string]*Resource{}
	r.records = map[string]*URIRecord{}
}

// SetContextResolver replaces the context resolver.
func (r *Reference) SetContextResolver(cr ContextResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = cr
}

// ReindexFile replaces everything uri contributed with facts. Calling it
// with an empty slice removes the file's contributions but keeps its record.
func (r *Reference) ReindexFile(uri string, facts []fact.Fact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reindex(uri, facts, nil)
}

// Reindex is ReindexFile for a whole extraction result; parse errors are
// kept as the file's diagnostics.
func (r *Reference) Reindex(uri string, res fact.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reindex(uri, res.Facts, res.Errors)
}

func (r *Reference) reindex(uri string, facts []fact.Fact, errs []fact.ParseError) {
	hash := r.clearURI(uri)
	rec := newURIRecord(hash)
	r.records[uri] = rec

	for _, f := range facts {
		r.apply(uri, rec, f)
	}
	for _, e := range errs {
		rec.Diagnostics = append(rec.Diagnostics, Diagnostic{Range: e.Range, Message: e.Message})
	}
}

// apply records one fact into the tables and rec.
func (r *Reference) apply(uri string, rec *URIRecord, f fact.Fact) {
	loc := Location{URI: uri, Range: f.FactRange()}
	switch f := f.(type) {
	case fact.InstanceVarAssign:
		r.recordVar(rec, f.Object, f.Name, VarOccurrence{Location: loc, IsSelf: f.IsSelf, Rank: f.Rank, Assignment: true})
	case fact.InstanceVarRef:
		rank := fact.RankOther
		if ctx, ok := r.context(uri); ok {
			rank = ctx.Rank
		}
		r.recordVar(rec, f.Object, f.Name, VarOccurrence{Location: loc, IsSelf: f.IsSelf, Rank: rank})
	case fact.FunctionDecl:
		sig := SignatureFromParams(f.Name, f.Params, f.Description)
		r.recordCallable(rec, f.Name, CallOccurrence{Location: loc, Declaration: true, Signature: &sig})
	case fact.CallReference:
		r.recordCallable(rec, f.Callee, CallOccurrence{Location: loc})
	case fact.MacroDecl:
		r.recordMacro(rec, f.Name, ValueOccurrence{Location: loc, Declaration: true, Value: f.Value})
	case fact.MacroRef:
		r.recordMacro(rec, f.Name, ValueOccurrence{Location: loc})
	case fact.EnumDecl:
		r.recordEnum(rec, f.Name, Occurrence{Location: loc, Declaration: true})
	case fact.EnumRef:
		r.recordEnum(rec, f.Name, Occurrence{Location: loc})
	case fact.EnumMemberDecl:
		r.recordMember(rec, f.Enum, f.Member, ValueOccurrence{Location: loc, Declaration: true, Value: f.Value})
	case fact.EnumMemberRef:
		r.recordMember(rec, f.Enum, f.Member, ValueOccurrence{Location: loc})
	case fact.LocalVarDecl:
		recordLocal(rec, f.Name, Occurrence{Location: loc, Declaration: true})
	case fact.LocalVarRef:
		recordLocal(rec, f.Name, Occurrence{Location: loc})
	case fact.FoldRange:
		rec.FoldRanges = append(rec.FoldRanges, FoldRange{Range: f.Range, Region: f.Region})
	case fact.SelfScope:
		rec.SelfScopes = append(rec.SelfScopes, SelfScope{Range: f.Range, Object: f.Object})
	default:
		r.logger.Warn("reference: unhandled fact", "kind", f.Kind(), "uri", uri)
	}
}

func (r *Reference) context(uri string) (fact.Context, bool) {
	if r.contexts == nil {
		return fact.Context{}, false
	}
	return r.contexts.Context(uri)
}

// ClearURI removes every contribution of uri from the tables and resets its
// record. A URI never seen before gets an empty record.
func (r *Reference) ClearURI(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash := r.clearURI(uri)
	r.records[uri] = newURIRecord(hash)
}

// clearURI retracts every contribution of uri and returns the record's hash.
// The record itself is left for the caller to replace or drop.
func (r *Reference) clearURI(uri string) string {
	rec, ok := r.records[uri]
	if !ok {
		rec = newURIRecord("")
		r.records[uri] = rec
		return ""
	}

	for _, c := range rec.InstanceVars {
		r.retractVar(uri, c)
	}
	for _, c := range rec.Callables {
		r.retractCallable(uri, c)
	}
	// Members before enums, so an enum whose last member goes is pruned
	// once its own occurrences are gone too.
	for _, c := range rec.EnumMembers {
		r.retractMember(uri, c)
	}
	for _, c := range rec.Enums {
		r.retractEnum(uri, c)
	}
	for _, c := range rec.Macros {
		r.retractMacro(uri, c)
	}
	return rec.Hash
}

// RemoveURI clears uri and drops its record entirely.
func (r *Reference) RemoveURI(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeURI(uri)
}

func (r *Reference) removeURI(uri string) bool {
	if _, ok := r.records[uri]; !ok {
		return false
	}
	r.clearURI(uri)
	delete(r.records, uri)
	return true
}

// SetHash stores the content hash of uri, creating its record if needed.
func (r *Reference) SetHash(uri, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uri]
	if !ok {
		rec = newURIRecord("")
		r.records[uri] = rec
	}
	rec.Hash = hash
}

// Hash returns the stored content hash of uri.
func (r *Reference) Hash(uri string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[uri]
	if !ok {
		return "", false
	}
	return rec.Hash, true
}

// HasRecord reports whether uri has a record.
func (r *Reference) HasRecord(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[uri]
	return ok
}

// Clear discards every table and record. Registered builtins and extension
// functions are dropped as well; callers re-register them.
func (r *Reference) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// RegisterBuiltin adds a builtin function. An existing headless entry (the
// name was called before registration) is promoted and keeps its call sites.
func (r *Reference) RegisterBuiltin(sig Signature) {
	r.register(CallableFunction, "", sig)
}

// RegisterExtension adds a function exported by extension ext.
func (r *Reference) RegisterExtension(ext string, sig Signature) {
	r.register(CallableExtension, ext, sig)
}

func (r *Reference) register(kind CallableKind, ext string, sig Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.callables[sig.Name]
	if !ok {
		r.callables[sig.Name] = &Callable{Kind: kind, Signature: sig.clone(), Extension: ext, Origin: NoOrigin}
		return
	}
	if c.Kind == CallableScript {
		r.logger.Debug("reference: script shadows registered function", "name", sig.Name, "kind", kind)
		c.Shadowed = &Registration{Kind: kind, Extension: ext, Signature: sig.clone()}
		return
	}
	c.Kind = kind
	c.Signature = sig.clone()
	c.Extension = ext
}

// AddResource adds or replaces a project resource.
func (r *Reference) AddResource(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := res
	cp.Files = append([]string(nil), res.Files...)
	r.resources[res.Name] = &cp
}

// DeleteResource removes a resource the user deleted: its files' records are
// dropped and the symbols it named are deleted from every table, sweeping all
// records for dangling slots. It reports whether the resource existed.
func (r *Reference) DeleteResource(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[name]
	if !ok {
		return false
	}
	delete(r.resources, name)

	if res.Kind == ResourceExtension {
		r.unregisterExtension(name)
	}
	for _, uri := range res.Files {
		r.removeURI(uri)
	}

	switch res.Kind {
	case ResourceScript:
		// A declaration in another file keeps the script alive, and a
		// registration it shadowed has been restored by now.
		if c, ok := r.callables[name]; ok && c.Kind == CallableUnknown {
			r.deleteSymbol(Symbol{Kind: SymbolCallable, Key: name})
		}
	case ResourceObject:
		r.deleteSymbol(Symbol{Kind: SymbolInstanceVar, Key: name})
	}
	return true
}

// unregisterExtension drops the functions extension ext exported. Functions
// that are still called become headless and keep their call sites.
func (r *Reference) unregisterExtension(ext string) {
	for name, c := range r.callables {
		if c.Shadowed != nil && c.Shadowed.Kind == CallableExtension && c.Shadowed.Extension == ext {
			c.Shadowed = nil
		}
		if c.Kind != CallableExtension || c.Extension != ext {
			continue
		}
		if c.References.Empty() {
			delete(r.callables, name)
			continue
		}
		c.Kind = CallableUnknown
		c.Signature = Signature{Name: name}
		c.Extension = ""
	}
}

// DeleteSymbol removes one entity outright and drops every record entry that
// pointed at it. This visits every record in the project. An instance-var
// symbol with an empty Sub deletes the whole object.
func (r *Reference) DeleteSymbol(sym Symbol) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteSymbol(sym)
}

func (r *Reference) deleteSymbol(sym Symbol) bool {
	var found bool
	var drop func(*URIRecord) int

	switch sym.Kind {
	case SymbolCallable:
		_, found = r.callables[sym.Key]
		delete(r.callables, sym.Key)
		drop = func(rec *URIRecord) int {
			return dropContributions(&rec.Callables, func(c Contribution) bool { return c.Key == sym.Key })
		}
	case SymbolInstanceVar:
		obj, ok := r.objects[sym.Key]
		if !ok {
			break
		}
		if sym.Sub == "" {
			found = true
			delete(r.objects, sym.Key)
		} else if _, found = obj.Variables[sym.Sub]; found {
			delete(obj.Variables, sym.Sub)
			if len(obj.Variables) == 0 {
				delete(r.objects, sym.Key)
			}
		}
		drop = func(rec *URIRecord) int {
			return dropContributions(&rec.InstanceVars, func(c Contribution) bool {
				return c.Key == sym.Key && (sym.Sub == "" || c.Sub == sym.Sub)
			})
		}
	case SymbolEnum:
		_, found = r.enums[sym.Key]
		delete(r.enums, sym.Key)
		drop = func(rec *URIRecord) int {
			match := func(c Contribution) bool { return c.Key == sym.Key }
			return dropContributions(&rec.Enums, match) + dropContributions(&rec.EnumMembers, match)
		}
	case SymbolEnumMember:
		if e, ok := r.enums[sym.Key]; ok {
			if _, found = e.Members[sym.Sub]; found {
				delete(e.Members, sym.Sub)
				r.pruneEnum(sym.Key, e)
			}
		}
		drop = func(rec *URIRecord) int {
			return dropContributions(&rec.EnumMembers, func(c Contribution) bool {
				return c.Key == sym.Key && c.Sub == sym.Sub
			})
		}
	case SymbolMacro:
		_, found = r.macros[sym.Key]
		delete(r.macros, sym.Key)
		drop = func(rec *URIRecord) int {
			return dropContributions(&rec.Macros, func(c Contribution) bool { return c.Key == sym.Key })
		}
	default:
		return false
	}

	if drop != nil {
		for uri, rec := range r.records {
			if n := drop(rec); n > 0 {
				r.logger.Debug("reference: dropped contributions of deleted symbol", "symbol", sym.String(), "uri", uri, "count", n)
			}
		}
	}
	return found
}
