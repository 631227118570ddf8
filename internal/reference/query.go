package reference

import (
	"maps"
	"slices"
	"strings"

	"github.com/jward/gmlindex/internal/textpos"
)

// Lookups never fail: an unknown key yields the zero value and false, or an
// empty slice. Every returned slice is a fresh copy.

// ObjectExists reports whether name is an object resource or has instance
// variables recorded against it.
func (r *Reference) ObjectExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if res, ok := r.resources[name]; ok && res.Kind == ResourceObject {
		return true
	}
	_, ok := r.objects[name]
	return ok && name != GlobalObject
}

// ScriptExists reports whether name is a script with a known declaration.
func (r *Reference) ScriptExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callables[name]
	return ok && c.Kind == CallableScript
}

// CallableExists reports whether name resolves to a script, builtin or
// extension function. Names that are only called are not callables yet.
func (r *Reference) CallableExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callables[name]
	return ok && c.Kind != CallableUnknown
}

// MacroExists reports whether a declaration of macro name is indexed.
func (r *Reference) MacroExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.macros[name]
	return ok && m.Origin != NoOrigin
}

// EnumExists reports whether a declaration of enum name is indexed.
func (r *Reference) EnumExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[name]
	return ok && e.Origin != NoOrigin
}

// EnumMemberExists reports whether enum.member has an indexed declaration.
func (r *Reference) EnumMemberExists(enum, member string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[enum]
	if !ok {
		return false
	}
	m, ok := e.Members[member]
	return ok && m.Origin != NoOrigin
}

// InstanceVariableExists reports whether object.name has been recorded.
func (r *Reference) InstanceVariableExists(object, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instanceVar(object, name) != nil
}

// ResourceExists reports whether a resource called name is known.
func (r *Reference) ResourceExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resources[name]
	return ok
}

// Resource returns the resource called name.
func (r *Reference) Resource(name string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[name]
	if !ok {
		return Resource{}, false
	}
	cp := *res
	cp.Files = slices.Clone(res.Files)
	return cp, true
}

func (r *Reference) instanceVar(object, name string) *InstanceVar {
	obj, ok := r.objects[object]
	if !ok {
		return nil
	}
	return obj.Variables[name]
}

// OriginLocation returns the declaring occurrence of a symbol. Key and sub
// follow Symbol: object and variable for instance variables, enum and member
// for enum members, URI and name for locals.
func (r *Reference) OriginLocation(kind SymbolKind, key, sub string) (Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.origin(Symbol{Kind: kind, Key: key, Sub: sub})
}

func (r *Reference) origin(sym Symbol) (Location, bool) {
	switch sym.Kind {
	case SymbolCallable:
		if c, ok := r.callables[sym.Key]; ok {
			if occ, ok := c.References.At(c.Origin); ok {
				return occ.Location, true
			}
		}
	case SymbolInstanceVar:
		if v := r.instanceVar(sym.Key, sym.Sub); v != nil {
			if occ, ok := v.References.At(v.Origin.Index); ok {
				return occ.Location, true
			}
		}
	case SymbolEnum:
		if e, ok := r.enums[sym.Key]; ok {
			if occ, ok := e.References.At(e.Origin); ok {
				return occ.Location, true
			}
		}
	case SymbolEnumMember:
		if e, ok := r.enums[sym.Key]; ok {
			if m, ok := e.Members[sym.Sub]; ok {
				if occ, ok := m.References.At(m.Origin); ok {
					return occ.Location, true
				}
			}
		}
	case SymbolMacro:
		if m, ok := r.macros[sym.Key]; ok {
			if occ, ok := m.References.At(m.Origin); ok {
				return occ.Location, true
			}
		}
	case SymbolLocal:
		if rec, ok := r.records[sym.Key]; ok {
			if lv, ok := rec.Locals[sym.Sub]; ok {
				if occ, ok := lv.References.At(lv.Origin); ok {
					return occ.Location, true
				}
			}
		}
	}
	return Location{}, false
}

// AllReferences returns every live occurrence of a symbol in slot order,
// declarations included.
func (r *Reference) AllReferences(kind SymbolKind, key, sub string) []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.references(Symbol{Kind: kind, Key: key, Sub: sub})
}

func (r *Reference) references(sym Symbol) []Location {
	var out []Location
	switch sym.Kind {
	case SymbolCallable:
		if c, ok := r.callables[sym.Key]; ok {
			for _, occ := range c.References.All() {
				out = append(out, occ.Location)
			}
		}
	case SymbolInstanceVar:
		if v := r.instanceVar(sym.Key, sym.Sub); v != nil {
			for _, occ := range v.References.All() {
				out = append(out, occ.Location)
			}
		}
	case SymbolEnum:
		if e, ok := r.enums[sym.Key]; ok {
			for _, occ := range e.References.All() {
				out = append(out, occ.Location)
			}
		}
	case SymbolEnumMember:
		if e, ok := r.enums[sym.Key]; ok {
			if m, ok := e.Members[sym.Sub]; ok {
				for _, occ := range m.References.All() {
					out = append(out, occ.Location)
				}
			}
		}
	case SymbolMacro:
		if m, ok := r.macros[sym.Key]; ok {
			for _, occ := range m.References.All() {
				out = append(out, occ.Location)
			}
		}
	case SymbolLocal:
		if rec, ok := r.records[sym.Key]; ok {
			if lv, ok := rec.Locals[sym.Sub]; ok {
				for _, occ := range lv.References.All() {
					out = append(out, occ.Location)
				}
			}
		}
	}
	return out
}

// ListObjects returns every known object name, sorted.
func (r *Reference) ListObjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := map[string]bool{}
	for name, res := range r.resources {
		if res.Kind == ResourceObject {
			set[name] = true
		}
	}
	for name := range r.objects {
		if name != GlobalObject {
			set[name] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// ListScriptsAndFunctions returns the names of every script, builtin and
// extension function, sorted.
func (r *Reference) ListScriptsAndFunctions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, c := range r.callables {
		if c.Kind != CallableUnknown {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ListEnums returns the names of declared enums, sorted.
func (r *Reference) ListEnums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, e := range r.enums {
		if e.Origin != NoOrigin {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ListEnumMembers returns the declared members of enum, sorted.
func (r *Reference) ListEnumMembers(enum string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[enum]
	if !ok {
		return nil
	}
	var out []string
	for name, m := range e.Members {
		if m.Origin != NoOrigin {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ListMacros returns the names of declared macros, sorted.
func (r *Reference) ListMacros() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, m := range r.macros {
		if m.Origin != NoOrigin {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ListResourcesOfType returns the names of resources of kind, sorted.
func (r *Reference) ListResourcesOfType(kind ResourceKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, res := range r.resources {
		if res.Kind == kind {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ListInstanceVariables returns the variable names recorded for object.
func (r *Reference) ListInstanceVariables(object string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[object]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(obj.Variables))
}

// CallableInfo describes one entry of the callable table.
type CallableInfo struct {
	Name      string       `json:"name"`
	Kind      CallableKind `json:"kind"`
	Signature Signature    `json:"signature"`
	Extension string       `json:"extension,omitempty"`
	Calls     int          `json:"calls"`
}

// Callable returns the callable called name, headless ones included.
func (r *Reference) Callable(name string) (CallableInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callables[name]
	if !ok {
		return CallableInfo{}, false
	}
	info := CallableInfo{Name: name, Kind: c.Kind, Signature: c.Signature.clone(), Extension: c.Extension}
	for _, occ := range c.References.All() {
		if !occ.Declaration {
			info.Calls++
		}
	}
	return info, true
}

// MacroValue returns the replacement text of a declared macro.
func (r *Reference) MacroValue(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.macros[name]
	if !ok || m.Origin == NoOrigin {
		return "", false
	}
	return m.Value, true
}

// EnumMemberValue returns the literal value of a declared enum member.
func (r *Reference) EnumMemberValue(enum, member string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enums[enum]
	if !ok {
		return "", false
	}
	m, ok := e.Members[member]
	if !ok || m.Origin == NoOrigin {
		return "", false
	}
	return m.Value, true
}

// Locals returns the names of the locals declared in uri, sorted.
func (r *Reference) Locals(uri string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[uri]
	if !ok {
		return nil
	}
	var out []string
	for name, lv := range rec.Locals {
		if lv.Origin != NoOrigin {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// FoldRanges returns the fold ranges recorded for uri.
func (r *Reference) FoldRanges(uri string) []FoldRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[uri]; ok {
		return slices.Clone(rec.FoldRanges)
	}
	return nil
}

// Diagnostics returns the parse problems recorded for uri.
func (r *Reference) Diagnostics(uri string) []Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[uri]; ok {
		return slices.Clone(rec.Diagnostics)
	}
	return nil
}

// URIs returns every URI with a record, sorted.
func (r *Reference) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.records))
}

// GlobalName is a name bare identifiers can resolve to, tagged with what it
// resolves to: "macro", "enum", "callable", "object" or "resource".
// GlobalName is a name bare identifiers may resolve to, tagged with what
// declares it.
type GlobalName struct {
	Kind string
	Name string
}

// GlobalNames returns every name a file's bare identifiers are classified
// against: declared macros and enums, declared or registered callables,
// objects and resources.
func (r *Reference) GlobalNames() map[GlobalName]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[GlobalName]bool, len(r.macros)+len(r.enums)+len(r.callables)+len(r.objects)+len(r.resources))
	for name, m := range r.macros {
		if m.Origin != NoOrigin {
			out[GlobalName{"macro", name}] = true
		}
	}
	for name, e := range r.enums {
		if e.Origin != NoOrigin {
			out[GlobalName{"enum", name}] = true
		}
	}
	for name, c := range r.callables {
		if c.Kind != CallableUnknown {
			out[GlobalName{"callable", name}] = true
		}
	}
	for name := range r.objects {
		if name != GlobalObject {
			out[GlobalName{"object", name}] = true
		}
	}
	for name := range r.resources {
		out[GlobalName{"resource", name}] = true
	}
	return out
}

// URIsMentioning returns the files, sorted, whose records hold an
// occurrence keyed or named by one of names.
func (r *Reference) URIsMentioning(names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for uri, rec := range r.records {
		if rec.mentions(want) {
			out = append(out, uri)
		}
	}
	slices.Sort(out)
	return out
}

// SelfObjectAt returns the object implicit self refers to at pos: the
// innermost self scope (a with block) containing pos, else the object the
// file itself belongs to.
func (r *Reference) SelfObjectAt(uri string, pos textpos.Position) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[uri]; ok {
		var best *SelfScope
		for i := range rec.SelfScopes {
			s := &rec.SelfScopes[i]
			if !s.Range.Contains(pos) {
				continue
			}
			if best == nil || best.Range.Encloses(s.Range) {
				best = s
			}
		}
		if best != nil {
			return best.Object, true
		}
	}
	if ctx, ok := r.context(uri); ok && ctx.Object != "" {
		return ctx.Object, true
	}
	return "", false
}

// SymbolAt returns the symbol whose occurrence in uri covers pos. When
// several occurrences overlap, the narrowest wins.
func (r *Reference) SymbolAt(uri string, pos textpos.Position) (Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[uri]
	if !ok {
		return Symbol{}, false
	}

	var (
		best  Symbol
		width = -1
	)
	consider := func(sym Symbol, loc Location) {
		if !loc.Range.Contains(pos) {
			return
		}
		w := spanWidth(loc.Range)
		if width < 0 || w < width {
			best, width = sym, w
		}
	}

	for _, c := range rec.InstanceVars {
		if v := r.instanceVar(c.Key, c.Sub); v != nil {
			if occ, ok := v.References.At(c.Slot); ok {
				consider(Symbol{Kind: SymbolInstanceVar, Key: c.Key, Sub: c.Sub}, occ.Location)
			}
		}
	}
	for _, c := range rec.Callables {
		if cl, ok := r.callables[c.Key]; ok {
			if occ, ok := cl.References.At(c.Slot); ok {
				consider(Symbol{Kind: SymbolCallable, Key: c.Key}, occ.Location)
			}
		}
	}
	for _, c := range rec.Enums {
		if e, ok := r.enums[c.Key]; ok {
			if occ, ok := e.References.At(c.Slot); ok {
				consider(Symbol{Kind: SymbolEnum, Key: c.Key}, occ.Location)
			}
		}
	}
	for _, c := range rec.EnumMembers {
		if e, ok := r.enums[c.Key]; ok {
			if m, ok := e.Members[c.Sub]; ok {
				if occ, ok := m.References.At(c.Slot); ok {
					consider(Symbol{Kind: SymbolEnumMember, Key: c.Key, Sub: c.Sub}, occ.Location)
				}
			}
		}
	}
	for _, c := range rec.Macros {
		if m, ok := r.macros[c.Key]; ok {
			if occ, ok := m.References.At(c.Slot); ok {
				consider(Symbol{Kind: SymbolMacro, Key: c.Key}, occ.Location)
			}
		}
	}
	for name, lv := range rec.Locals {
		for _, occ := range lv.References.All() {
			consider(Symbol{Kind: SymbolLocal, Key: uri, Sub: name}, occ.Location)
		}
	}
	return best, width >= 0
}

// spanWidth orders ranges by size for SymbolAt; multi-line ranges are always
// wider than single-line ones.
func spanWidth(rg textpos.Range) int {
	return (rg.End.Line-rg.Start.Line)*1_000_000 + rg.End.Character - rg.Start.Character
}

// Stats summarises table sizes.
type Stats struct {
	Files        int `json:"files"`
	Objects      int `json:"objects"`
	InstanceVars int `json:"instanceVars"`
	Scripts      int `json:"scripts"`
	Functions    int `json:"functions"`
	Extensions   int `json:"extensionFunctions"`
	Headless     int `json:"headlessCallables"`
	Enums        int `json:"enums"`
	EnumMembers  int `json:"enumMembers"`
	Macros       int `json:"macros"`
	Resources    int `json:"resources"`
	Diagnostics  int `json:"diagnostics"`
}

// Stats returns the current table sizes.
func (r *Reference) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		Files:     len(r.records),
		Objects:   len(r.objects),
		Enums:     len(r.enums),
		Macros:    len(r.macros),
		Resources: len(r.resources),
	}
	for _, obj := range r.objects {
		s.InstanceVars += len(obj.Variables)
	}
	for _, c := range r.callables {
		switch c.Kind {
		case CallableScript:
			s.Scripts++
		case CallableFunction:
			s.Functions++
		case CallableExtension:
			s.Extensions++
		default:
			s.Headless++
		}
	}
	for _, e := range r.enums {
		s.EnumMembers += len(e.Members)
	}
	for _, rec := range r.records {
		s.Diagnostics += len(rec.Diagnostics)
	}
	return s
}

// CompletionCandidates returns callables, macros, enums and objects whose
// name starts with prefix (case-insensitive), sorted and deduplicated.
func (r *Reference) CompletionCandidates(prefix string) []string {
	p := strings.ToLower(prefix)
	set := map[string]bool{}
	add := func(names []string) {
		for _, n := range names {
			if strings.HasPrefix(strings.ToLower(n), p) {
				set[n] = true
			}
		}
	}
	add(r.ListScriptsAndFunctions())
	add(r.ListMacros())
	add(r.ListEnums())
	add(r.ListObjects())
	return slices.Sorted(maps.Keys(set))
}
