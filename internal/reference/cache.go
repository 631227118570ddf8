package reference

import (
	"maps"
	"slices"
)

// Cache is a complete, detached copy of a Reference. It is what gets
// persisted between runs.
type Cache struct {
	Version     string                `json:"version,omitempty"`
	PerFileHash map[string]string     `json:"perFileHash"`
	URIRecords  map[string]*URIRecord `json:"uriRecords"`
	Tables      Tables                `json:"tables"`
}

// Tables holds the symbol tables of a Cache.
type Tables struct {
	Objects   map[string]*Object   `json:"objects"`
	Callables map[string]*Callable `json:"callables"`
	Enums     map[string]*Enum     `json:"enums"`
	Macros    map[string]*Macro    `json:"macros"`
	Resources []Resource           `json:"resources"`
}

// Snapshot returns a deep copy of every table and record.
func (r *Reference) Snapshot() *Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Cache{
		PerFileHash: make(map[string]string, len(r.records)),
		URIRecords:  make(map[string]*URIRecord, len(r.records)),
		Tables: Tables{
			Objects:   cloneObjects(r.objects),
			Callables: cloneCallables(r.callables),
			Enums:     cloneEnums(r.enums),
			Macros:    cloneMacros(r.macros),
		},
	}
	for uri, rec := range r.records {
		c.URIRecords[uri] = rec.clone()
		c.PerFileHash[uri] = rec.Hash
	}
	for _, name := range slices.Sorted(maps.Keys(r.resources)) {
		res := *r.resources[name]
		res.Files = slices.Clone(res.Files)
		c.Tables.Resources = append(c.Tables.Resources, res)
	}
	return c
}

// Restore replaces the whole state with a copy of c. The result is not
// trusted until ValidateCache has run. A nil cache empties the Reference.
func (r *Reference) Restore(c *Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	if c == nil {
		return
	}
	r.objects = cloneObjects(c.Tables.Objects)
	r.callables = cloneCallables(c.Tables.Callables)
	r.enums = cloneEnums(c.Tables.Enums)
	r.macros = cloneMacros(c.Tables.Macros)
	for _, res := range c.Tables.Resources {
		cp := res
		cp.Files = slices.Clone(res.Files)
		r.resources[res.Name] = &cp
	}
	for uri, rec := range c.URIRecords {
		if rec == nil {
			continue
		}
		cp := rec.clone()
		if cp.Locals == nil {
			cp.Locals = map[string]*LocalVar{}
		}
		cp.Hash = c.PerFileHash[uri]
		r.records[uri] = cp
	}
}

// ValidationReport counts what ValidateCache repaired.
type ValidationReport struct {
	// StaleSlots were occurrences in files without a record.
	StaleSlots int `json:"staleSlots"`
	// OrphanSlots were occurrences no record pointed at.
	OrphanSlots int `json:"orphanSlots"`
	// DanglingContributions were record entries pointing at nothing.
	DanglingContributions int `json:"danglingContributions"`
	Reelected             int `json:"reelected"`
	Pruned                int `json:"pruned"`
}

// Repaired reports whether anything was changed.
func (v ValidationReport) Repaired() bool {
	return v.StaleSlots+v.OrphanSlots+v.DanglingContributions+v.Reelected+v.Pruned > 0
}

type slotKey struct {
	table    SymbolKind
	key, sub string
	slot     int
}

// ValidateCache makes a restored state trustworthy. Occurrences whose file
// has no record, or that no record points at, are tombstoned; record entries
// that point at nothing are dropped; origins that no longer point at a live
// slot are re-elected; empty entities are deleted.
func (r *Reference) ValidateCache() ValidationReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rep ValidationReport

	// Drop record entries that point at nothing or at another file's slot,
	// then index the rest.
	owned := map[slotKey]bool{}
	for uri, rec := range r.records {
		rep.DanglingContributions += dropContributions(&rec.InstanceVars, func(c Contribution) bool {
			v := r.instanceVar(c.Key, c.Sub)
			return v == nil || !ownedBy(&v.References, c.Slot, uri)
		})
		rep.DanglingContributions += dropContributions(&rec.Callables, func(c Contribution) bool {
			cl, ok := r.callables[c.Key]
			return !ok || !ownedBy(&cl.References, c.Slot, uri)
		})
		rep.DanglingContributions += dropContributions(&rec.Enums, func(c Contribution) bool {
			e, ok := r.enums[c.Key]
			return !ok || !ownedBy(&e.References, c.Slot, uri)
		})
		rep.DanglingContributions += dropContributions(&rec.EnumMembers, func(c Contribution) bool {
			e, ok := r.enums[c.Key]
			if !ok {
				return true
			}
			m, ok := e.Members[c.Sub]
			return !ok || !ownedBy(&m.References, c.Slot, uri)
		})
		rep.DanglingContributions += dropContributions(&rec.Macros, func(c Contribution) bool {
			m, ok := r.macros[c.Key]
			return !ok || !ownedBy(&m.References, c.Slot, uri)
		})

		for _, c := range rec.InstanceVars {
			owned[slotKey{SymbolInstanceVar, c.Key, c.Sub, c.Slot}] = true
		}
		for _, c := range rec.Callables {
			owned[slotKey{SymbolCallable, c.Key, "", c.Slot}] = true
		}
		for _, c := range rec.Enums {
			owned[slotKey{SymbolEnum, c.Key, "", c.Slot}] = true
		}
		for _, c := range rec.EnumMembers {
			owned[slotKey{SymbolEnumMember, c.Key, c.Sub, c.Slot}] = true
		}
		for _, c := range rec.Macros {
			owned[slotKey{SymbolMacro, c.Key, "", c.Slot}] = true
		}
	}

	// sweep tombstones every live slot not backed by an entry in the record
	// of the slot's own URI.
	sweep := func(table SymbolKind, key, sub string, slots func(yield func(int, string) bool), remove func(int) bool) {
		for i, uri := range slots {
			if _, ok := owned[slotKey{table, key, sub, i}]; ok {
				continue
			}
			if !remove(i) {
				continue
			}
			if _, ok := r.records[uri]; ok {
				rep.OrphanSlots++
			} else {
				rep.StaleSlots++
			}
		}
	}
	reelect := func(origin int, alive func(int) bool, fn func() int) {
		if origin != NoOrigin && alive(origin) {
			return
		}
		if fn() != origin {
			rep.Reelected++
		}
	}

	for objName, obj := range r.objects {
		for name, v := range obj.Variables {
			sweep(SymbolInstanceVar, objName, name, uris(&v.References), v.References.Remove)
			reelect(v.Origin.Index, v.References.Alive, func() int { r.reelectVar(v); return v.Origin.Index })
			if v.References.Empty() {
				delete(obj.Variables, name)
				rep.Pruned++
			}
		}
		if len(obj.Variables) == 0 {
			delete(r.objects, objName)
		}
	}

	for name, c := range r.callables {
		sweep(SymbolCallable, name, "", uris(&c.References), c.References.Remove)
		reelect(c.Origin, c.References.Alive, func() int { r.reelectCallable(c); return c.Origin })
		if c.References.Empty() && !c.registered() {
			delete(r.callables, name)
			rep.Pruned++
		}
	}

	for name, e := range r.enums {
		sweep(SymbolEnum, name, "", uris(&e.References), e.References.Remove)
		reelect(e.Origin, e.References.Alive, func() int { e.Origin = firstDeclaration(&e.References); return e.Origin })
		for mname, m := range e.Members {
			sweep(SymbolEnumMember, name, mname, uris(&m.References), m.References.Remove)
			reelect(m.Origin, m.References.Alive, func() int { r.reelectMember(m); return m.Origin })
			if m.References.Empty() {
				delete(e.Members, mname)
				rep.Pruned++
			}
		}
		if e.References.Empty() && len(e.Members) == 0 {
			delete(r.enums, name)
			rep.Pruned++
		}
	}

	for name, m := range r.macros {
		sweep(SymbolMacro, name, "", uris(&m.References), m.References.Remove)
		reelect(m.Origin, m.References.Alive, func() int { r.reelectMacro(m); return m.Origin })
		if m.References.Empty() {
			delete(r.macros, name)
			rep.Pruned++
		}
	}

	if rep.Repaired() {
		r.logger.Info("reference: cache repaired",
			"stale", rep.StaleSlots, "orphan", rep.OrphanSlots,
			"dangling", rep.DanglingContributions, "reelected", rep.Reelected, "pruned", rep.Pruned)
	}
	return rep
}

type located interface {
	uri() string
}

func (o Occurrence) uri() string      { return o.URI }
func (o VarOccurrence) uri() string   { return o.URI }
func (o ValueOccurrence) uri() string { return o.URI }
func (o CallOccurrence) uri() string  { return o.URI }

// ownedBy reports whether slot i of l is live and located in uri.
func ownedBy[T located](l *RefList[T], i int, uri string) bool {
	v, ok := l.At(i)
	return ok && v.uri() == uri
}

// uris iterates the live slots of l with their URI. The slots are collected
// up front so the caller may tombstone while iterating.
func uris[T located](l *RefList[T]) func(yield func(int, string) bool) {
	type entry struct {
		slot int
		uri  string
	}
	var entries []entry
	for i, v := range l.All() {
		entries = append(entries, entry{i, v.uri()})
	}
	return func(yield func(int, string) bool) {
		for _, e := range entries {
			if !yield(e.slot, e.uri) {
				return
			}
		}
	}
}

func cloneObjects(in map[string]*Object) map[string]*Object {
	out := make(map[string]*Object, len(in))
	for name, obj := range in {
		if obj == nil {
			continue
		}
		cp := &Object{Variables: make(map[string]*InstanceVar, len(obj.Variables))}
		for vname, v := range obj.Variables {
			if v == nil {
				continue
			}
			cp.Variables[vname] = &InstanceVar{Origin: v.Origin, References: v.References.clone()}
		}
		out[name] = cp
	}
	return out
}

func cloneCallables(in map[string]*Callable) map[string]*Callable {
	out := make(map[string]*Callable, len(in))
	for name, c := range in {
		if c == nil {
			continue
		}
		cp := *c
		cp.Signature = c.Signature.clone()
		cp.References = c.References.clone()
		if c.Shadowed != nil {
			reg := *c.Shadowed
			reg.Signature = c.Shadowed.Signature.clone()
			cp.Shadowed = &reg
		}
		for _, p := range cp.References.slots {
			if p != nil && p.Signature != nil {
				sig := p.Signature.clone()
				p.Signature = &sig
			}
		}
		out[name] = &cp
	}
	return out
}

func cloneEnums(in map[string]*Enum) map[string]*Enum {
	out := make(map[string]*Enum, len(in))
	for name, e := range in {
		if e == nil {
			continue
		}
		cp := &Enum{Origin: e.Origin, References: e.References.clone(), Members: make(map[string]*EnumMember, len(e.Members))}
		for mname, m := range e.Members {
			if m == nil {
				continue
			}
			cp.Members[mname] = &EnumMember{Origin: m.Origin, Value: m.Value, References: m.References.clone()}
		}
		out[name] = cp
	}
	return out
}

func cloneMacros(in map[string]*Macro) map[string]*Macro {
	out := make(map[string]*Macro, len(in))
	for name, m := range in {
		if m == nil {
			continue
		}
		out[name] = &Macro{Origin: m.Origin, Value: m.Value, References: m.References.clone()}
	}
	return out
}
