package reference

// Each table has one record helper, which pushes a slot and appends the
// matching contribution to the file's record, and one retract helper, which
// tombstones the slot named by a contribution. Nothing else touches a
// reference list.

// --- instance variables ---

func (r *Reference) recordVar(rec *URIRecord, object, name string, occ VarOccurrence) {
	obj, ok := r.objects[object]
	if !ok {
		obj = &Object{Variables: map[string]*InstanceVar{}}
		r.objects[object] = obj
	}
	v, ok := obj.Variables[name]
	if !ok {
		v = &InstanceVar{Origin: VarOrigin{Index: NoOrigin}}
		obj.Variables[name] = v
	}

	slot := v.References.Push(occ)
	rec.InstanceVars = append(rec.InstanceVars, Contribution{Key: object, Sub: name, Slot: slot})

	if !occ.Assignment {
		return
	}
	cand := VarOrigin{Index: slot, IsSelf: occ.IsSelf, Rank: occ.Rank}
	if v.Origin.Index == NoOrigin || displaces(cand, v.Origin) {
		v.Origin = cand
	}
}

// displaces reports whether cand should replace cur as origin. A self
// assignment beats a non-self one; with equal self-ness the strictly lower
// rank wins. Ties keep cur.
func displaces(cand, cur VarOrigin) bool {
	if !cur.IsSelf && cand.IsSelf {
		return true
	}
	return cand.IsSelf == cur.IsSelf && cand.Rank < cur.Rank
}

func (r *Reference) retractVar(uri string, c Contribution) {
	obj, ok := r.objects[c.Key]
	if !ok {
		r.dangling(uri, "instance_var", c)
		return
	}
	v, ok := obj.Variables[c.Sub]
	if !ok || !v.References.Remove(c.Slot) {
		r.dangling(uri, "instance_var", c)
		return
	}
	if v.Origin.Index == c.Slot {
		r.reelectVar(v)
	}
	r.pruneVar(c.Key, c.Sub)
}

// reelectVar picks a new origin among the surviving assignments. Ranks are
// re-derived from each candidate's file context when a resolver is set.
// Equal candidates in one file resolve to the earliest position; across
// files the lowest slot wins.
func (r *Reference) reelectVar(v *InstanceVar) {
	v.Origin = VarOrigin{Index: NoOrigin}
	var bestLoc Location
	for i, occ := range v.References.All() {
		if !occ.Assignment {
			continue
		}
		rank := occ.Rank
		if ctx, ok := r.context(occ.URI); ok {
			rank = ctx.Rank
		}
		cand := VarOrigin{Index: i, IsSelf: occ.IsSelf, Rank: rank}
		switch {
		case v.Origin.Index == NoOrigin, displaces(cand, v.Origin):
		case cand.IsSelf == v.Origin.IsSelf && cand.Rank == v.Origin.Rank &&
			occ.URI == bestLoc.URI && occ.Range.Start.Before(bestLoc.Range.Start):
		default:
			continue
		}
		v.Origin = cand
		bestLoc = occ.Location
	}
}

func (r *Reference) pruneVar(object, name string) {
	obj, ok := r.objects[object]
	if !ok {
		return
	}
	if v, ok := obj.Variables[name]; ok && v.References.Empty() {
		delete(obj.Variables, name)
	}
	if len(obj.Variables) == 0 {
		delete(r.objects, object)
	}
}

// --- callables ---

func (r *Reference) recordCallable(rec *URIRecord, name string, occ CallOccurrence) {
	c, ok := r.callables[name]
	if !ok {
		c = &Callable{Kind: CallableUnknown, Signature: Signature{Name: name}, Origin: NoOrigin}
		r.callables[name] = c
	}

	slot := c.References.Push(occ)
	rec.Callables = append(rec.Callables, Contribution{Key: name, Slot: slot})

	if !occ.Declaration || c.Origin != NoOrigin {
		return
	}
	c.Origin = slot
	if c.Kind == CallableUnknown {
		c.Kind = CallableScript
	}
	if c.Kind == CallableScript && occ.Signature != nil {
		c.Signature = occ.Signature.clone()
	}
}

func (r *Reference) retractCallable(uri string, ct Contribution) {
	c, ok := r.callables[ct.Key]
	if !ok || !c.References.Remove(ct.Slot) {
		r.dangling(uri, "callable", ct)
		return
	}
	if c.Origin == ct.Slot {
		r.reelectCallable(c)
	}
	r.pruneCallable(ct.Key)
}

func (r *Reference) reelectCallable(c *Callable) {
	c.Origin = firstDeclaration(&c.References)
	if c.registered() {
		return
	}
	if c.Origin == NoOrigin && c.Shadowed != nil {
		c.Kind = c.Shadowed.Kind
		c.Extension = c.Shadowed.Extension
		c.Signature = c.Shadowed.Signature
		c.Shadowed = nil
		return
	}
	if c.Origin == NoOrigin {
		c.Kind = CallableUnknown
		c.Signature = Signature{Name: c.Signature.Name}
		return
	}
	c.Kind = CallableScript
	if occ, ok := c.References.At(c.Origin); ok && occ.Signature != nil {
		c.Signature = occ.Signature.clone()
	}
}

// pruneCallable deletes an empty callable. Builtins and extension functions
// exist without occurrences and are never pruned.
func (r *Reference) pruneCallable(name string) {
	if c, ok := r.callables[name]; ok && c.References.Empty() && !c.registered() {
		delete(r.callables, name)
	}
}

// --- macros ---

func (r *Reference) recordMacro(rec *URIRecord, name string, occ ValueOccurrence) {
	m, ok := r.macros[name]
	if !ok {
		m = &Macro{Origin: NoOrigin}
		r.macros[name] = m
	}

	slot := m.References.Push(occ)
	rec.Macros = append(rec.Macros, Contribution{Key: name, Slot: slot})

	if occ.Declaration && m.Origin == NoOrigin {
		m.Origin = slot
		m.Value = occ.Value
	}
}

func (r *Reference) retractMacro(uri string, c Contribution) {
	m, ok := r.macros[c.Key]
	if !ok || !m.References.Remove(c.Slot) {
		r.dangling(uri, "macro", c)
		return
	}
	if m.Origin == c.Slot {
		r.reelectMacro(m)
	}
	if m.References.Empty() {
		delete(r.macros, c.Key)
	}
}

func (r *Reference) reelectMacro(m *Macro) {
	m.Origin = firstDeclaration(&m.References)
	m.Value = ""
	if occ, ok := m.References.At(m.Origin); ok {
		m.Value = occ.Value
	}
}

// --- enums ---

func (r *Reference) enum(name string) *Enum {
	e, ok := r.enums[name]
	if !ok {
		e = &Enum{Origin: NoOrigin, Members: map[string]*EnumMember{}}
		r.enums[name] = e
	}
	return e
}

func (r *Reference) recordEnum(rec *URIRecord, name string, occ Occurrence) {
	e := r.enum(name)
	slot := e.References.Push(occ)
	rec.Enums = append(rec.Enums, Contribution{Key: name, Slot: slot})

	if occ.Declaration && e.Origin == NoOrigin {
		e.Origin = slot
	}
}

func (r *Reference) retractEnum(uri string, c Contribution) {
	e, ok := r.enums[c.Key]
	if !ok || !e.References.Remove(c.Slot) {
		r.dangling(uri, "enum", c)
		return
	}
	if e.Origin == c.Slot {
		e.Origin = firstDeclaration(&e.References)
	}
	r.pruneEnum(c.Key, e)
}

func (r *Reference) recordMember(rec *URIRecord, enum, member string, occ ValueOccurrence) {
	e := r.enum(enum)
	m, ok := e.Members[member]
	if !ok {
		m = &EnumMember{Origin: NoOrigin}
		e.Members[member] = m
	}

	slot := m.References.Push(occ)
	rec.EnumMembers = append(rec.EnumMembers, Contribution{Key: enum, Sub: member, Slot: slot})

	if occ.Declaration && m.Origin == NoOrigin {
		m.Origin = slot
		m.Value = occ.Value
	}
}

func (r *Reference) retractMember(uri string, c Contribution) {
	e, ok := r.enums[c.Key]
	if !ok {
		r.dangling(uri, "enum_member", c)
		return
	}
	m, ok := e.Members[c.Sub]
	if !ok || !m.References.Remove(c.Slot) {
		r.dangling(uri, "enum_member", c)
		return
	}
	if m.Origin == c.Slot {
		r.reelectMember(m)
	}
	if m.References.Empty() {
		delete(e.Members, c.Sub)
	}
	r.pruneEnum(c.Key, e)
}

func (r *Reference) reelectMember(m *EnumMember) {
	m.Origin = firstDeclaration(&m.References)
	m.Value = ""
	if occ, ok := m.References.At(m.Origin); ok {
		m.Value = occ.Value
	}
}

// pruneEnum deletes an enum once it has no occurrences and no members.
func (r *Reference) pruneEnum(name string, e *Enum) {
	if e.References.Empty() && len(e.Members) == 0 {
		delete(r.enums, name)
	}
}

// --- locals ---

func recordLocal(rec *URIRecord, name string, occ Occurrence) {
	lv, ok := rec.Locals[name]
	if !ok {
		lv = &LocalVar{Origin: NoOrigin}
		rec.Locals[name] = lv
	}
	slot := lv.References.Push(occ)
	if occ.Declaration && lv.Origin == NoOrigin {
		lv.Origin = slot
	}
}

// dangling logs a record entry whose slot no longer exists. It indicates a
// bug; the entry is skipped so other files are unaffected.
func (r *Reference) dangling(uri, table string, c Contribution) {
	r.logger.Error("reference: dangling contribution", "uri", uri, "table", table, "key", c.Key, "sub", c.Sub, "slot", c.Slot)
}
