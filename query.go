package gmlindex

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/jward/gmlindex/internal/gml"
	"github.com/jward/gmlindex/internal/reference"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for Suggest.
const suggestThreshold = 0.85

// maxSuggestions caps how many names Suggest returns.
const maxSuggestions = 5

// QueryBuilder provides an editor-facing query API over the reference
// tables. It never mutates them.
type QueryBuilder struct {
	ref    *reference.Reference
	layout *gml.Layout
}

// SymbolAt returns the symbol under pos in uri.
func (q *QueryBuilder) SymbolAt(uri string, pos Position) (Symbol, bool) {
	return q.ref.SymbolAt(uri, pos)
}

// DefinitionAt finds the declaring occurrence of the symbol under pos.
// Builtin and extension functions have no location and report false.
func (q *QueryBuilder) DefinitionAt(uri string, pos Position) (Location, bool) {
	sym, ok := q.ref.SymbolAt(uri, pos)
	if !ok {
		return Location{}, false
	}
	return q.ref.OriginLocation(sym.Kind, sym.Key, sym.Sub)
}

// ReferencesAt returns every occurrence of the symbol under pos, the
// declaration included.
func (q *QueryBuilder) ReferencesAt(uri string, pos Position) []Location {
	sym, ok := q.ref.SymbolAt(uri, pos)
	if !ok {
		return nil
	}
	return q.ref.AllReferences(sym.Kind, sym.Key, sym.Sub)
}

// Hover returns the signature of callable name, followed by its description
// when it has one.
func (q *QueryBuilder) Hover(name string) (string, bool) {
	info, ok := q.ref.Callable(name)
	if !ok || info.Kind == reference.CallableUnknown {
		return "", false
	}
	return describeCallable(info), true
}

// HoverAt describes the symbol under pos.
func (q *QueryBuilder) HoverAt(uri string, pos Position) (string, bool) {
	sym, ok := q.ref.SymbolAt(uri, pos)
	if !ok {
		return "", false
	}
	switch sym.Kind {
	case reference.SymbolCallable:
		return q.Hover(sym.Key)
	case reference.SymbolMacro:
		v, ok := q.ref.MacroValue(sym.Key)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("#macro %s %s", sym.Key, v), true
	case reference.SymbolEnum:
		if !q.ref.EnumExists(sym.Key) {
			return "", false
		}
		return fmt.Sprintf("enum %s { %s }", sym.Key, strings.Join(q.ref.ListEnumMembers(sym.Key), ", ")), true
	case reference.SymbolEnumMember:
		v, ok := q.ref.EnumMemberValue(sym.Key, sym.Sub)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s.%s = %s", sym.Key, sym.Sub, v), true
	case reference.SymbolInstanceVar:
		loc, ok := q.ref.OriginLocation(sym.Kind, sym.Key, sym.Sub)
		if !ok {
			return fmt.Sprintf("%s.%s (never assigned)", sym.Key, sym.Sub), true
		}
		return fmt.Sprintf("%s.%s (declared at %s)", sym.Key, sym.Sub, loc), true
	case reference.SymbolLocal:
		return "var " + sym.Sub, true
	}
	return "", false
}

func describeCallable(info CallableInfo) string {
	var b strings.Builder
	b.WriteString(info.Signature.String())
	if info.Signature.ReturnType != "" {
		b.WriteString(" -> " + info.Signature.ReturnType)
	}
	switch info.Kind {
	case reference.CallableExtension:
		fmt.Fprintf(&b, "\n(extension %s)", info.Extension)
	case reference.CallableFunction:
		b.WriteString("\n(builtin)")
	}
	if info.Signature.Description != "" {
		b.WriteString("\n\n" + info.Signature.Description)
	}
	return b.String()
}

// Completion lists callables, macros, enums and objects starting with prefix
// (case-insensitive). Inside uri, the file's locals are offered first.
func (q *QueryBuilder) Completion(uri, prefix string) []string {
	p := strings.ToLower(prefix)
	var out []string
	seen := map[string]bool{}
	for _, name := range q.ref.Locals(uri) {
		if strings.HasPrefix(strings.ToLower(name), p) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range q.ref.CompletionCandidates(prefix) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Suggest returns known names similar to name, best match first, for "did
// you mean" hints on unknown callables, macros and enums.
func (q *QueryBuilder) Suggest(name string) []string {
	if name == "" {
		return nil
	}
	type scored struct {
		name  string
		score float32
	}
	var hits []scored
	lower := strings.ToLower(name)
	for _, cand := range q.candidates() {
		if cand == name {
			continue
		}
		score, err := edlib.StringsSimilarity(lower, strings.ToLower(cand), edlib.JaroWinkler)
		if err != nil || score < suggestThreshold {
			continue
		}
		hits = append(hits, scored{cand, score})
	}
	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	out := make([]string, 0, min(len(hits), maxSuggestions))
	for _, h := range hits[:min(len(hits), maxSuggestions)] {
		out = append(out, h.name)
	}
	return out
}

// candidates are every declared global name, headless callables excluded.
func (q *QueryBuilder) candidates() []string {
	names := q.ref.ListScriptsAndFunctions()
	names = append(names, q.ref.ListMacros()...)
	names = append(names, q.ref.ListEnums()...)
	names = append(names, q.ref.ListObjects()...)
	slices.Sort(names)
	return slices.Compact(names)
}

// Diagnostics returns the parse problems recorded for uri.
func (q *QueryBuilder) Diagnostics(uri string) []Diagnostic {
	return q.ref.Diagnostics(uri)
}

// FoldRanges returns the foldable regions of uri.
func (q *QueryBuilder) FoldRanges(uri string) []FoldRange {
	return q.ref.FoldRanges(uri)
}

// SelfObjectAt returns the object implicit self refers to at pos.
func (q *QueryBuilder) SelfObjectAt(uri string, pos Position) (string, bool) {
	return q.ref.SelfObjectAt(uri, pos)
}

// Resources lists the names of resources of the given kind, sorted.
func (q *QueryBuilder) Resources(kind ResourceKind) []string {
	return q.ref.ListResourcesOfType(kind)
}

// ResourceOf names the resource a file belongs to.
func (q *QueryBuilder) ResourceOf(uri string) (string, ResourceKind, bool) {
	return q.layout.ResourceOf(uri)
}
