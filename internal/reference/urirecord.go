package reference

import (
	"slices"

	"github.com/jward/gmlindex/internal/textpos"
)

// Contribution points at one reference-list slot a file populated. Key is the
// table key (object name for instance variables, enum name for members); Sub
// is the variable or member name where the table is two-level.
type Contribution struct {
	Key  string `json:"key"`
	Sub  string `json:"sub,omitempty"`
	Slot int    `json:"slot"`
}

// FoldRange is a foldable region recorded for a file.
type FoldRange struct {
	Range  textpos.Range `json:"range"`
	Region bool          `json:"region,omitempty"`
}

// SelfScope maps a range of a file to the object implicit self refers to.
type SelfScope struct {
	Range  textpos.Range `json:"range"`
	Object string        `json:"object"`
}

// Diagnostic is a parse problem reported for a file.
type Diagnostic struct {
	Range   textpos.Range `json:"range"`
	Message string        `json:"message"`
}

// URIRecord is the reverse index of one file: every table slot it
// contributed, plus file-local structures that never cross files.
//
// A record is rebuilt from scratch on every re-index, never merged.
type URIRecord struct {
	Hash string `json:"-"`

	InstanceVars []Contribution `json:"instanceVars,omitempty"`
	Callables    []Contribution `json:"callables,omitempty"`
	Enums        []Contribution `json:"enums,omitempty"`
	EnumMembers  []Contribution `json:"enumMembers,omitempty"`
	Macros       []Contribution `json:"macros,omitempty"`

	Locals      map[string]*LocalVar `json:"locals,omitempty"`
	FoldRanges  []FoldRange          `json:"foldRanges,omitempty"`
	SelfScopes  []SelfScope          `json:"selfScopes,omitempty"`
	Diagnostics []Diagnostic         `json:"diagnostics,omitempty"`
}

func newURIRecord(hash string) *URIRecord {
	return &URIRecord{Hash: hash, Locals: map[string]*LocalVar{}}
}

// contributions returns the number of table slots the record points at.
func (r *URIRecord) contributions() int {
	return len(r.InstanceVars) + len(r.Callables) + len(r.Enums) + len(r.EnumMembers) + len(r.Macros)
}

// mentions reports whether any contribution is keyed or named by a name in
// names. The object key of an instance variable is where the code runs, not
// a name it uses, so only the variable counts.
func (r *URIRecord) mentions(names map[string]bool) bool {
	for _, c := range r.InstanceVars {
		if names[c.Sub] {
			return true
		}
	}
	for _, list := range [][]Contribution{r.Callables, r.Enums, r.EnumMembers, r.Macros} {
		for _, c := range list {
			if names[c.Key] || (c.Sub != "" && names[c.Sub]) {
				return true
			}
		}
	}
	return false
}

func (r *URIRecord) clone() *URIRecord {
	c := &URIRecord{
		Hash:         r.Hash,
		InstanceVars: slices.Clone(r.InstanceVars),
		Callables:    slices.Clone(r.Callables),
		Enums:        slices.Clone(r.Enums),
		EnumMembers:  slices.Clone(r.EnumMembers),
		Macros:       slices.Clone(r.Macros),
		Locals:       make(map[string]*LocalVar, len(r.Locals)),
		FoldRanges:   slices.Clone(r.FoldRanges),
		SelfScopes:   slices.Clone(r.SelfScopes),
		Diagnostics:  slices.Clone(r.Diagnostics),
	}
	for name, lv := range r.Locals {
		c.Locals[name] = &LocalVar{Origin: lv.Origin, References: lv.References.clone()}
	}
	return c
}

// dropContributions removes every contribution for which drop returns true
// and reports how many were removed.
func dropContributions(list *[]Contribution, drop func(Contribution) bool) int {
	before := len(*list)
	*list = slices.DeleteFunc(*list, drop)
	return before - len(*list)
}
