// Package fact defines the normalized, range-tagged records a fact adapter
// extracts from one GML file. The reference engine consumes nothing else: it
// never looks at grammar or tokens, only at this closed set of variants.
package fact

import (
	"fmt"

	"github.com/jward/gmlindex/internal/textpos"
)

// Fact is one extracted record. The set of implementations is closed; the
// reference engine dispatches on the concrete type.
type Fact interface {
	// Kind returns the stable wire name of the variant ("macro_decl", ...).
	Kind() string
	// FactRange returns the source range the fact was extracted from.
	FactRange() textpos.Range
	isFact()
}

// Span carries the source range every fact has. Embed it in variants.
type Span struct {
	Range textpos.Range
}

// At returns a Span covering r.
func At(r textpos.Range) Span { return Span{Range: r} }

func (s Span) FactRange() textpos.Range { return s.Range }
func (Span) isFact()                    {}

// InstanceVarAssign is an assignment to an instance variable of Object.
// IsSelf is true when the object assigned to itself (implicit self or
// "self."), false for an explicit other-object target.
type InstanceVarAssign struct {
	Span
	Object string
	Name   string
	IsSelf bool
	Rank   Rank
}

// InstanceVarRef is a read of an instance variable.
type InstanceVarRef struct {
	Span
	Object string
	Name   string
	IsSelf bool
}

// LocalVarDecl declares a file-local variable ("var", "static", parameters).
type LocalVarDecl struct {
	Span
	Name string
}

// LocalVarRef is a use of a previously declared local.
type LocalVarRef struct {
	Span
	Name string
}

// CallReference is a call to (or a value use of) a script or function.
type CallReference struct {
	Span
	Callee string
}

// Param is one declared parameter of a function.
type Param struct {
	Name     string
	Optional bool
}

// FunctionDecl declares a global script function.
type FunctionDecl struct {
	Span
	Name        string
	Params      []Param
	Description string
}

// MacroDecl declares a #macro with its textual replacement.
type MacroDecl struct {
	Span
	Name  string
	Value string
}

// MacroRef is a use of a macro.
type MacroRef struct {
	Span
	Name string
}

// EnumDecl declares an enum.
type EnumDecl struct {
	Span
	Name string
}

// EnumRef is a use of an enum name.
type EnumRef struct {
	Span
	Name string
}

// EnumMemberDecl declares a member of Enum with its literal value.
type EnumMemberDecl struct {
	Span
	Enum   string
	Member string
	Value  string
}

// EnumMemberRef is a use of Enum.Member.
type EnumMemberRef struct {
	Span
	Enum   string
	Member string
}

// FoldRange is a foldable region of the file.
type FoldRange struct {
	Span
	Region bool // #region rather than a brace block
}

// SelfScope marks a range in which implicit self refers to Object, such as
// the body of a with statement.
type SelfScope struct {
	Span
	Object string
}

func (InstanceVarAssign) Kind() string { return "instance_var_assign" }
func (InstanceVarRef) Kind() string    { return "instance_var_ref" }
func (LocalVarDecl) Kind() string      { return "local_var_decl" }
func (LocalVarRef) Kind() string       { return "local_var_ref" }
func (CallReference) Kind() string     { return "call_reference" }
func (FunctionDecl) Kind() string      { return "function_decl" }
func (MacroDecl) Kind() string         { return "macro_decl" }
func (MacroRef) Kind() string          { return "macro_ref" }
func (EnumDecl) Kind() string          { return "enum_decl" }
func (EnumRef) Kind() string           { return "enum_ref" }
func (EnumMemberDecl) Kind() string    { return "enum_member_decl" }
func (EnumMemberRef) Kind() string     { return "enum_member_ref" }
func (FoldRange) Kind() string         { return "fold_range" }
func (SelfScope) Kind() string         { return "self_scope" }

// ParseError is a syntax problem found while extracting facts. Facts found
// before and after the problem are still reported.
type ParseError struct {
	Range   textpos.Range
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Range.Start, e.Message)
}

// Result is the output of one extraction.
type Result struct {
	Facts  []Fact
	Errors []ParseError
}

// Context is the lexical context a file belongs to: which object (if any)
// implicit self refers to and the event rank its assignments carry.
type Context struct {
	Object        string
	Rank          Rank
	IsSelfDefault bool
}
