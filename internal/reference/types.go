package reference

import (
	"fmt"
	"strings"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/textpos"
)

// NoOrigin marks an entity with no known declaring occurrence.
const NoOrigin = -1

// Location is a range inside one file.
type Location struct {
	URI   string        `json:"uri"`
	Range textpos.Range `json:"range"`
}

func (l Location) String() string { return l.URI + ":" + l.Range.Start.String() }

// Occurrence is a reference-list slot for callables, enums and locals.
type Occurrence struct {
	Location
	Declaration bool `json:"declaration,omitempty"`
}

// VarOccurrence is a reference-list slot of an instance variable.
type VarOccurrence struct {
	Location
	IsSelf     bool      `json:"isSelf"`
	Rank       fact.Rank `json:"rank"`
	Assignment bool      `json:"assignment,omitempty"`
}

// ValueOccurrence is a slot of a macro or enum member; declarations carry
// the literal value they declare.
type ValueOccurrence struct {
	Location
	Declaration bool   `json:"declaration,omitempty"`
	Value       string `json:"value,omitempty"`
}

// CallOccurrence is a slot of a callable; declarations carry the signature
// they declare.
type CallOccurrence struct {
	Location
	Declaration bool       `json:"declaration,omitempty"`
	Signature   *Signature `json:"signature,omitempty"`
}

func (o Occurrence) declares() bool      { return o.Declaration }
func (o ValueOccurrence) declares() bool { return o.Declaration }
func (o CallOccurrence) declares() bool  { return o.Declaration }

type declarer interface {
	declares() bool
}

// firstDeclaration returns the lowest live slot that is a declaration.
func firstDeclaration[T declarer](l *RefList[T]) int {
	for i, v := range l.All() {
		if v.declares() {
			return i
		}
	}
	return NoOrigin
}

// VarOrigin records which slot declares an instance variable, plus the
// election metadata of that slot.
type VarOrigin struct {
	Index  int       `json:"indexOfOrigin"`
	IsSelf bool      `json:"isSelf"`
	Rank   fact.Rank `json:"rank"`
}

// InstanceVar is one (object, variable) entity.
type InstanceVar struct {
	Origin     VarOrigin               `json:"origin"`
	References RefList[VarOccurrence] `json:"referenceLocations"`
}

// Object groups the instance variables recorded against one object name.
type Object struct {
	Variables map[string]*InstanceVar `json:"variables"`
}

// CallableKind tells which kind of definition a callable name resolves to.
type CallableKind int

const (
	// CallableUnknown is a headless callable: called but never declared.
	CallableUnknown CallableKind = iota
	CallableScript
	CallableFunction
	CallableExtension
)

var callableKindNames = [...]string{"unknown", "script", "function", "extension"}

func (k CallableKind) String() string {
	if k < 0 || int(k) >= len(callableKindNames) {
		return fmt.Sprintf("callable(%d)", int(k))
	}
	return callableKindNames[k]
}

func (k CallableKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CallableKind) UnmarshalText(b []byte) error {
	for i, name := range callableKindNames {
		if name == string(b) {
			*k = CallableKind(i)
			return nil
		}
	}
	return fmt.Errorf("reference: unknown callable kind %q", b)
}

// Parameter is one parameter of a Signature.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Variadic is the MaxArgs value of a callable that takes any number of
// trailing arguments.
const Variadic = -1

// Signature describes how a callable is invoked.
type Signature struct {
	Name        string      `json:"name" yaml:"name"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	MinArgs     int         `json:"minArgs" yaml:"min_args"`
	MaxArgs     int         `json:"maxArgs" yaml:"max_args"`
	ReturnType  string      `json:"returnType,omitempty" yaml:"return_type,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	DocLink     string      `json:"docLink,omitempty" yaml:"doc_link,omitempty"`
}

// String renders the signature as "name(a, [b])", with "..." for variadic
// callables.
func (s Signature) String() string {
	parts := make([]string, 0, len(s.Parameters)+1)
	for _, p := range s.Parameters {
		if p.Optional {
			parts = append(parts, "["+p.Name+"]")
		} else {
			parts = append(parts, p.Name)
		}
	}
	if s.MaxArgs == Variadic {
		parts = append(parts, "...")
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Accepts reports whether n arguments satisfy the signature's arity.
func (s Signature) Accepts(n int) bool {
	if n < s.MinArgs {
		return false
	}
	return s.MaxArgs == Variadic || n <= s.MaxArgs
}

func (s Signature) clone() Signature {
	c := s
	c.Parameters = append([]Parameter(nil), s.Parameters...)
	return c
}

// SignatureFromParams builds a script signature from declared parameters.
func SignatureFromParams(name string, params []fact.Param, description string) Signature {
	sig := Signature{Name: name, Description: description}
	for _, p := range params {
		sig.Parameters = append(sig.Parameters, Parameter{Name: p.Name, Optional: p.Optional})
		if !p.Optional {
			sig.MinArgs = len(sig.Parameters)
		}
	}
	sig.MaxArgs = len(sig.Parameters)
	return sig
}

// Callable is one script, builtin function or extension function. The three
// share a single table keyed by name.
type Callable struct {
	Kind       CallableKind            `json:"kind"`
	Signature  Signature               `json:"signature"`
	Extension  string                  `json:"extension,omitempty"`
	Origin     int                     `json:"indexOfOrigin"`
	References RefList[CallOccurrence] `json:"referenceLocations"`

	// Shadowed is the builtin or extension registration a script declared
	// first took precedence over. It comes back when the script goes.
	Shadowed *Registration `json:"shadowed,omitempty"`
}

// Registration is a builtin or extension function as registered.
type Registration struct {
	Kind      CallableKind `json:"kind"`
	Extension string       `json:"extension,omitempty"`
	Signature Signature    `json:"signature"`
}

// registered reports whether the callable is a builtin or extension
// function, which exist independently of any file's occurrences.
func (c *Callable) registered() bool {
	return c.Kind == CallableFunction || c.Kind == CallableExtension
}

// Enum is one enum and its members. The first declaration seen becomes the
// origin; later declarations of the same name are extra occurrences, so
// which file owns the origin depends on indexing order.
type Enum struct {
	Origin     int                    `json:"indexOfOrigin"`
	References RefList[Occurrence]    `json:"referenceLocations"`
	Members    map[string]*EnumMember `json:"enumMembers"`
}

// EnumMember is one member of an Enum.
type EnumMember struct {
	Origin     int                      `json:"indexOfOrigin"`
	Value      string                   `json:"value"`
	References RefList[ValueOccurrence] `json:"referenceLocations"`
}

// Macro is one #macro. Like enums, the first declaration seen wins the
// origin and redeclarations are kept as extra occurrences.
type Macro struct {
	Origin     int                      `json:"indexOfOrigin"`
	Value      string                   `json:"value"`
	References RefList[ValueOccurrence] `json:"referenceLocations"`
}

// LocalVar is a file-local variable. It lives in its file's URIRecord only.
type LocalVar struct {
	Origin     int                 `json:"indexOfOrigin"`
	References RefList[Occurrence] `json:"referenceLocations"`
}

// SymbolKind selects a table in the query API.
type SymbolKind int

const (
	SymbolCallable SymbolKind = iota
	SymbolInstanceVar
	SymbolEnum
	SymbolEnumMember
	SymbolMacro
	SymbolLocal
)

var symbolKindNames = [...]string{"callable", "instance_var", "enum", "enum_member", "macro", "local"}

func (k SymbolKind) String() string {
	if k < 0 || int(k) >= len(symbolKindNames) {
		return fmt.Sprintf("symbol(%d)", int(k))
	}
	return symbolKindNames[k]
}

// ParseSymbolKind accepts the kind names plus the aliases "script",
// "function" and "var".
func ParseSymbolKind(s string) (SymbolKind, error) {
	switch s {
	case "script", "function":
		return SymbolCallable, nil
	case "var", "variable":
		return SymbolInstanceVar, nil
	}
	for i, name := range symbolKindNames {
		if name == s {
			return SymbolKind(i), nil
		}
	}
	return 0, fmt.Errorf("reference: unknown symbol kind %q", s)
}

// Symbol identifies one entity: Key is the name (or object name for
// instance variables, enum name for members), Sub the variable or member.
type Symbol struct {
	Kind SymbolKind `json:"kind"`
	Key  string     `json:"key"`
	Sub  string     `json:"sub,omitempty"`
}

func (s Symbol) String() string {
	if s.Sub == "" {
		return s.Kind.String() + " " + s.Key
	}
	return s.Kind.String() + " " + s.Key + "." + s.Sub
}
