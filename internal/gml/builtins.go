package gml

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jward/gmlindex/internal/reference"
)

//go:embed builtins.yaml
var builtinsYAML []byte

// Builtins is the catalog of names the runtime provides: functions with
// their signatures, plus builtin variables and constants that must never be
// mistaken for user instance variables.
type Builtins struct {
	Functions []reference.Signature `yaml:"functions"`
	Variables []string              `yaml:"variables"`
	Constants []string              `yaml:"constants"`

	vars   map[string]bool
	consts map[string]bool
}

// LoadBuiltins parses a YAML catalog.
func LoadBuiltins(data []byte) (*Builtins, error) {
	var b Builtins
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("gml: parse builtins: %w", err)
	}
	for i := range b.Functions {
		f := &b.Functions[i]
		if f.Name == "" {
			return nil, fmt.Errorf("gml: builtin function %d has no name", i)
		}
		// Arity defaults to what the parameter list says.
		if f.MinArgs == 0 {
			for _, p := range f.Parameters {
				if !p.Optional {
					f.MinArgs++
				}
			}
		}
		if f.MaxArgs == 0 {
			f.MaxArgs = len(f.Parameters)
		}
		if f.MaxArgs != reference.Variadic && f.MaxArgs < f.MinArgs {
			f.MaxArgs = f.MinArgs
		}
	}
	b.index()
	return &b, nil
}

func (b *Builtins) index() {
	b.vars = make(map[string]bool, len(b.Variables))
	for _, v := range b.Variables {
		b.vars[v] = true
	}
	b.consts = make(map[string]bool, len(b.Constants))
	for _, c := range b.Constants {
		b.consts[c] = true
	}
}

// IsVariable reports whether name is a builtin variable.
func (b *Builtins) IsVariable(name string) bool { return b.vars[name] }

// IsConstant reports whether name is a builtin constant.
func (b *Builtins) IsConstant(name string) bool { return b.consts[name] }

// Merge adds the entries of o to b. Functions in o replace same-named ones.
func (b *Builtins) Merge(o *Builtins) {
	byName := make(map[string]int, len(b.Functions))
	for i, f := range b.Functions {
		byName[f.Name] = i
	}
	for _, f := range o.Functions {
		if i, ok := byName[f.Name]; ok {
			b.Functions[i] = f
			continue
		}
		byName[f.Name] = len(b.Functions)
		b.Functions = append(b.Functions, f)
	}
	b.Variables = append(b.Variables, o.Variables...)
	b.Constants = append(b.Constants, o.Constants...)
	b.index()
}

var defaultBuiltins = sync.OnceValue(func() *Builtins {
	b, err := LoadBuiltins(builtinsYAML)
	if err != nil {
		panic(err)
	}
	return b
})

// DefaultBuiltins returns the embedded catalog. The result is shared; do
// not modify it.
func DefaultBuiltins() *Builtins { return defaultBuiltins() }
