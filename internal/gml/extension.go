package gml

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/gmlindex/internal/reference"
)

// Extension is a loaded extension resource and the functions it exports.
type Extension struct {
	Name      string
	Functions []reference.Signature
}

// yyExtension mirrors the parts of an extension .yy file the index needs.
// The .yy format is JSON, which the YAML decoder reads as flow style.
type yyExtension struct {
	Name  string `yaml:"name"`
	Files []struct {
		Filename  string `yaml:"filename"`
		Functions []struct {
			Name       string `yaml:"name"`
			ArgCount   int    `yaml:"argCount"`
			Args       []int  `yaml:"args"`
			Help       string `yaml:"help"`
			Hidden     bool   `yaml:"hidden"`
			ReturnType int    `yaml:"returnType"`
		} `yaml:"functions"`
	} `yaml:"files"`
}

// trailingComma matches the trailing commas GameMaker writes before a
// closing bracket.
var trailingComma = regexp.MustCompile(`,(\s*[\]}])`)

// ParseExtension decodes an extension .yy document.
func ParseExtension(data []byte) (*Extension, error) {
	data = trailingComma.ReplaceAll(data, []byte("$1"))
	var yy yyExtension
	if err := yaml.Unmarshal(data, &yy); err != nil {
		return nil, fmt.Errorf("gml: parse extension: %w", err)
	}
	ext := &Extension{Name: yy.Name}
	for _, f := range yy.Files {
		for _, fn := range f.Functions {
			if fn.Hidden || fn.Name == "" {
				continue
			}
			ext.Functions = append(ext.Functions, extensionSignature(fn.Name, fn.ArgCount, fn.Args, fn.Help, fn.ReturnType))
		}
	}
	return ext, nil
}

// LoadExtension reads and decodes the .yy file at path.
func LoadExtension(path string) (*Extension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gml: read extension: %w", err)
	}
	ext, err := ParseExtension(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ext, nil
}

// extensionSignature builds a signature from the .yy fields. An argCount of
// -1 means the function is variadic. Parameter names come from the help
// string when it looks like "name(a, b)".
func extensionSignature(name string, argCount int, args []int, help string, returnType int) reference.Signature {
	sig := reference.Signature{Name: name, Description: help}
	if returnType == 1 {
		sig.ReturnType = "string"
	} else if returnType == 2 {
		sig.ReturnType = "real"
	}

	names := helpParams(help)
	n := argCount
	if n < 0 {
		n = len(args)
	}
	for i := 0; i < n; i++ {
		p := reference.Parameter{Name: fmt.Sprintf("arg%d", i)}
		if i < len(names) {
			p.Name = names[i]
		}
		if i < len(args) {
			p.Type = argType(args[i])
		}
		sig.Parameters = append(sig.Parameters, p)
	}
	if argCount < 0 {
		sig.MinArgs = 0
		sig.MaxArgs = reference.Variadic
	} else {
		sig.MinArgs = argCount
		sig.MaxArgs = argCount
	}
	return sig
}

func argType(t int) string {
	if t == 1 {
		return "string"
	}
	return "real"
}

func helpParams(help string) []string {
	open := strings.IndexByte(help, '(')
	end := strings.LastIndexByte(help, ')')
	if open < 0 || end <= open {
		return nil
	}
	var out []string
	for _, p := range strings.Split(help[open+1:end], ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
