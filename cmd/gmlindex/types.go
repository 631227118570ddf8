package main

import "github.com/jward/gmlindex"

// CLIResult is the top-level envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command" yaml:"command"`
	Results    any    `json:"results" yaml:"results"`
	TotalCount *int   `json:"total_count,omitempty" yaml:"total_count,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLILocation is a range inside one project file.
type CLILocation struct {
	File      string `json:"file" yaml:"file"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	StartCol  int    `json:"start_col" yaml:"start_col"`
	EndLine   int    `json:"end_line" yaml:"end_line"`
	EndCol    int    `json:"end_col" yaml:"end_col"`
}

// CLISymbol describes one entity of the symbol tables. Container is the
// object of an instance variable or the enum of a member; File is set for
// locals.
type CLISymbol struct {
	Kind       string       `json:"kind" yaml:"kind"`
	Name       string       `json:"name" yaml:"name"`
	Container  string       `json:"container,omitempty" yaml:"container,omitempty"`
	File       string       `json:"file,omitempty" yaml:"file,omitempty"`
	Definition *CLILocation `json:"definition,omitempty" yaml:"definition,omitempty"`
	RefCount   int          `json:"ref_count" yaml:"ref_count"`
}

// CLIHover is hover text for a name.
type CLIHover struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}

// CLIDiagnostic is one parse problem.
type CLIDiagnostic struct {
	CLILocation `yaml:",inline"`
	Message     string `json:"message" yaml:"message"`
}

// CLIStats holds table sizes.
type CLIStats struct {
	Files        int `json:"files" yaml:"files"`
	Objects      int `json:"objects" yaml:"objects"`
	InstanceVars int `json:"instance_vars" yaml:"instance_vars"`
	Scripts      int `json:"scripts" yaml:"scripts"`
	Functions    int `json:"functions" yaml:"functions"`
	Extensions   int `json:"extension_functions" yaml:"extension_functions"`
	Headless     int `json:"headless_callables" yaml:"headless_callables"`
	Enums        int `json:"enums" yaml:"enums"`
	EnumMembers  int `json:"enum_members" yaml:"enum_members"`
	Macros       int `json:"macros" yaml:"macros"`
	Resources    int `json:"resources" yaml:"resources"`
	Diagnostics  int `json:"diagnostics" yaml:"diagnostics"`
}

func statsToCLI(s gmlindex.Stats) CLIStats {
	return CLIStats(s)
}
