package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jward/gmlindex"
	"github.com/jward/gmlindex/internal/config"
	"github.com/jward/gmlindex/internal/reference"
)

var flagFile string

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the reference index",
	Long:  "Run queries against an indexed project. All line and column numbers are 0-based; columns count UTF-16 code units.",
}

func init() {
	queryCmd.AddCommand(symbolAtCmd)
	queryCmd.AddCommand(definitionCmd)
	queryCmd.AddCommand(referencesCmd)
	queryCmd.AddCommand(refsCmd)
	queryCmd.AddCommand(hoverCmd)
	queryCmd.AddCommand(completeCmd)
	queryCmd.AddCommand(suggestCmd)
	queryCmd.AddCommand(listCmd)
	queryCmd.AddCommand(diagnosticsCmd)
	queryCmd.AddCommand(statsCmd)

	completeCmd.Flags().StringVar(&flagFile, "file", "", "file whose locals are offered first")
}

// --- Helpers ---

// openIndex opens the engine for the project containing the working
// directory and brings it up to date with the disk.
func openIndex(ctx context.Context) (*gmlindex.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	root := findProjectRoot(cwd)

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	cachePath := cfg.CachePath(root)
	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("cache not found: %s (run 'gmlindex index' first)", cachePath)
	}

	engine, err := openEngine(root)
	if err != nil {
		return nil, err
	}
	if err := engine.Load(ctx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return engine, nil
}

// resolveURI converts a file argument, relative to the working directory,
// to a project URI.
func resolveURI(e *gmlindex.Engine, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return e.URI(abs), nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// parsePosition reads <file> <line> <col> arguments.
func parsePosition(e *gmlindex.Engine, args []string) (string, gmlindex.Position, error) {
	uri, err := resolveURI(e, args[0])
	if err != nil {
		return "", gmlindex.Position{}, err
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return "", gmlindex.Position{}, err
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return "", gmlindex.Position{}, err
	}
	return uri, gmlindex.Position{Line: line, Character: col}, nil
}

// outputResult writes a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	switch flagFormat {
	case "text":
		return outputResultText(result)
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In text mode it goes to stderr; otherwise it is
// written to stdout as a CLIResult envelope.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return err
	}
	_ = outputResult(CLIResult{Command: command, Error: err.Error()})
	return err
}

func count(n int) *int { return &n }

// symbolToCLI describes sym with its declaration and reference count.
func symbolToCLI(ref *reference.Reference, sym gmlindex.Symbol) CLISymbol {
	out := CLISymbol{Kind: sym.Kind.String(), Name: sym.Key}
	if sym.Sub != "" {
		out.Name = sym.Sub
		out.Container = sym.Key
	}
	if sym.Kind == reference.SymbolLocal {
		out.Container = ""
		out.File = sym.Key
	}
	if loc, ok := ref.OriginLocation(sym.Kind, sym.Key, sym.Sub); ok {
		cl := locationToCLI(loc)
		out.Definition = &cl
	}
	out.RefCount = len(ref.AllReferences(sym.Kind, sym.Key, sym.Sub))
	return out
}

func locationToCLI(loc gmlindex.Location) CLILocation {
	return CLILocation{
		File:      loc.URI,
		StartLine: loc.Range.Start.Line,
		StartCol:  loc.Range.Start.Character,
		EndLine:   loc.Range.End.Line,
		EndCol:    loc.Range.End.Character,
	}
}

func locationsToCLI(locs []gmlindex.Location) []CLILocation {
	out := make([]CLILocation, len(locs))
	for i, loc := range locs {
		out[i] = locationToCLI(loc)
	}
	return out
}

// --- Position-Based Commands ---

var symbolAtCmd = &cobra.Command{
	Use:   "symbol-at <file> <line> <col>",
	Short: "Find the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runSymbolAt,
}

func runSymbolAt(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("symbol-at", err)
	}
	defer e.Close()

	uri, at, err := parsePosition(e, args)
	if err != nil {
		return outputError("symbol-at", err)
	}
	sym, ok := e.Query().SymbolAt(uri, at)
	if !ok {
		return outputResult(CLIResult{Command: "symbol-at", Results: nil})
	}
	return outputResult(CLIResult{
		Command:    "symbol-at",
		Results:    symbolToCLI(e.Reference(), sym),
		TotalCount: count(1),
	})
}

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <col>",
	Short: "Find the declaration of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinition,
}

func runDefinition(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("definition", err)
	}
	defer e.Close()

	uri, at, err := parsePosition(e, args)
	if err != nil {
		return outputError("definition", err)
	}
	locs := []CLILocation{}
	if loc, ok := e.Query().DefinitionAt(uri, at); ok {
		locs = append(locs, locationToCLI(loc))
	}
	return outputResult(CLIResult{
		Command:    "definition",
		Results:    locs,
		TotalCount: count(len(locs)),
	})
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <col>",
	Short: "Find every occurrence of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runReferences,
}

func runReferences(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("references", err)
	}
	defer e.Close()

	uri, at, err := parsePosition(e, args)
	if err != nil {
		return outputError("references", err)
	}
	locs := locationsToCLI(e.Query().ReferencesAt(uri, at))
	return outputResult(CLIResult{
		Command:    "references",
		Results:    locs,
		TotalCount: count(len(locs)),
	})
}

var hoverCmd = &cobra.Command{
	Use:   "hover <name> | hover <file> <line> <col>",
	Short: "Describe a callable by name, or the symbol at a position",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("accepts <name> or <file> <line> <col>, received %d arg(s)", len(args))
		}
		return nil
	},
	RunE: runHover,
}

func runHover(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("hover", err)
	}
	defer e.Close()

	q := e.Query()
	var (
		text string
		ok   bool
		name = args[0]
	)
	if len(args) == 3 {
		uri, at, err := parsePosition(e, args)
		if err != nil {
			return outputError("hover", err)
		}
		text, ok = q.HoverAt(uri, at)
		if sym, found := q.SymbolAt(uri, at); found {
			name = sym.Key
			if sym.Sub != "" {
				name = sym.Key + "." + sym.Sub
			}
		}
	} else {
		text, ok = q.Hover(name)
	}
	if !ok {
		return outputResult(CLIResult{Command: "hover", Results: nil})
	}
	return outputResult(CLIResult{
		Command:    "hover",
		Results:    CLIHover{Name: name, Text: text},
		TotalCount: count(1),
	})
}

// --- Name Commands ---

var refsCmd = &cobra.Command{
	Use:   "refs <kind> <name> [member]",
	Short: "Find every occurrence of a named symbol",
	Long: "kind is one of: callable (or script, function), instance_var (or var), enum,\n" +
		"enum_member, macro, local. Instance variables take <object> <var>, enum members\n" +
		"<enum> <member> and locals <file> <name>.",
	Args: cobra.RangeArgs(2, 3),
	RunE: runRefs,
}

func runRefs(cmd *cobra.Command, args []string) error {
	kind, err := reference.ParseSymbolKind(args[0])
	if err != nil {
		return outputError("refs", err)
	}
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("refs", err)
	}
	defer e.Close()

	key, sub := args[1], ""
	if len(args) == 3 {
		sub = args[2]
	}
	if kind == reference.SymbolLocal {
		if key, err = resolveURI(e, key); err != nil {
			return outputError("refs", err)
		}
	}
	locs := locationsToCLI(e.Reference().AllReferences(kind, key, sub))
	return outputResult(CLIResult{Command: "refs", Results: locs, TotalCount: count(len(locs))})
}

var completeCmd = &cobra.Command{
	Use:   "complete <prefix>",
	Short: "List names starting with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("complete", err)
	}
	defer e.Close()

	uri := ""
	if flagFile != "" {
		if uri, err = resolveURI(e, flagFile); err != nil {
			return outputError("complete", err)
		}
	}
	names := e.Query().Completion(uri, args[0])
	if names == nil {
		names = []string{}
	}
	return outputResult(CLIResult{Command: "complete", Results: names, TotalCount: count(len(names))})
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <name>",
	Short: "Suggest known names similar to an unknown one",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggest,
}

func runSuggest(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("suggest", err)
	}
	defer e.Close()

	names := e.Query().Suggest(args[0])
	return outputResult(CLIResult{Command: "suggest", Results: names, TotalCount: count(len(names))})
}

var listCmd = &cobra.Command{
	Use:   "list <what> [name]",
	Short: "List objects, callables, enums, macros, members, vars or resources of a kind",
	Long: "what is one of: objects, callables, enums, macros, members <enum>, vars <object>,\n" +
		"or a resource kind (sprites, rooms, extensions, ...).",
	Args: cobra.RangeArgs(1, 2),
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("list", err)
	}
	defer e.Close()

	names, err := listNames(e.Reference(), args)
	if err != nil {
		return outputError("list", err)
	}
	if names == nil {
		names = []string{}
	}
	return outputResult(CLIResult{Command: "list", Results: names, TotalCount: count(len(names))})
}

func listNames(ref *reference.Reference, args []string) ([]string, error) {
	arg := func() (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("list %s needs a name", args[0])
		}
		return args[1], nil
	}
	switch args[0] {
	case "objects":
		return ref.ListObjects(), nil
	case "callables", "scripts", "functions":
		return ref.ListScriptsAndFunctions(), nil
	case "enums":
		return ref.ListEnums(), nil
	case "macros":
		return ref.ListMacros(), nil
	case "members":
		name, err := arg()
		if err != nil {
			return nil, err
		}
		return ref.ListEnumMembers(name), nil
	case "vars":
		name, err := arg()
		if err != nil {
			return nil, err
		}
		return ref.ListInstanceVariables(name), nil
	}
	kind, err := reference.ParseResourceKind(args[0])
	if err != nil {
		return nil, fmt.Errorf("cannot list %q", args[0])
	}
	return ref.ListResourcesOfType(kind), nil
}

// --- File and Project Commands ---

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>",
	Short: "Show the parse problems of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnostics,
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("diagnostics", err)
	}
	defer e.Close()

	uri, err := resolveURI(e, args[0])
	if err != nil {
		return outputError("diagnostics", err)
	}
	diags := []CLIDiagnostic{}
	for _, d := range e.Query().Diagnostics(uri) {
		diags = append(diags, CLIDiagnostic{
			CLILocation: locationToCLI(gmlindex.Location{URI: uri, Range: d.Range}),
			Message:     d.Message,
		})
	}
	return outputResult(CLIResult{Command: "diagnostics", Results: diags, TotalCount: count(len(diags))})
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show table sizes",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := openIndex(cmd.Context())
	if err != nil {
		return outputError("stats", err)
	}
	defer e.Close()

	return outputResult(CLIResult{Command: "stats", Results: statsToCLI(e.Stats())})
}
