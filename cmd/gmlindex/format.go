package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// formatLocationsText formats CLILocation results as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d:%d\n", loc.File, loc.StartLine, loc.StartCol)
	}
}

// formatSymbolText formats a CLISymbol as aligned columns.
func formatSymbolText(w io.Writer, s CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tDEFINITION\tREFS")
	name := s.Name
	if s.Container != "" {
		name = s.Container + "." + s.Name
	}
	def := "-"
	if s.Definition != nil {
		def = fmt.Sprintf("%s:%d:%d", s.Definition.File, s.Definition.StartLine, s.Definition.StartCol)
	}
	fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.Kind, name, def, s.RefCount)
	tw.Flush()
}

// formatDiagnosticsText formats diagnostics like compiler output.
func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s\n", d.File, d.StartLine, d.StartCol, d.Message)
	}
}

// formatStatsText formats CLIStats as aligned columns.
func formatStatsText(w io.Writer, s CLIStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		n     int
	}{
		{"Files", s.Files},
		{"Objects", s.Objects},
		{"Instance variables", s.InstanceVars},
		{"Scripts", s.Scripts},
		{"Builtin functions", s.Functions},
		{"Extension functions", s.Extensions},
		{"Headless callables", s.Headless},
		{"Enums", s.Enums},
		{"Enum members", s.EnumMembers},
		{"Macros", s.Macros},
		{"Resources", s.Resources},
		{"Diagnostics", s.Diagnostics},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%d\n", r.label, r.n)
	}
	tw.Flush()
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(result CLIResult) error {
	w := stdout

	switch v := result.Results.(type) {
	case []CLILocation:
		formatLocationsText(w, v)
	case CLISymbol:
		formatSymbolText(w, v)
	case CLIHover:
		fmt.Fprintln(w, v.Text)
	case []string:
		for _, name := range v {
			fmt.Fprintln(w, name)
		}
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case nil:
		// No output for nil results (e.g., symbol-at with no match).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text", "yaml"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be one of %s", format, strings.Join(validFormats, ", "))
}
