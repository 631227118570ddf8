package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/textpos"
)

const gmlTestSource = `function heal(amount) {
	hp += amount;
}
heal(5);
show_debug_message(hp);
`

// factScript declares every function and reports every plain call.
const factScript = `
tree := parse_src(source, "gml")
root := tree.RootNode()

decls := query("(function_declaration name: (identifier) @name parameters: (formal_parameters) @params)", root)
for i := 0; i < len(decls); i++ {
    plist := decls[i]["params"]
    params := []
    count := int(plist.NamedChildCount())
    for j := 0; j < count; j++ {
        params.append(node_text(plist.NamedChild(j)))
    }
    emit({"kind": "function_decl", "name": node_text(decls[i]["name"]), "node": decls[i]["name"], "params": params})
}

calls := query("(call_expression function: (identifier) @fn)", root)
for i := 0; i < len(calls); i++ {
    fn := calls[i]["fn"]
    emit({"kind": "call_reference", "callee": node_text(fn), "node": fn})
}
`

func rng(line, col, endLine, endCol int) textpos.Range {
	return textpos.Range{
		Start: textpos.Position{Line: line, Character: col},
		End:   textpos.Position{Line: endLine, Character: endCol},
	}
}

// parseGML parses src with the grammar used for GML and registers it in a
// fresh source store.
func parseGML(t *testing.T, src string) (*sitter.Tree, *sourceStore) {
	t.Helper()

	lang, ok := ParserForLanguage("gml")
	require.True(t, ok)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(src))
	require.NoError(t, err)

	ss := newSourceStore()
	ss.store(tree, []byte(src), lang)
	t.Cleanup(ss.close)
	return tree, ss
}

// =============================================================================
// Languages
// =============================================================================

func TestLanguageForFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"scripts/scr_a/scr_a.gml", "gml", true},
		{"objects/obj_a/Create_0.GML", "gml", true},
		{"tools/build.js", "javascript", true},
		{"objects/obj_a/obj_a.yy", "", false},
		{"Makefile", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := LanguageForFile(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParserForLanguage(t *testing.T) {
	t.Parallel()

	gml, ok := ParserForLanguage("gml")
	require.True(t, ok)
	js, ok := ParserForLanguage("javascript")
	require.True(t, ok)
	assert.Same(t, gml, js)

	_, ok = ParserForLanguage("cobol")
	assert.False(t, ok)
}

// =============================================================================
// Tree-sitter host functions
// =============================================================================

func TestParse_GMLFunction(t *testing.T) {
	t.Parallel()
	tree, _ := parseGML(t, gmlTestSource)

	root := tree.RootNode()
	require.Equal(t, "program", root.Type())
	first := root.NamedChild(0)
	require.NotNil(t, first)
	assert.Equal(t, "function_declaration", first.Type())
}

func TestSourceStore_ResolvesFromChild(t *testing.T) {
	t.Parallel()
	tree, ss := parseGML(t, gmlTestSource)

	name := tree.RootNode().NamedChild(0).ChildByFieldName("name")
	require.NotNil(t, name)

	src, ok := ss.sourceForNode(name)
	require.True(t, ok)
	assert.Equal(t, "heal", name.Content(src))

	_, ok = ss.languageForNode(name)
	assert.True(t, ok)
}

func TestRunSource_ParseAndNodeText(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	script := `
tree := parse_src(source, "gml")
root := tree.RootNode()
assert(root.Type() == "program", "expected program")

fn := root.NamedChild(0)
name := node_child(fn, "name")
assert(node_text(name) == "heal", 'expected heal, got {node_text(name)}')
assert(node_child(fn, "no_such_field") == nil, "expected nil for missing field")
`
	err := rt.RunSource(context.Background(), script, map[string]any{"source": gmlTestSource})
	require.NoError(t, err)
}

func TestRunSource_Query(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	script := `
root := parse_src(source, "gml").RootNode()
calls := query("(call_expression function: (identifier) @fn)", root)
assert(len(calls) == 2, 'expected 2 calls, got {len(calls)}')
assert(node_text(calls[0]["fn"]) == "heal")
assert(node_text(calls[1]["fn"]) == "show_debug_message")

none := query("(class_declaration) @c", root)
assert(len(none) == 0, 'expected no classes, got {len(none)}')
`
	err := rt.RunSource(context.Background(), script, map[string]any{"source": gmlTestSource})
	require.NoError(t, err)
}

func TestRunSource_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
	}{
		{"invalid query pattern", `query("(not_a_real_node_type @x)", parse_src(source, "gml").RootNode())`},
		{"unsupported language", `parse_src(source, "cobol")`},
		{"node_text on non-node", `node_text("heal")`},
		{"parse_src arity", `parse_src(source)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rt := NewRuntime("")
			err := rt.RunSource(context.Background(), tt.script, map[string]any{"source": gmlTestSource})
			assert.Error(t, err)
		})
	}
}

func TestRunSource_LogRoutedToSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rt := NewRuntime("", WithRuntimeLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	err := rt.RunSource(context.Background(), `log.Warn("odd file")`, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="odd file"`)
	assert.Contains(t, buf.String(), "<inline>")
}

// =============================================================================
// emit
// =============================================================================

func TestEmit_FromScript(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")
	c := newCollector(gmlTestSource, fact.Context{})

	err := rt.RunSource(context.Background(), factScript, map[string]any{
		"source": gmlTestSource,
		"emit":   makeEmitFn(c),
	})
	require.NoError(t, err)

	require.Len(t, c.facts, 3)
	decl, ok := c.facts[0].(fact.FunctionDecl)
	require.True(t, ok, "%T", c.facts[0])
	assert.Equal(t, "heal", decl.Name)
	assert.Equal(t, []fact.Param{{Name: "amount"}}, decl.Params)
	assert.Equal(t, rng(0, 9, 0, 13), decl.Range)

	assert.Equal(t, fact.CallReference{Span: fact.At(rng(3, 0, 3, 4)), Callee: "heal"}, c.facts[1])
	assert.Equal(t, fact.CallReference{Span: fact.At(rng(4, 0, 4, 18)), Callee: "show_debug_message"}, c.facts[2])
}

func TestCollector_Convert(t *testing.T) {
	t.Parallel()

	ctx := fact.Context{Object: "obj_player", Rank: fact.RankStep, IsSelfDefault: true}
	at := func(kv map[string]object.Object) map[string]object.Object {
		kv["start_line"] = object.NewInt(2)
		kv["start_col"] = object.NewInt(4)
		kv["end_line"] = object.NewInt(2)
		kv["end_col"] = object.NewInt(6)
		return kv
	}
	str := object.NewString
	span := fact.At(rng(2, 4, 2, 6))

	tests := []struct {
		name string
		in   map[string]object.Object
		want fact.Fact
	}{
		{
			"assign defaults to context",
			at(map[string]object.Object{"kind": str("instance_var_assign"), "name": str("hp")}),
			fact.InstanceVarAssign{Span: span, Object: "obj_player", Name: "hp", IsSelf: true, Rank: fact.RankStep},
		},
		{
			"assign to other object",
			at(map[string]object.Object{"kind": str("instance_var_assign"), "name": str("hp"), "object": str("obj_enemy"), "rank": str("create")}),
			fact.InstanceVarAssign{Span: span, Object: "obj_enemy", Name: "hp", IsSelf: false, Rank: fact.RankCreate},
		},
		{
			"ref with explicit self",
			at(map[string]object.Object{"kind": str("instance_var_ref"), "name": str("hp"), "self": object.False}),
			fact.InstanceVarRef{Span: span, Object: "obj_player", Name: "hp", IsSelf: false},
		},
		{
			"macro",
			at(map[string]object.Object{"kind": str("macro_decl"), "name": str("MAX_HP"), "value": str("100")}),
			fact.MacroDecl{Span: span, Name: "MAX_HP", Value: "100"},
		},
		{
			"enum member",
			at(map[string]object.Object{"kind": str("enum_member_decl"), "enum": str("Color"), "member": str("Red"), "value": str("0")}),
			fact.EnumMemberDecl{Span: span, Enum: "Color", Member: "Red", Value: "0"},
		},
		{
			"call falls back to name",
			at(map[string]object.Object{"kind": str("call_reference"), "name": str("heal")}),
			fact.CallReference{Span: span, Callee: "heal"},
		},
		{
			"optional params",
			at(map[string]object.Object{
				"kind": str("function_decl"),
				"name": str("heal"),
				"params": object.NewList([]object.Object{
					str("amount"),
					object.NewMap(map[string]object.Object{"name": str("silent"), "optional": object.True}),
				}),
			}),
			fact.FunctionDecl{Span: span, Name: "heal", Params: []fact.Param{{Name: "amount"}, {Name: "silent", Optional: true}}},
		},
		{
			"region fold",
			at(map[string]object.Object{"kind": str("fold_range"), "region": object.True}),
			fact.FoldRange{Span: span, Region: true},
		},
		{
			"with scope",
			at(map[string]object.Object{"kind": str("self_scope"), "object": str("obj_enemy")}),
			fact.SelfScope{Span: span, Object: "obj_enemy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newCollector("", ctx)
			got, err := c.convert(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollector_ConvertErrors(t *testing.T) {
	t.Parallel()

	str := object.NewString
	pos := func(kv map[string]object.Object) map[string]object.Object {
		kv["start_line"] = object.NewInt(0)
		return kv
	}

	tests := []struct {
		name string
		in   map[string]object.Object
		want string
	}{
		{"no range", map[string]object.Object{"kind": str("macro_ref"), "name": str("X")}, "needs a node or start_line"},
		{"missing kind", pos(map[string]object.Object{"name": str("X")}), "missing kind"},
		{"unknown kind", pos(map[string]object.Object{"kind": str("widget")}), `unknown fact kind "widget"`},
		{"missing name", pos(map[string]object.Object{"kind": str("macro_decl")}), "macro_decl: missing name"},
		{"assign outside object", pos(map[string]object.Object{"kind": str("instance_var_assign"), "name": str("hp")}), "missing object"},
		{"bad rank", pos(map[string]object.Object{"kind": str("instance_var_assign"), "name": str("hp"), "object": str("o"), "rank": str("draw")}), `unknown rank "draw"`},
		{"node not a node", map[string]object.Object{"kind": str("macro_ref"), "name": str("X"), "node": str("n")}, "node must be a proxy"},
		{"params not a list", pos(map[string]object.Object{"kind": str("function_decl"), "name": str("f"), "params": str("a")}), "params must be a list"},
		{
			"end before start",
			map[string]object.Object{
				"kind": str("macro_ref"), "name": str("X"),
				"start_line": object.NewInt(3), "end_line": object.NewInt(1),
			},
			"before start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newCollector("", fact.Context{Rank: fact.RankOther})
			_, err := c.convert(tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// =============================================================================
// Fact scripts
// =============================================================================

func TestFactScripts(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"b_calls.facts.risor":  &fstest.MapFile{Data: []byte(``)},
		"a_decls.facts.risor":  &fstest.MapFile{Data: []byte(``)},
		"helpers.risor":        &fstest.MapFile{Data: []byte(``)},
		"notes.txt":            &fstest.MapFile{Data: []byte(``)},
		"nested/x.facts.risor": &fstest.MapFile{Data: []byte(``)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.FactScripts()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_decls.facts.risor", "b_calls.facts.risor"}, got)
}

func TestFactScripts_MissingDir(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(filepath.Join(t.TempDir(), "missing"))
	got, err := rt.FactScripts()
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = NewRuntime("").FactScripts()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"calls.facts.risor": &fstest.MapFile{Data: []byte(factScript)},
		"vars.facts.risor": &fstest.MapFile{Data: []byte(`
import helpers
emit(helpers.assign("hp", 1))
assert(uri == "objects/obj_player/Step_0.gml")
assert(object == "obj_player")
assert(rank == "step")
`)},
		"helpers.risor": &fstest.MapFile{Data: []byte(`
func assign(name, line) {
    return {"kind": "instance_var_assign", "name": name, "start_line": line, "start_col": 1, "end_line": line, "end_col": 1 + len(name)}
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	ctx := fact.Context{Object: "obj_player", Rank: fact.RankStep, IsSelfDefault: true}
	facts, err := rt.Extract(context.Background(), "objects/obj_player/Step_0.gml", []byte(gmlTestSource), ctx)
	require.NoError(t, err)
	require.Len(t, facts, 4)

	assert.IsType(t, fact.FunctionDecl{}, facts[0])
	assert.Equal(t, fact.InstanceVarAssign{
		Span:   fact.At(rng(1, 1, 1, 3)),
		Object: "obj_player",
		Name:   "hp",
		IsSelf: true,
		Rank:   fact.RankStep,
	}, facts[3])
}

func TestExtract_FailingScriptKeepsOthers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.facts.risor"), []byte(factScript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.facts.risor"), []byte(`emit({"kind": "widget", "start_line": 0})`), 0o644))

	rt := NewRuntime(dir)
	facts, err := rt.Extract(context.Background(), "scripts/scr_a/scr_a.gml", []byte(gmlTestSource), fact.Context{Rank: fact.RankOther})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.facts.risor")
	assert.Len(t, facts, 3)
}

// =============================================================================
// Script loading
// =============================================================================

func TestRunScript_LoadsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sum.risor"), []byte(`
x := 1 + 2
assert(x == 3, 'expected 3')
`), 0o644))

	rt := NewRuntime(dir)
	require.NoError(t, rt.RunScript(context.Background(), "sum.risor", nil))
}

func TestRunScript_MissingFile(t *testing.T) {
	t.Parallel()

	rt := NewRuntime(t.TempDir())
	err := rt.RunScript(context.Background(), "missing.risor", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading script")
}

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()

	mapFS := fstest.MapFS{
		"a.facts.risor": &fstest.MapFile{Data: []byte(`x := 1`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	src, err := rt.LoadScript("/a.facts.risor")
	require.NoError(t, err)
	assert.Equal(t, "x := 1", src)

	_, err = rt.LoadScript("missing.risor")
	assert.Error(t, err)
}

func TestImport_LocalImporter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.risor"), []byte(`
func double(x) {
	return x * 2
}
`), 0o644))

	rt := NewRuntime(dir)

	script := `
import math_utils

result := math_utils.double(21)
assert(result == 42, 'expected 42, got {result}')
`
	require.NoError(t, rt.RunSource(context.Background(), script, nil))
}
