package reference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/textpos"
)

// ===========================================================================
// Helpers
// ===========================================================================

func at(line, col, length int) fact.Span {
	return fact.At(textpos.Range{
		Start: textpos.Position{Line: line, Character: col},
		End:   textpos.Position{Line: line, Character: col + length},
	})
}

func assign(object, name string, self bool, rank fact.Rank, line int) fact.InstanceVarAssign {
	return fact.InstanceVarAssign{Span: at(line, 0, len(name)), Object: object, Name: name, IsSelf: self, Rank: rank}
}

func macroDecl(name, value string, line int) fact.MacroDecl {
	return fact.MacroDecl{Span: at(line, 7, len(name)), Name: name, Value: value}
}

func call(name string, line int) fact.CallReference {
	return fact.CallReference{Span: at(line, 0, len(name)), Callee: name}
}

func funcDecl(name string, line int, params ...fact.Param) fact.FunctionDecl {
	return fact.FunctionDecl{Span: at(line, 9, len(name)), Name: name, Params: params}
}

func uriSet(locs []Location) map[string]int {
	out := map[string]int{}
	for _, l := range locs {
		out[l.URI]++
	}
	return out
}

// observable captures the query-visible state of a Reference for comparison.
type observable struct {
	Scripts  []string
	Macros   []string
	Enums    []string
	Objects  []string
	Origins  map[string]Location
	RefCount map[string]int
}

func observe(r *Reference, syms ...Symbol) observable {
	o := observable{
		Scripts:  r.ListScriptsAndFunctions(),
		Macros:   r.ListMacros(),
		Enums:    r.ListEnums(),
		Objects:  r.ListObjects(),
		Origins:  map[string]Location{},
		RefCount: map[string]int{},
	}
	for _, s := range syms {
		if loc, ok := r.OriginLocation(s.Kind, s.Key, s.Sub); ok {
			o.Origins[s.String()] = loc
		}
		o.RefCount[s.String()] = len(r.AllReferences(s.Kind, s.Key, s.Sub))
	}
	return o
}

func sampleFacts() []fact.Fact {
	return []fact.Fact{
		macroDecl("MAX_HP", "100", 0),
		fact.EnumDecl{Span: at(1, 5, 5), Name: "Color"},
		fact.EnumMemberDecl{Span: at(2, 1, 3), Enum: "Color", Member: "Red", Value: "0"},
		fact.EnumMemberDecl{Span: at(3, 1, 4), Enum: "Color", Member: "Blue", Value: "1"},
		funcDecl("heal", 5, fact.Param{Name: "amount"}, fact.Param{Name: "silent", Optional: true}),
		fact.LocalVarDecl{Span: at(6, 5, 2), Name: "hp"},
		fact.MacroRef{Span: at(6, 10, 6), Name: "MAX_HP"},
		assign("obj_player", "hp", true, fact.RankCreate, 7),
		fact.InstanceVarRef{Span: at(8, 0, 2), Object: "obj_player", Name: "hp", IsSelf: true},
		call("show_debug_message", 9),
		fact.EnumMemberRef{Span: at(10, 6, 3), Enum: "Color", Member: "Red"},
	}
}

var sampleSymbols = []Symbol{
	{Kind: SymbolMacro, Key: "MAX_HP"},
	{Kind: SymbolEnum, Key: "Color"},
	{Kind: SymbolEnumMember, Key: "Color", Sub: "Red"},
	{Kind: SymbolEnumMember, Key: "Color", Sub: "Blue"},
	{Kind: SymbolCallable, Key: "heal"},
	{Kind: SymbolCallable, Key: "show_debug_message"},
	{Kind: SymbolInstanceVar, Key: "obj_player", Sub: "hp"},
}

// ===========================================================================
// Incremental indexing
// ===========================================================================

func TestReindexFile_Idempotent(t *testing.T) {
	t.Parallel()

	once := New()
	once.ReindexFile("scripts/a.gml", sampleFacts())

	twice := New()
	twice.ReindexFile("scripts/a.gml", sampleFacts())
	twice.ReindexFile("scripts/a.gml", sampleFacts())

	assert.Equal(t, observe(once, sampleSymbols...), observe(twice, sampleSymbols...))
	assert.Equal(t, once.Stats(), twice.Stats())
}

func TestReindexFile_InvalidationCompleteness(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	r.ReindexFile("b.gml", []fact.Fact{
		fact.MacroRef{Span: at(0, 0, 6), Name: "MAX_HP"},
		call("heal", 1),
	})

	r.ReindexFile("a.gml", nil)

	assert.False(t, r.MacroExists("MAX_HP"))
	assert.False(t, r.EnumExists("Color"))
	assert.False(t, r.ScriptExists("heal"))
	assert.False(t, r.CallableExists("heal"))
	assert.False(t, r.InstanceVariableExists("obj_player", "hp"))
	assert.Empty(t, r.Locals("a.gml"))

	for _, s := range sampleSymbols {
		for _, loc := range r.AllReferences(s.Kind, s.Key, s.Sub) {
			assert.NotEqual(t, "a.gml", loc.URI, "symbol %s", s)
		}
	}
	// b.gml still references both names, now headless.
	assert.Len(t, r.AllReferences(SymbolMacro, "MAX_HP", ""), 1)
	assert.Len(t, r.AllReferences(SymbolCallable, "heal", ""), 1)
	_, ok := r.OriginLocation(SymbolCallable, "heal", "")
	assert.False(t, ok)

	assert.True(t, r.HasRecord("a.gml"), "record survives an empty reindex")
}

func TestClearURI_UnknownIsNoop(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	before := observe(r, sampleSymbols...)

	r.ClearURI("never-seen.gml")
	r.ClearURI("never-seen.gml")

	assert.True(t, r.HasRecord("never-seen.gml"))
	assert.Equal(t, before, observe(r, sampleSymbols...))
}

func TestReindexFile_KeepsHash(t *testing.T) {
	t.Parallel()

	r := New()
	r.SetHash("a.gml", "abc")
	r.ReindexFile("a.gml", sampleFacts())
	h, ok := r.Hash("a.gml")
	require.True(t, ok)
	assert.Equal(t, "abc", h)

	_, ok = r.Hash("b.gml")
	assert.False(t, ok)
}

func TestRemoveURI(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	assert.True(t, r.RemoveURI("a.gml"))
	assert.False(t, r.RemoveURI("a.gml"))
	assert.False(t, r.HasRecord("a.gml"))
	assert.Empty(t, r.ListMacros())
	assert.Equal(t, Stats{}, r.Stats())
}

func TestReindex_ParseErrorsBecomeDiagnostics(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	r.Reindex("a.gml", fact.Result{
		Facts:  []fact.Fact{macroDecl("MAX_HP", "100", 0)},
		Errors: []fact.ParseError{{Range: at(4, 0, 1).Range, Message: "unterminated string"}},
	})

	assert.True(t, r.MacroExists("MAX_HP"))
	assert.False(t, r.ScriptExists("heal"), "stale data must not survive a failed parse")
	diags := r.Diagnostics("a.gml")
	require.Len(t, diags, 1)
	assert.Equal(t, "unterminated string", diags[0].Message)

	r.ReindexFile("a.gml", nil)
	assert.Empty(t, r.Diagnostics("a.gml"))
}

// ===========================================================================
// Instance-variable origin election
// ===========================================================================

func TestOriginElection_OnInsert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		facts    []fact.Fact
		wantLine int
	}{
		{
			name: "self beats non-self regardless of rank",
			facts: []fact.Fact{
				assign("obj_a", "x", false, fact.RankOther, 0),
				assign("obj_a", "x", true, fact.RankStep, 1),
			},
			wantLine: 1,
		},
		{
			name: "lower rank wins when self-ness ties",
			facts: []fact.Fact{
				assign("obj_a", "x", true, fact.RankStep, 0),
				assign("obj_a", "x", true, fact.RankCreate, 1),
			},
			wantLine: 1,
		},
		{
			name: "equal rank keeps the first",
			facts: []fact.Fact{
				assign("obj_a", "x", true, fact.RankStep, 0),
				assign("obj_a", "x", true, fact.RankStep, 1),
			},
			wantLine: 0,
		},
		{
			name: "non-self never displaces self",
			facts: []fact.Fact{
				assign("obj_a", "x", true, fact.RankOther, 0),
				assign("obj_a", "x", false, fact.RankCreate, 1),
			},
			wantLine: 0,
		},
		{
			name: "reads are never origins",
			facts: []fact.Fact{
				fact.InstanceVarRef{Span: at(0, 0, 1), Object: "obj_a", Name: "x", IsSelf: true},
				assign("obj_a", "x", false, fact.RankOther, 1),
			},
			wantLine: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New()
			r.ReindexFile("objects/obj_a/Step_0.gml", tt.facts)
			loc, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
			require.True(t, ok)
			assert.Equal(t, tt.wantLine, loc.Range.Start.Line)
		})
	}
}

func TestOriginElection_ReadOnlyVariableIsHeadless(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{
		fact.InstanceVarRef{Span: at(0, 0, 1), Object: "obj_a", Name: "x", IsSelf: true},
	})
	assert.True(t, r.InstanceVariableExists("obj_a", "x"))
	_, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	assert.False(t, ok)
}

func TestReelection_OnRemoval(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankCreate, 0)})
	r.ReindexFile("b.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 0)})
	r.ReindexFile("c.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankBeginStep, 0)})

	loc, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "a.gml", loc.URI)

	r.ReindexFile("a.gml", nil)
	loc, ok = r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "c.gml", loc.URI, "begin step outranks step")

	r.ReindexFile("c.gml", nil)
	loc, ok = r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "b.gml", loc.URI)

	r.ReindexFile("b.gml", nil)
	assert.False(t, r.InstanceVariableExists("obj_a", "x"))
	assert.False(t, r.ObjectExists("obj_a"))
}

func TestReelection_SameFilePrefersEarliestPosition(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankCreate, 0)})
	r.ReindexFile("b.gml", []fact.Fact{
		assign("obj_a", "x", true, fact.RankStep, 9),
		assign("obj_a", "x", true, fact.RankStep, 2),
	})

	r.ReindexFile("a.gml", nil)
	loc, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "b.gml", loc.URI)
	assert.Equal(t, 2, loc.Range.Start.Line)
}

func TestReelection_AcrossFilesLowestSlotWins(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankCreate, 0)})
	r.ReindexFile("c.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 5)})
	r.ReindexFile("b.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 1)})

	r.ReindexFile("a.gml", nil)
	loc, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "c.gml", loc.URI)
}

func TestReelection_RederivesRankFromContext(t *testing.T) {
	t.Parallel()

	contexts := map[string]fact.Context{
		"b.gml": {Object: "obj_a", Rank: fact.RankCreate, IsSelfDefault: true},
	}
	r := New(WithContextResolver(ContextFunc(func(uri string) (fact.Context, bool) {
		ctx, ok := contexts[uri]
		return ctx, ok
	})))

	r.ReindexFile("a.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankCreate, 0)})
	r.ReindexFile("c.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankBeginStep, 0)})
	r.ReindexFile("b.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 0)})

	r.ReindexFile("a.gml", nil)
	loc, ok := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "b.gml", loc.URI, "b.gml now resolves to create")
}

// ===========================================================================
// Callables, macros and enums
// ===========================================================================

func TestScenario_ScriptCalledBeforeDeclared(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("scripts/scriptA/scriptA.gml", []fact.Fact{
		funcDecl("scriptA", 0),
		call("scriptB", 1),
	})

	_, ok := r.OriginLocation(SymbolCallable, "scriptB", "")
	assert.False(t, ok)
	assert.False(t, r.CallableExists("scriptB"))
	assert.False(t, r.ScriptExists("scriptB"))

	r.ReindexFile("scripts/scriptB/scriptB.gml", []fact.Fact{funcDecl("scriptB", 0)})

	assert.True(t, r.ScriptExists("scriptB"))
	assert.True(t, r.CallableExists("scriptB"))
	refs := r.AllReferences(SymbolCallable, "scriptB", "")
	assert.Equal(t, map[string]int{
		"scripts/scriptA/scriptA.gml": 1,
		"scripts/scriptB/scriptB.gml": 1,
	}, uriSet(refs))

	loc, ok := r.OriginLocation(SymbolCallable, "scriptB", "")
	require.True(t, ok)
	assert.Equal(t, "scripts/scriptB/scriptB.gml", loc.URI)

	// Removing the declaration leaves the call site on a headless entry.
	r.ReindexFile("scripts/scriptB/scriptB.gml", nil)
	assert.False(t, r.ScriptExists("scriptB"))
	info, ok := r.Callable("scriptB")
	require.True(t, ok)
	assert.Equal(t, CallableUnknown, info.Kind)
	assert.Equal(t, 1, info.Calls)
}

func TestScenario_MacroRedefinitionRemoved(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("x.gml", []fact.Fact{macroDecl("FOO", "1", 0)})
	v, ok := r.MacroValue("FOO")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	r.ReindexFile("x.gml", nil)
	assert.False(t, r.MacroExists("FOO"))
	assert.Empty(t, r.AllReferences(SymbolMacro, "FOO", ""))
	_, ok = r.MacroValue("FOO")
	assert.False(t, ok)
}

func TestMacro_FirstDeclarationWinsThenReelects(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{macroDecl("FOO", "1", 0)})
	r.ReindexFile("b.gml", []fact.Fact{macroDecl("FOO", "2", 0)})

	v, _ := r.MacroValue("FOO")
	assert.Equal(t, "1", v)
	assert.Len(t, r.AllReferences(SymbolMacro, "FOO", ""), 2)

	r.ReindexFile("a.gml", nil)
	v, ok := r.MacroValue("FOO")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	loc, _ := r.OriginLocation(SymbolMacro, "FOO", "")
	assert.Equal(t, "b.gml", loc.URI)
}

func TestScriptSignatureFromDeclaration(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{
		funcDecl("heal", 0, fact.Param{Name: "amount"}, fact.Param{Name: "silent", Optional: true}),
	})
	info, ok := r.Callable("heal")
	require.True(t, ok)
	assert.Equal(t, CallableScript, info.Kind)
	assert.Equal(t, 1, info.Signature.MinArgs)
	assert.Equal(t, 2, info.Signature.MaxArgs)
	assert.Equal(t, "heal(amount, [silent])", info.Signature.String())
	assert.True(t, info.Signature.Accepts(1))
	assert.False(t, info.Signature.Accepts(3))
}

func TestEnum_PrunedOnlyWhenMembersGone(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{
		fact.EnumDecl{Span: at(0, 5, 5), Name: "Color"},
		fact.EnumMemberDecl{Span: at(1, 1, 3), Enum: "Color", Member: "Red", Value: "0"},
	})
	r.ReindexFile("b.gml", []fact.Fact{
		fact.EnumMemberRef{Span: at(0, 6, 3), Enum: "Color", Member: "Red"},
	})

	assert.True(t, r.EnumMemberExists("Color", "Red"))
	v, ok := r.EnumMemberValue("Color", "Red")
	require.True(t, ok)
	assert.Equal(t, "0", v)

	r.ReindexFile("a.gml", nil)
	assert.False(t, r.EnumExists("Color"))
	assert.False(t, r.EnumMemberExists("Color", "Red"))
	assert.Len(t, r.AllReferences(SymbolEnumMember, "Color", "Red"), 1, "b.gml's reference is kept")

	r.ReindexFile("b.gml", nil)
	assert.Empty(t, r.Snapshot().Tables.Enums)
}

func TestBuiltins_SurviveWithoutOccurrences(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{call("draw_text", 0)})
	r.RegisterBuiltin(Signature{Name: "draw_text", MinArgs: 3, MaxArgs: 3})
	r.RegisterExtension("ext_steam", Signature{Name: "steam_init", MaxArgs: Variadic})

	info, ok := r.Callable("draw_text")
	require.True(t, ok)
	assert.Equal(t, CallableFunction, info.Kind)
	assert.Equal(t, 1, info.Calls, "call sites recorded before registration are kept")

	r.ReindexFile("a.gml", nil)
	assert.True(t, r.CallableExists("draw_text"))
	assert.False(t, r.ScriptExists("draw_text"))

	ext, ok := r.Callable("steam_init")
	require.True(t, ok)
	assert.Equal(t, CallableExtension, ext.Kind)
	assert.Equal(t, "ext_steam", ext.Extension)
	assert.Equal(t, "steam_init(...)", ext.Signature.String())
	assert.Equal(t, []string{"draw_text", "steam_init"}, r.ListScriptsAndFunctions())
}

func TestScriptShadowingBuiltin_RestoresRegistration(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("scripts/scr_log/scr_log.gml", []fact.Fact{funcDecl("show_debug_message", 0, fact.Param{Name: "msg"})})
	r.ReindexFile("main.gml", []fact.Fact{call("show_debug_message", 0)})
	r.RegisterBuiltin(Signature{Name: "show_debug_message", MinArgs: 1, MaxArgs: Variadic})

	assert.True(t, r.ScriptExists("show_debug_message"), "the script declared first wins")

	r.ClearURI("scripts/scr_log/scr_log.gml")

	info, ok := r.Callable("show_debug_message")
	require.True(t, ok)
	assert.Equal(t, CallableFunction, info.Kind)
	assert.Equal(t, Variadic, info.Signature.MaxArgs)
	assert.Equal(t, 1, info.Calls)
	assert.True(t, r.CallableExists("show_debug_message"))
	assert.False(t, r.ScriptExists("show_debug_message"))

	// With no calls left the builtin still stands.
	r.ClearURI("main.gml")
	assert.True(t, r.CallableExists("show_debug_message"))
}

func TestScriptShadowingExtension_DroppedWithExtension(t *testing.T) {
	t.Parallel()

	r := New()
	r.AddResource(Resource{Name: "ext_steam", Kind: ResourceExtension})
	r.ReindexFile("scripts/scr_steam/scr_steam.gml", []fact.Fact{funcDecl("steam_init", 0)})
	r.RegisterExtension("ext_steam", Signature{Name: "steam_init", MaxArgs: Variadic})

	assert.True(t, r.DeleteResource("ext_steam"))
	r.ClearURI("scripts/scr_steam/scr_steam.gml")

	_, ok := r.Callable("steam_init")
	assert.False(t, ok, "a registration of a deleted extension is not restored")
}

// ===========================================================================
// Explicit deletion
// ===========================================================================

func TestDeleteResource_SweepsRecords(t *testing.T) {
	t.Parallel()

	r := New()
	r.AddResource(Resource{Name: "scr_util", Kind: ResourceScript, Files: []string{"scripts/scr_util/scr_util.gml"}})
	r.AddResource(Resource{Name: "obj_enemy", Kind: ResourceObject, Files: []string{"objects/obj_enemy/Create_0.gml"}})

	r.ReindexFile("scripts/scr_util/scr_util.gml", []fact.Fact{funcDecl("scr_util", 0)})
	r.ReindexFile("objects/obj_enemy/Create_0.gml", []fact.Fact{assign("obj_enemy", "hp", true, fact.RankCreate, 0)})
	r.ReindexFile("main.gml", []fact.Fact{
		call("scr_util", 0),
		assign("obj_enemy", "hp", false, fact.RankOther, 1),
	})

	assert.True(t, r.DeleteResource("scr_util"))
	assert.False(t, r.DeleteResource("scr_util"))
	assert.False(t, r.ResourceExists("scr_util"))
	assert.False(t, r.HasRecord("scripts/scr_util/scr_util.gml"))
	_, ok := r.Callable("scr_util")
	assert.False(t, ok, "headless call sites are deleted with the script")

	assert.True(t, r.DeleteResource("obj_enemy"))
	assert.False(t, r.ObjectExists("obj_enemy"))

	// main.gml must not keep entries for the deleted symbols.
	snap := r.Snapshot()
	rec := snap.URIRecords["main.gml"]
	require.NotNil(t, rec)
	assert.Empty(t, rec.Callables)
	assert.Empty(t, rec.InstanceVars)

	// And re-indexing main.gml must not trip over them.
	r.ReindexFile("main.gml", nil)
	assert.Equal(t, 1, r.Stats().Files)
}

func TestDeleteResource_KeepsScriptDeclaredElsewhere(t *testing.T) {
	t.Parallel()

	r := New()
	r.AddResource(Resource{Name: "scr_a", Kind: ResourceScript, Files: []string{"scripts/scr_a/scr_a.gml"}})
	r.ReindexFile("scripts/scr_a/scr_a.gml", []fact.Fact{funcDecl("scr_a", 0)})
	r.ReindexFile("scripts/scr_lib/scr_lib.gml", []fact.Fact{funcDecl("scr_a", 3)})
	r.ReindexFile("main.gml", []fact.Fact{call("scr_a", 0)})

	assert.True(t, r.DeleteResource("scr_a"))

	assert.True(t, r.ScriptExists("scr_a"))
	loc, ok := r.OriginLocation(SymbolCallable, "scr_a", "")
	require.True(t, ok)
	assert.Equal(t, "scripts/scr_lib/scr_lib.gml", loc.URI)
	assert.Equal(t, map[string]int{
		"scripts/scr_lib/scr_lib.gml": 1,
		"main.gml":                    1,
	}, uriSet(r.AllReferences(SymbolCallable, "scr_a", "")))
}

func TestDeleteResource_Extension(t *testing.T) {
	t.Parallel()

	r := New()
	r.AddResource(Resource{Name: "ext_steam", Kind: ResourceExtension})
	r.RegisterExtension("ext_steam", Signature{Name: "steam_init", MaxArgs: Variadic})
	r.RegisterExtension("ext_steam", Signature{Name: "steam_shutdown"})
	r.RegisterExtension("ext_other", Signature{Name: "other_init"})
	r.ReindexFile("a.gml", []fact.Fact{call("steam_init", 0)})

	assert.True(t, r.DeleteResource("ext_steam"))

	info, ok := r.Callable("steam_init")
	require.True(t, ok, "called functions stay as headless entries")
	assert.Equal(t, CallableUnknown, info.Kind)
	assert.Equal(t, 1, info.Calls)
	assert.False(t, r.CallableExists("steam_init"))

	_, ok = r.Callable("steam_shutdown")
	assert.False(t, ok)
	assert.True(t, r.CallableExists("other_init"))
}

func TestDeleteSymbol_EnumMember(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	assert.True(t, r.DeleteSymbol(Symbol{Kind: SymbolEnumMember, Key: "Color", Sub: "Red"}))
	assert.False(t, r.EnumMemberExists("Color", "Red"))
	assert.True(t, r.EnumMemberExists("Color", "Blue"))

	r.ReindexFile("a.gml", nil)
	assert.False(t, r.EnumExists("Color"))
	assert.Empty(t, r.Snapshot().Tables.Enums)
}

// ===========================================================================
// Cache
// ===========================================================================

func TestCache_RoundTrip(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	r.ReindexFile("b.gml", []fact.Fact{assign("obj_player", "hp", false, fact.RankOther, 0), call("heal", 1)})
	r.SetHash("a.gml", "h1")
	r.AddResource(Resource{Name: "obj_player", Kind: ResourceObject})
	r.RegisterBuiltin(Signature{Name: "show_debug_message", MinArgs: 1, MaxArgs: Variadic})
	want := observe(r, sampleSymbols...)

	b, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)
	var c Cache
	require.NoError(t, json.Unmarshal(b, &c))

	back := New()
	back.Restore(&c)
	rep := back.ValidateCache()
	assert.False(t, rep.Repaired(), "%+v", rep)

	assert.Equal(t, want, observe(back, sampleSymbols...))
	h, _ := back.Hash("a.gml")
	assert.Equal(t, "h1", h)
	assert.Equal(t, r.Stats(), back.Stats())
	assert.Equal(t, []string{"hp"}, back.Locals("a.gml"))
}

func TestCache_SnapshotIsDetached(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	snap := r.Snapshot()
	r.ReindexFile("a.gml", nil)

	assert.NotEmpty(t, snap.Tables.Macros)
	assert.Equal(t, 2, snap.Tables.Macros["MAX_HP"].References.Len())
}

func TestValidateCache_DropsStaleFile(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("c.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankCreate, 0), macroDecl("M", "3", 1)})
	r.ReindexFile("a.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 0), macroDecl("M", "1", 1)})
	r.ReindexFile("b.gml", []fact.Fact{assign("obj_a", "x", true, fact.RankBeginStep, 0)})

	loc, _ := r.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.Equal(t, "c.gml", loc.URI)

	snap := r.Snapshot()
	delete(snap.URIRecords, "c.gml")
	delete(snap.PerFileHash, "c.gml")

	back := New()
	back.Restore(snap)
	rep := back.ValidateCache()
	assert.Equal(t, 2, rep.StaleSlots)
	assert.Equal(t, 2, rep.Reelected)

	refs := back.AllReferences(SymbolInstanceVar, "obj_a", "x")
	assert.Equal(t, map[string]int{"a.gml": 1, "b.gml": 1}, uriSet(refs))
	loc, ok := back.OriginLocation(SymbolInstanceVar, "obj_a", "x")
	require.True(t, ok)
	assert.Equal(t, "b.gml", loc.URI)

	v, ok := back.MacroValue("M")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	// Indexing after repair works against the repaired state.
	back.ReindexFile("a.gml", nil)
	back.ReindexFile("b.gml", nil)
	assert.False(t, back.InstanceVariableExists("obj_a", "x"))
}

func TestValidateCache_DeletesFullyStaleEntity(t *testing.T) {
	t.Parallel()

	r := New()
	for _, uri := range []string{"a.gml", "b.gml", "c.gml"} {
		r.ReindexFile(uri, []fact.Fact{assign("obj_a", "x", true, fact.RankStep, 0)})
	}
	r.ReindexFile("d.gml", []fact.Fact{macroDecl("KEEP", "1", 0)})

	snap := r.Snapshot()
	for _, uri := range []string{"a.gml", "b.gml", "c.gml"} {
		delete(snap.URIRecords, uri)
	}

	back := New()
	back.Restore(snap)
	rep := back.ValidateCache()
	assert.Equal(t, 3, rep.StaleSlots)
	assert.False(t, back.InstanceVariableExists("obj_a", "x"))
	assert.False(t, back.ObjectExists("obj_a"))
	assert.True(t, back.MacroExists("KEEP"))
}

func TestValidateCache_DropsDanglingContributions(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", []fact.Fact{macroDecl("FOO", "1", 0)})
	snap := r.Snapshot()
	snap.URIRecords["a.gml"].Macros = append(snap.URIRecords["a.gml"].Macros,
		Contribution{Key: "FOO", Slot: 42},
		Contribution{Key: "MISSING", Slot: 0},
	)

	back := New()
	back.Restore(snap)
	rep := back.ValidateCache()
	assert.Equal(t, 2, rep.DanglingContributions)
	assert.True(t, back.MacroExists("FOO"))

	back.ReindexFile("a.gml", nil)
	assert.False(t, back.MacroExists("FOO"))
}

func TestRestore_Nil(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	r.Restore(nil)
	assert.Equal(t, Stats{}, r.Stats())
}

// ===========================================================================
// Position queries
// ===========================================================================

func TestURIsMentioning(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("objects/obj_player/Create_0.gml", []fact.Fact{
		fact.InstanceVarRef{Span: at(0, 0, 9), Object: "obj_player", Name: "TOP_SPEED", IsSelf: true},
	})
	r.ReindexFile("b.gml", []fact.Fact{fact.EnumMemberRef{Span: at(0, 0, 3), Enum: "Color", Member: "Red"}})
	r.ReindexFile("c.gml", []fact.Fact{call("scr_a", 0)})

	assert.Equal(t, []string{"objects/obj_player/Create_0.gml"}, r.URIsMentioning([]string{"TOP_SPEED"}))
	assert.Equal(t, []string{"b.gml", "c.gml"}, r.URIsMentioning([]string{"Color", "scr_a"}))
	assert.Empty(t, r.URIsMentioning([]string{"obj_player"}), "the object an event runs in is not a use of its name")
}

func TestGlobalNames(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterBuiltin(Signature{Name: "draw_text"})
	r.AddResource(Resource{Name: "spr_a", Kind: ResourceSprite})
	r.ReindexFile("a.gml", sampleFacts())
	r.ReindexFile("b.gml", []fact.Fact{fact.MacroRef{Span: at(0, 0, 4), Name: "UNDECLARED"}, call("scr_missing", 1)})

	names := r.GlobalNames()
	for _, n := range []GlobalName{
		{Kind: "macro", Name: "MAX_HP"},
		{Kind: "enum", Name: "Color"},
		{Kind: "callable", Name: "heal"},
		{Kind: "callable", Name: "draw_text"},
		{Kind: "object", Name: "obj_player"},
		{Kind: "resource", Name: "spr_a"},
	} {
		assert.True(t, names[n], n.Kind+" "+n.Name)
	}
	assert.False(t, names[GlobalName{Kind: "macro", Name: "UNDECLARED"}])
	assert.False(t, names[GlobalName{Kind: "callable", Name: "scr_missing"}])
	assert.False(t, names[GlobalName{Kind: "callable", Name: "show_debug_message"}], "unregistered calls are not names")
}

func TestSymbolAt(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())

	sym, ok := r.SymbolAt("a.gml", textpos.Position{Line: 9, Character: 3})
	require.True(t, ok)
	assert.Equal(t, Symbol{Kind: SymbolCallable, Key: "show_debug_message"}, sym)

	sym, ok = r.SymbolAt("a.gml", textpos.Position{Line: 6, Character: 6})
	require.True(t, ok)
	assert.Equal(t, Symbol{Kind: SymbolLocal, Key: "a.gml", Sub: "hp"}, sym)

	loc, ok := r.OriginLocation(sym.Kind, sym.Key, sym.Sub)
	require.True(t, ok)
	assert.Equal(t, 6, loc.Range.Start.Line)

	_, ok = r.SymbolAt("a.gml", textpos.Position{Line: 40, Character: 0})
	assert.False(t, ok)
	_, ok = r.SymbolAt("nope.gml", textpos.Position{})
	assert.False(t, ok)
}

func TestSelfObjectAt(t *testing.T) {
	t.Parallel()

	r := New(WithContextResolver(ContextFunc(func(uri string) (fact.Context, bool) {
		if uri == "objects/obj_a/Step_0.gml" {
			return fact.Context{Object: "obj_a", Rank: fact.RankStep, IsSelfDefault: true}, true
		}
		return fact.Context{}, false
	})))
	outer := textpos.Range{Start: textpos.Position{Line: 2}, End: textpos.Position{Line: 10}}
	inner := textpos.Range{Start: textpos.Position{Line: 4}, End: textpos.Position{Line: 6}}
	r.ReindexFile("objects/obj_a/Step_0.gml", []fact.Fact{
		fact.SelfScope{Span: fact.At(outer), Object: "obj_b"},
		fact.SelfScope{Span: fact.At(inner), Object: "obj_c"},
	})

	obj, ok := r.SelfObjectAt("objects/obj_a/Step_0.gml", textpos.Position{Line: 5})
	require.True(t, ok)
	assert.Equal(t, "obj_c", obj)

	obj, _ = r.SelfObjectAt("objects/obj_a/Step_0.gml", textpos.Position{Line: 8})
	assert.Equal(t, "obj_b", obj)

	obj, _ = r.SelfObjectAt("objects/obj_a/Step_0.gml", textpos.Position{Line: 20})
	assert.Equal(t, "obj_a", obj)

	_, ok = r.SelfObjectAt("scripts/x/x.gml", textpos.Position{})
	assert.False(t, ok)
}

func TestListings(t *testing.T) {
	t.Parallel()

	r := New()
	r.ReindexFile("a.gml", sampleFacts())
	r.AddResource(Resource{Name: "spr_player", Kind: ResourceSprite})
	r.AddResource(Resource{Name: "obj_wall", Kind: ResourceObject})

	assert.Equal(t, []string{"obj_player", "obj_wall"}, r.ListObjects())
	assert.Equal(t, []string{"heal"}, r.ListScriptsAndFunctions())
	assert.Equal(t, []string{"Color"}, r.ListEnums())
	assert.Equal(t, []string{"Blue", "Red"}, r.ListEnumMembers("Color"))
	assert.Empty(t, r.ListEnumMembers("Nope"))
	assert.Equal(t, []string{"MAX_HP"}, r.ListMacros())
	assert.Equal(t, []string{"spr_player"}, r.ListResourcesOfType(ResourceSprite))
	assert.Equal(t, []string{"hp"}, r.ListInstanceVariables("obj_player"))
	assert.Equal(t, []string{"heal"}, r.CompletionCandidates("h"))
	assert.Equal(t, []string{"MAX_HP"}, r.CompletionCandidates("max"))
}

func TestParseKinds(t *testing.T) {
	for in, want := range map[string]SymbolKind{
		"callable":     SymbolCallable,
		"script":       SymbolCallable,
		"var":          SymbolInstanceVar,
		"instance_var": SymbolInstanceVar,
		"enum_member":  SymbolEnumMember,
		"local":        SymbolLocal,
	} {
		got, err := ParseSymbolKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSymbolKind("widget")
	assert.Error(t, err)

	k, err := ParseResourceKind("rooms")
	require.NoError(t, err)
	assert.Equal(t, ResourceRoom, k)
	assert.Equal(t, "rooms", k.Dir())
	_, err = ParseResourceKind("widgets")
	assert.Error(t, err)
}
