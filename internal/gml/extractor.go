// Package gml turns GameMaker Language source into facts and knows the
// GameMaker Studio project layout: which folder holds which resource, which
// object event a file implements, and which builtin functions exist.
package gml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/reference"
	"github.com/jward/gmlindex/internal/textpos"
)

// Resolver answers questions about names declared in other files. A
// *reference.Reference satisfies it.
type Resolver interface {
	ObjectExists(name string) bool
	MacroExists(name string) bool
	EnumExists(name string) bool
	CallableExists(name string) bool
	ResourceExists(name string) bool
}

// Options carries what the extractor needs to know about the file beyond
// its text.
type Options struct {
	// Context is the object and event the file belongs to.
	Context fact.Context
	// Resolver looks up names declared elsewhere; nil means none are known.
	Resolver Resolver
	// ScriptName is the script asset the file implements, if any. A script
	// without a top-level function of that name is a legacy script and gets
	// an implicit declaration.
	ScriptName string
}

// Extractor produces facts from GML source. It is safe for concurrent use.
type Extractor struct {
	builtins *Builtins
}

// NewExtractor returns an Extractor that knows the given builtins. A nil
// catalog means DefaultBuiltins.
func NewExtractor(b *Builtins) *Extractor {
	if b == nil {
		b = DefaultBuiltins()
	}
	return &Extractor{builtins: b}
}

// Extract returns every fact found in src. It never fails: syntax problems
// are reported in Result.Errors next to whatever facts could be salvaged.
func (x *Extractor) Extract(src string, opts Options) fact.Result {
	toks, lexErrs := Lex(src)
	e := &extraction{
		src:    src,
		toks:   toks,
		ix:     textpos.NewLineIndex(src),
		opts:   opts,
		b:      x.builtins,
		locals: map[string]bool{},
		macros: map[string]bool{},
		enums:  map[string]bool{},
		funcs:  map[string]bool{},
		argMax: -1,
	}
	for _, le := range lexErrs {
		e.errorAt(le.Start, le.End, le.Message)
	}
	e.prescan()
	e.run()
	e.finish()
	return e.res
}

type braceKind int

const (
	braceBlock braceKind = iota
	braceFunction
	braceWith
)

type brace struct {
	start int
	kind  braceKind
}

type paren struct {
	start   int
	open    string
	keyword string
}

type selfFrame struct {
	object string
	start  int
}

type extraction struct {
	src  string
	toks []Token
	ix   *textpos.LineIndex
	opts Options
	b    *Builtins
	res  fact.Result

	// Names declared in this file; locals are added as they are declared.
	locals map[string]bool
	macros map[string]bool
	enums  map[string]bool
	funcs  map[string]bool

	braces  []brace
	parens  []paren
	regions []Token
	selves  []selfFrame

	// controlClose marks ')' tokens that close the condition of a control
	// statement, so the next token starts a statement.
	controlClose map[int]bool

	nextParenKeyword string
	pendingFunction  bool
	pendingWith      *string

	inVar     bool
	varExpect bool
	varDepth  int
	varGlobal bool
	docLines  []string
	argMax    int
}

// --- helpers ---

func (e *extraction) span(t Token) fact.Span {
	return fact.At(e.ix.RangeOf(t.Start, t.End))
}

func (e *extraction) emit(f fact.Fact) {
	e.res.Facts = append(e.res.Facts, f)
}

func (e *extraction) errorAt(start, end int, msg string) {
	e.res.Errors = append(e.res.Errors, fact.ParseError{Range: e.ix.RangeOf(start, end), Message: msg})
}

func (e *extraction) tok(i int) Token {
	if i < 0 || i >= len(e.toks) {
		return Token{Kind: TokEOF, Start: len(e.src), End: len(e.src)}
	}
	return e.toks[i]
}

func (e *extraction) isPunct(i int, text string) bool {
	t := e.tok(i)
	return t.Kind == TokPunct && t.Text == text
}

// prev returns the index of the nearest preceding token that is not a doc
// comment, or -1.
func (e *extraction) prev(i int) int {
	for j := i - 1; j >= 0; j-- {
		if e.toks[j].Kind != TokDoc {
			return j
		}
	}
	return -1
}

func (e *extraction) depth() int { return len(e.braces) + len(e.parens) }

// endsExpression reports whether t can be the last token of an expression.
func endsExpression(t Token) bool {
	switch t.Kind {
	case TokIdent, TokNumber, TokString:
		return true
	case TokKeyword:
		switch t.Text {
		case "true", "false", "self", "other", "global", "all", "noone", "undefined",
			"infinity", "NaN", "pi", "exit", "break", "continue", "return":
			return true
		}
	case TokPunct:
		return t.Text == ")" || t.Text == "]" || t.Text == "++" || t.Text == "--"
	}
	return false
}

// atStatementStart reports whether token i begins a statement.
func (e *extraction) atStatementStart(i int) bool {
	j := e.prev(i)
	if j < 0 {
		return true
	}
	p := e.toks[j]
	switch p.Kind {
	case TokPunct:
		switch p.Text {
		case ";", "{", "}", ":":
			return true
		case ")":
			if e.controlClose[j] {
				return true
			}
		case "(":
			// The init clause of a for loop.
			if n := len(e.parens); n > 0 && e.parens[n-1].keyword == "for" && e.parens[n-1].start == p.Start {
				return true
			}
		}
	case TokKeyword:
		switch p.Text {
		case "else", "do", "then", "begin", "end", "try", "finally":
			return true
		}
	case TokDirective:
		return true
	}
	return e.toks[i].NewLine && endsExpression(p)
}

// isAssignment reports whether token i, the target of a possible
// assignment that starts at token base, is followed by a plain "=".
// Compound assignments and increments count as reads.
func (e *extraction) isAssignment(base, i int) bool {
	return e.isPunct(i+1, "=") && e.atStatementStart(base)
}

func (e *extraction) selfObject() string {
	if n := len(e.selves); n > 0 {
		return e.selves[n-1].object
	}
	return e.opts.Context.Object
}

func (e *extraction) resolver() Resolver {
	if e.opts.Resolver == nil {
		return noResolver{}
	}
	return e.opts.Resolver
}

type noResolver struct{}

func (noResolver) ObjectExists(string) bool   { return false }
func (noResolver) MacroExists(string) bool    { return false }
func (noResolver) EnumExists(string) bool     { return false }
func (noResolver) CallableExists(string) bool { return false }
func (noResolver) ResourceExists(string) bool { return false }

// --- passes ---

// prescan records the file's own global declarations so uses that come
// before them still resolve.
func (e *extraction) prescan() {
	for i, t := range e.toks {
		switch {
		case t.Kind == TokDirective && t.Text == "macro":
			if name, _, _ := splitMacro(t.Value); name != "" {
				e.macros[name] = true
			}
		case t.Kind == TokKeyword && t.Text == "enum":
			if n := e.tok(i + 1); n.Kind == TokIdent {
				e.enums[n.Text] = true
			}
		case t.Kind == TokKeyword && t.Text == "function":
			if n := e.tok(i + 1); n.Kind == TokIdent && e.isPunct(i+2, "(") {
				e.funcs[n.Text] = true
			}
		}
	}
}

func (e *extraction) run() {
	e.controlClose = map[int]bool{}
	for i := 0; i < len(e.toks); i++ {
		t := e.toks[i]
		switch t.Kind {
		case TokEOF:
			return
		case TokDoc:
			e.docLines = append(e.docLines, t.Text)
			continue
		case TokDirective:
			e.directive(t)
		case TokKeyword:
			i = e.keyword(i)
		case TokPunct:
			e.punct(i)
		case TokIdent:
			i = e.ident(i)
		default:
			e.endVarOnNewStatement(i)
		}
		if t.Kind != TokKeyword || t.Text != "function" {
			e.docLines = nil
		}
	}
}

func (e *extraction) finish() {
	for _, b := range e.braces {
		e.errorAt(b.start, b.start+1, "unclosed '{'")
	}
	for _, p := range e.parens {
		e.errorAt(p.start, p.start+1, fmt.Sprintf("unclosed '%s'", p.open))
	}
	for _, r := range e.regions {
		e.errorAt(r.Start, r.End, "#region without #endregion")
	}

	name := e.opts.ScriptName
	if name == "" || e.funcs[name] {
		return
	}
	decl := fact.FunctionDecl{Span: fact.At(textpos.Range{}), Name: name}
	for n := 0; n <= e.argMax; n++ {
		decl.Params = append(decl.Params, fact.Param{Name: "argument" + strconv.Itoa(n)})
	}
	e.emit(decl)
}

// --- directives ---

func (e *extraction) directive(t Token) {
	switch t.Text {
	case "macro":
		name, value, off := splitMacro(t.Value)
		if name == "" {
			e.errorAt(t.Start, t.End, "#macro without a name")
			return
		}
		// Locate the name inside the directive line for an exact range.
		line := e.src[t.Start:t.End]
		at := strings.Index(line[len("#macro"):], t.Value[:off+len(name)])
		start := t.Start
		if at >= 0 {
			start = t.Start + len("#macro") + at + off
		}
		e.emit(fact.MacroDecl{Span: fact.At(e.ix.RangeOf(start, start+len(name))), Name: name, Value: value})
	case "region":
		e.regions = append(e.regions, t)
	case "endregion":
		n := len(e.regions)
		if n == 0 {
			e.errorAt(t.Start, t.End, "#endregion without #region")
			return
		}
		open := e.regions[n-1]
		e.regions = e.regions[:n-1]
		e.emit(fact.FoldRange{Span: fact.At(e.ix.RangeOf(open.Start, t.End)), Region: true})
	}
}

// splitMacro parses the body of a #macro line: "NAME value" or
// "Config:NAME value". It returns the name, the replacement text and the
// byte offset of the name within body.
func splitMacro(body string) (name, value string, off int) {
	end := 0
	for end < len(body) && (isIdentPart(body[end]) || body[end] == ':') {
		end++
	}
	head := body[:end]
	if i := strings.LastIndexByte(head, ':'); i >= 0 {
		off = i + 1
	}
	name = head[off:]
	if name == "" || isDigit(name[0]) {
		return "", "", 0
	}
	return name, strings.TrimSpace(body[end:]), off
}

// --- keywords ---

func (e *extraction) keyword(i int) int {
	t := e.toks[i]
	e.endVarOnNewStatement(i)
	switch t.Text {
	case "var", "static":
		e.startVar(false)
	case "globalvar":
		e.startVar(true)
	case "enum":
		return e.enumDecl(i)
	case "function":
		return e.function(i)
	case "with":
		e.with(i)
	case "if", "while", "for", "repeat", "switch", "until", "catch":
		e.nextParenKeyword = t.Text
	case "self":
		return e.selfAccess(i)
	case "global":
		return e.globalAccess(i)
	case "other":
		if e.isPunct(i+1, ".") && e.tok(i+2).Kind == TokIdent {
			return i + 2
		}
	}
	return i
}

func (e *extraction) startVar(global bool) {
	e.inVar = true
	e.varExpect = true
	e.varDepth = e.depth()
	e.varGlobal = global
}

// endVarOnNewStatement leaves var mode when token i starts a new statement
// on a later line.
func (e *extraction) endVarOnNewStatement(i int) {
	if !e.inVar || e.varExpect || e.depth() != e.varDepth {
		return
	}
	t := e.toks[i]
	if j := e.prev(i); t.NewLine && j >= 0 && endsExpression(e.toks[j]) && t.Kind != TokPunct {
		e.inVar = false
	}
}

func (e *extraction) enumDecl(i int) int {
	name := e.tok(i + 1)
	if name.Kind != TokIdent || !e.isPunct(i+2, "{") {
		e.errorAt(e.toks[i].Start, e.toks[i].End, "malformed enum declaration")
		return i
	}
	e.emit(fact.EnumDecl{Span: e.span(name), Name: name.Text})

	open := e.tok(i + 2)
	j := i + 3
	next, known := int64(0), true
	base, offset := "", int64(0)
	for {
		t := e.tok(j)
		if t.Kind == TokEOF {
			e.errorAt(open.Start, open.End, "unclosed enum body")
			return j - 1
		}
		if t.Kind == TokPunct && t.Text == "}" {
			if e.ix.PositionOf(open.Start).Line != e.ix.PositionOf(t.Start).Line {
				e.emit(fact.FoldRange{Span: fact.At(e.ix.RangeOf(open.Start, t.End))})
			}
			return j
		}
		if t.Kind != TokIdent {
			j++
			continue
		}

		member := t
		j++
		var value string
		if e.isPunct(j, "=") {
			j++
			exprStart, exprEnd := -1, -1
			depth := 0
			for {
				v := e.tok(j)
				if v.Kind == TokEOF || depth == 0 && v.Kind == TokPunct && (v.Text == "," || v.Text == "}") {
					break
				}
				if v.Kind == TokPunct {
					switch v.Text {
					case "(", "[":
						depth++
					case ")", "]":
						depth--
					}
				}
				if exprStart < 0 {
					exprStart = v.Start
				}
				exprEnd = v.End
				j++
			}
			raw := ""
			if exprStart >= 0 {
				raw = strings.TrimSpace(e.src[exprStart:exprEnd])
			}
			if n, ok := parseInt(raw); ok {
				next, known = n, true
				value = strconv.FormatInt(n, 10)
			} else {
				known = false
				base, offset = raw, 0
				value = raw
			}
		} else if known {
			value = strconv.FormatInt(next, 10)
		} else {
			value = fmt.Sprintf("%s + %d", base, offset)
		}
		e.emit(fact.EnumMemberDecl{Span: e.span(member), Enum: name.Text, Member: member.Text, Value: value})
		next++
		offset++
	}
}

// parseInt accepts the integer literal forms GML allows in enum values.
func parseInt(s string) (int64, bool) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	if strings.HasPrefix(s, "$") {
		s = "0x" + s[1:]
	}
	s = strings.ReplaceAll(s, "_", "")
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// function handles both named declarations and function literals.
func (e *extraction) function(i int) int {
	doc := e.docLines
	e.docLines = nil
	j := i + 1
	name := e.tok(j)
	named := name.Kind == TokIdent && e.isPunct(j+1, "(")
	if named {
		j++
	}
	if !e.isPunct(j, "(") {
		e.errorAt(e.toks[i].Start, e.toks[i].End, "expected '(' after function")
		return i
	}

	params, end := e.params(j)
	if named {
		switch {
		case e.opts.Context.Object == "" && len(e.braces) == 0:
			e.emit(fact.FunctionDecl{Span: e.span(name), Name: name.Text, Params: params, Description: describe(doc)})
		case e.opts.Context.Object != "" && len(e.braces) == 0:
			// A named function in an event is a method on the instance.
			e.emit(fact.InstanceVarAssign{Span: e.span(name), Object: e.opts.Context.Object, Name: name.Text, IsSelf: true, Rank: e.opts.Context.Rank})
		default:
			e.locals[name.Text] = true
			e.emit(fact.LocalVarDecl{Span: e.span(name), Name: name.Text})
		}
	}
	e.pendingFunction = true
	return end
}

// params reads a parameter list starting at the '(' at index open and
// returns the parameters and the index of the closing ')'. Parameters are
// declared as locals.
func (e *extraction) params(open int) ([]fact.Param, int) {
	var params []fact.Param
	j := open + 1
	expectName := true
	depth := 0
	for {
		t := e.tok(j)
		switch {
		case t.Kind == TokEOF:
			e.errorAt(e.toks[open].Start, e.toks[open].End, "unclosed parameter list")
			return params, j - 1
		case t.Kind == TokPunct && (t.Text == "(" || t.Text == "[" || t.Text == "{"):
			depth++
		case t.Kind == TokPunct && (t.Text == "]" || t.Text == "}"):
			depth--
		case t.Kind == TokPunct && t.Text == ")":
			if depth == 0 {
				return params, j
			}
			depth--
		case depth == 0 && t.Kind == TokPunct && t.Text == ",":
			expectName = true
		case depth == 0 && expectName && t.Kind == TokIdent:
			params = append(params, fact.Param{Name: t.Text, Optional: e.isPunct(j+1, "=")})
			e.locals[t.Text] = true
			e.emit(fact.LocalVarDecl{Span: e.span(t), Name: t.Text})
			expectName = false
		}
		j++
	}
}

// describe pulls a description out of "///" doc lines: the text after
// @description or @desc, else the first line that is not a tag.
func describe(lines []string) string {
	for _, l := range lines {
		for _, tag := range []string{"@description", "@desc"} {
			if rest, ok := strings.CutPrefix(l, tag); ok {
				return strings.TrimSpace(rest)
			}
		}
	}
	for _, l := range lines {
		if l != "" && !strings.HasPrefix(l, "@") {
			return l
		}
	}
	return ""
}

// with records the object a following block runs as.
func (e *extraction) with(i int) {
	e.nextParenKeyword = "with"
	object := ""
	if e.isPunct(i+1, "(") && e.isPunct(i+3, ")") {
		target := e.tok(i + 2)
		switch {
		case target.Kind == TokKeyword && target.Text == "self":
			object = e.selfObject()
		case target.Kind == TokIdent && e.resolver().ObjectExists(target.Text):
			object = target.Text
		}
	}
	e.pendingWith = &object
}

// selfAccess handles "self.name".
func (e *extraction) selfAccess(i int) int {
	member := e.tok(i + 2)
	if !e.isPunct(i+1, ".") || member.Kind != TokIdent {
		return i
	}
	obj := e.selfObject()
	if obj != "" {
		e.instanceVar(i, i+2, obj, member, obj == e.opts.Context.Object)
	}
	return i + 2
}

// globalAccess handles "global.name".
func (e *extraction) globalAccess(i int) int {
	member := e.tok(i + 2)
	if !e.isPunct(i+1, ".") || member.Kind != TokIdent {
		return i
	}
	e.instanceVar(i, i+2, reference.GlobalObject, member, true)
	return i + 2
}

// instanceVar emits an assignment or a read of object.name for the token at
// index at, whose expression starts at base.
func (e *extraction) instanceVar(base, at int, object string, name Token, self bool) {
	if e.isAssignment(base, at) {
		e.emit(fact.InstanceVarAssign{Span: e.span(name), Object: object, Name: name.Text, IsSelf: self, Rank: e.opts.Context.Rank})
		return
	}
	e.emit(fact.InstanceVarRef{Span: e.span(name), Object: object, Name: name.Text, IsSelf: self})
}

// --- punctuation ---

func (e *extraction) punct(i int) {
	t := e.toks[i]
	switch t.Text {
	case "{":
		kind := braceBlock
		switch {
		case e.pendingFunction:
			kind = braceFunction
		case e.pendingWith != nil:
			kind = braceWith
			e.selves = append(e.selves, selfFrame{object: *e.pendingWith, start: t.Start})
		}
		e.pendingFunction = false
		e.pendingWith = nil
		e.braces = append(e.braces, brace{start: t.Start, kind: kind})
	case "}":
		n := len(e.braces)
		if n == 0 {
			e.errorAt(t.Start, t.End, "unmatched '}'")
			return
		}
		b := e.braces[n-1]
		e.braces = e.braces[:n-1]
		if e.inVar && e.depth() < e.varDepth {
			e.inVar = false
		}
		rng := e.ix.RangeOf(b.start, t.End)
		if rng.Lines() > 1 {
			e.emit(fact.FoldRange{Span: fact.At(rng)})
		}
		if b.kind == braceWith {
			s := e.selves[len(e.selves)-1]
			e.selves = e.selves[:len(e.selves)-1]
			if s.object != "" {
				e.emit(fact.SelfScope{Span: fact.At(rng), Object: s.object})
			}
		}
	case "(", "[":
		e.parens = append(e.parens, paren{start: t.Start, open: t.Text, keyword: e.nextParenKeyword})
		e.nextParenKeyword = ""
	case ")", "]":
		n := len(e.parens)
		if n == 0 {
			e.errorAt(t.Start, t.End, fmt.Sprintf("unmatched '%s'", t.Text))
			return
		}
		p := e.parens[n-1]
		e.parens = e.parens[:n-1]
		if p.keyword != "" && t.Text == ")" {
			e.controlClose[i] = true
		}
	case ";":
		if e.inVar && e.depth() == e.varDepth {
			e.inVar = false
		}
		// A with statement whose body is a single statement has ended.
		e.pendingWith = nil
	case ",":
		if e.inVar && e.depth() == e.varDepth {
			e.varExpect = true
		}
	}
}

// --- identifiers ---

func (e *extraction) ident(i int) int {
	t := e.toks[i]

	if e.inVar && e.varExpect && e.depth() == e.varDepth {
		e.varExpect = false
		if e.varGlobal {
			e.emit(fact.InstanceVarAssign{Span: e.span(t), Object: reference.GlobalObject, Name: t.Text, IsSelf: true, Rank: e.opts.Context.Rank})
			return i
		}
		e.locals[t.Text] = true
		e.emit(fact.LocalVarDecl{Span: e.span(t), Name: t.Text})
		return i
	}
	e.endVarOnNewStatement(i)

	if e.isPunct(e.prev(i), ".") {
		return i
	}
	name := t.Text

	if e.locals[name] {
		e.emit(fact.LocalVarRef{Span: e.span(t), Name: name})
		return i
	}
	if n, ok := argumentIndex(name); ok {
		if n > e.argMax {
			e.argMax = n
		}
		return i
	}
	if e.isPunct(i+1, "(") {
		e.emit(fact.CallReference{Span: e.span(t), Callee: name})
		return i
	}

	res := e.resolver()
	if member := e.tok(i + 2); e.isPunct(i+1, ".") && member.Kind == TokIdent {
		switch {
		case e.enums[name] || res.EnumExists(name):
			e.emit(fact.EnumRef{Span: e.span(t), Name: name})
			e.emit(fact.EnumMemberRef{Span: e.span(member), Enum: name, Member: member.Text})
			return i + 2
		case res.ObjectExists(name):
			e.instanceVar(i, i+2, name, member, name == e.opts.Context.Object)
			return i + 2
		}
	}

	switch {
	case e.macros[name] || res.MacroExists(name):
		e.emit(fact.MacroRef{Span: e.span(t), Name: name})
		return i
	case e.funcs[name] || res.CallableExists(name):
		e.emit(fact.CallReference{Span: e.span(t), Callee: name})
		return i
	case e.b.IsVariable(name) || e.b.IsConstant(name) || res.ResourceExists(name) || res.ObjectExists(name):
		return i
	case e.isPunct(i+1, ":"):
		// Struct literal key or label.
		return i
	}

	if obj := e.selfObject(); obj != "" {
		e.instanceVar(i, i, obj, t, obj == e.opts.Context.Object)
	}
	return i
}

// argumentIndex recognises the legacy argument0..argument15 variables.
func argumentIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "argument")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n > 15 {
		return 0, false
	}
	return n, true
}
