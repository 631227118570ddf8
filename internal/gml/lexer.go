package gml

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokKeyword
	TokNumber
	TokString
	TokPunct
	// TokDirective is a preprocessor line: #macro, #region or #endregion.
	// Text holds the directive name and Value the rest of the line.
	TokDirective
	// TokDoc is a "///" documentation comment; Text holds the comment body.
	TokDoc
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "eof"
	case TokIdent:
		return "ident"
	case TokKeyword:
		return "keyword"
	case TokNumber:
		return "number"
	case TokString:
		return "string"
	case TokPunct:
		return "punct"
	case TokDirective:
		return "directive"
	case TokDoc:
		return "doc"
	}
	return "unknown"
}

// Token is one lexeme. Start and End are byte offsets into the source.
type Token struct {
	Kind  TokenKind
	Text  string
	Value string
	Start int
	End   int
	// NewLine is set when a line break separates this token from the
	// previous one.
	NewLine bool
}

var keywords = map[string]bool{
	"if": true, "else": true, "while": true, "do": true, "until": true, "for": true,
	"repeat": true, "switch": true, "case": true, "default": true, "break": true,
	"continue": true, "return": true, "exit": true, "with": true, "var": true,
	"globalvar": true, "static": true, "function": true, "enum": true, "new": true,
	"delete": true, "constructor": true, "try": true, "catch": true, "finally": true,
	"throw": true, "begin": true, "end": true, "then": true, "true": true, "false": true,
	"self": true, "other": true, "global": true, "all": true, "noone": true,
	"undefined": true, "and": true, "or": true, "not": true, "xor": true, "div": true,
	"mod": true, "infinity": true, "NaN": true, "pi": true,
}

// IsKeyword reports whether s is a reserved word.
func IsKeyword(s string) bool { return keywords[s] }

// three- and two-character operators, longest first.
var operators = []string{
	"<<=", ">>=", "??=",
	"==", "!=", "<=", ">=", "&&", "||", "^^", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", "++", "--", "<<", ">>", "??", "<>", ":=",
}

// LexError is a lexical problem; lexing continues after it.
type LexError struct {
	Start, End int
	Message    string
}

// Lex splits src into tokens. Comments other than "///" are dropped. Lexing
// never stops early: problems are reported alongside the tokens.
func Lex(src string) ([]Token, []LexError) {
	lx := &lexer{src: src}
	lx.run()
	return lx.toks, lx.errs
}

type lexer struct {
	src     string
	pos     int
	newline bool
	toks    []Token
	errs    []LexError
}

func (lx *lexer) emit(kind TokenKind, start int, text, value string) {
	lx.toks = append(lx.toks, Token{Kind: kind, Text: text, Value: value, Start: start, End: lx.pos, NewLine: lx.newline})
	lx.newline = false
}

func (lx *lexer) errorf(start int, msg string) {
	lx.errs = append(lx.errs, LexError{Start: start, End: lx.pos, Message: msg})
}

func (lx *lexer) peek(off int) byte {
	if lx.pos+off < len(lx.src) {
		return lx.src[lx.pos+off]
	}
	return 0
}

func (lx *lexer) run() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		start := lx.pos
		switch {
		case c == '\n' || c == '\r':
			lx.newline = true
			lx.pos++
		case c == ' ' || c == '\t' || c == '\f' || c == '\v':
			lx.pos++
		case c == '/' && lx.peek(1) == '/':
			lx.lineComment()
		case c == '/' && lx.peek(1) == '*':
			lx.blockComment()
		case c == '#' && isIdentStart(lx.peek(1)) && lx.atLineStart(start):
			lx.directive()
		case c == '"' || c == '\'':
			lx.quoted(c)
		case (c == '@' || c == '$') && (lx.peek(1) == '"' || lx.peek(1) == '\''):
			lx.prefixedString(c)
		case c == '$' && isHex(lx.peek(1)):
			lx.pos++
			for lx.pos < len(lx.src) && isHex(lx.src[lx.pos]) {
				lx.pos++
			}
			lx.emit(TokNumber, start, lx.src[start:lx.pos], "")
		case isDigit(c) || c == '.' && isDigit(lx.peek(1)):
			lx.number()
		case isIdentStart(c) || c >= utf8.RuneSelf:
			lx.ident()
		default:
			lx.punct()
		}
	}
	if n := len(lx.toks); n == 0 || lx.toks[n-1].Kind != TokEOF {
		lx.toks = append(lx.toks, Token{Kind: TokEOF, Start: len(lx.src), End: len(lx.src)})
	}
}

// atLineStart reports whether only whitespace precedes off on its line.
func (lx *lexer) atLineStart(off int) bool {
	for i := off - 1; i >= 0; i-- {
		switch lx.src[i] {
		case ' ', '\t':
			continue
		case '\n', '\r':
			return true
		default:
			return false
		}
	}
	return true
}

func (lx *lexer) lineComment() {
	start := lx.pos
	end := strings.IndexAny(lx.src[start:], "\r\n")
	if end < 0 {
		end = len(lx.src) - start
	}
	lx.pos = start + end
	text := lx.src[start:lx.pos]
	if strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////") {
		lx.emit(TokDoc, start, strings.TrimSpace(text[3:]), "")
	}
}

func (lx *lexer) blockComment() {
	start := lx.pos
	end := strings.Index(lx.src[start+2:], "*/")
	if end < 0 {
		lx.pos = len(lx.src)
		lx.errorf(start, "unterminated block comment")
		return
	}
	body := lx.src[start : start+2+end+2]
	if strings.ContainsAny(body, "\r\n") {
		lx.newline = true
	}
	lx.pos = start + 2 + end + 2
}

// directive lexes "#name rest-of-line", honouring "\" line continuations in
// the rest.
func (lx *lexer) directive() {
	start := lx.pos
	lx.pos++
	nameStart := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
		lx.pos++
	}
	name := lx.src[nameStart:lx.pos]

	var rest strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' && (lx.peek(1) == '\n' || lx.peek(1) == '\r') {
			lx.pos++
			if lx.src[lx.pos] == '\r' && lx.peek(1) == '\n' {
				lx.pos++
			}
			lx.pos++
			rest.WriteByte('\n')
			continue
		}
		if c == '\n' || c == '\r' {
			break
		}
		if c == '/' && lx.peek(1) == '/' {
			// Trailing comment; skip to end of line.
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' && lx.src[lx.pos] != '\r' {
				lx.pos++
			}
			break
		}
		rest.WriteByte(c)
		lx.pos++
	}
	lx.emit(TokDirective, start, name, strings.TrimSpace(rest.String()))
}

func (lx *lexer) quoted(q byte) {
	start := lx.pos
	lx.pos++
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\\':
			lx.pos += 2
			continue
		case c == q:
			lx.pos++
			lx.emit(TokString, start, lx.src[start:lx.pos], "")
			return
		case c == '\n' || c == '\r':
			lx.errorf(start, "unterminated string")
			lx.emit(TokString, start, lx.src[start:lx.pos], "")
			return
		}
		lx.pos++
	}
	lx.pos = len(lx.src)
	lx.errorf(start, "unterminated string")
	lx.emit(TokString, start, lx.src[start:], "")
}

// prefixedString handles @"verbatim" strings, which may span lines, and
// $"template {expr}" strings.
func (lx *lexer) prefixedString(prefix byte) {
	if prefix == '$' {
		lx.pos++
		lx.quoted(lx.src[lx.pos])
		last := &lx.toks[len(lx.toks)-1]
		last.Start--
		last.Text = "$" + last.Text
		return
	}
	start := lx.pos
	q := lx.src[lx.pos+1]
	end := strings.IndexByte(lx.src[start+2:], q)
	if end < 0 {
		lx.pos = len(lx.src)
		lx.errorf(start, "unterminated string")
		lx.emit(TokString, start, lx.src[start:], "")
		return
	}
	lx.pos = start + 2 + end + 1
	lx.emit(TokString, start, lx.src[start:lx.pos], "")
}

func (lx *lexer) number() {
	start := lx.pos
	if lx.src[lx.pos] == '0' && (lx.peek(1) == 'x' || lx.peek(1) == 'X') {
		lx.pos += 2
		for lx.pos < len(lx.src) && isHex(lx.src[lx.pos]) {
			lx.pos++
		}
		lx.emit(TokNumber, start, lx.src[start:lx.pos], "")
		return
	}
	if lx.src[lx.pos] == '0' && (lx.peek(1) == 'b' || lx.peek(1) == 'B') {
		lx.pos += 2
		for lx.pos < len(lx.src) && (lx.src[lx.pos] == '0' || lx.src[lx.pos] == '1') {
			lx.pos++
		}
		lx.emit(TokNumber, start, lx.src[start:lx.pos], "")
		return
	}
	for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '_') {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' && isDigit(lx.peek(1)) {
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		n := 1
		if c := lx.peek(1); c == '+' || c == '-' {
			n = 2
		}
		if isDigit(lx.peek(n)) {
			lx.pos += n
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.pos++
			}
		}
	}
	lx.emit(TokNumber, start, lx.src[start:lx.pos], "")
}

func (lx *lexer) ident() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if isIdentPart(c) {
			lx.pos++
			continue
		}
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				lx.pos += size
				continue
			}
		}
		break
	}
	if lx.pos == start {
		// A stray non-letter rune: consume it as punctuation.
		_, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		lx.pos += size
		lx.emit(TokPunct, start, lx.src[start:lx.pos], "")
		return
	}
	text := lx.src[start:lx.pos]
	kind := TokIdent
	if keywords[text] {
		kind = TokKeyword
	}
	lx.emit(kind, start, text, "")
}

func (lx *lexer) punct() {
	start := lx.pos
	for _, op := range operators {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			lx.emit(TokPunct, start, op, "")
			return
		}
	}
	lx.pos++
	lx.emit(TokPunct, start, lx.src[start:lx.pos], "")
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isHex(c byte) bool        { return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' }
func isIdentStart(c byte) bool { return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }
