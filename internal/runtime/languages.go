package runtime

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".gml": "gml",
	".js":  "javascript",
}

// langToGrammar maps language names to tree-sitter Language objects.
// GML has no tree-sitter grammar of its own; its function, call and
// assignment syntax parses with the JavaScript grammar.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		js := javascript.GetLanguage()
		langToGrammar = map[string]*sitter.Language{
			"gml":        js,
			"javascript": js,
		}
	})
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ParserForLanguage returns the tree-sitter Language for a canonical language
// name. Returns (nil, false) if the language is not supported.
func ParserForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}
