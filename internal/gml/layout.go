package gml

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/gmlindex/internal/fact"
	"github.com/jward/gmlindex/internal/reference"
)

// Layout maps a GameMaker Studio project folder to resources and file
// contexts. URIs are slash-separated paths relative to Root, such as
// "objects/obj_player/Step_0.gml".
type Layout struct {
	Root string
}

// NewLayout returns the layout of the project rooted at root.
func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

// URI converts an absolute or root-relative file path to a URI.
func (l *Layout) URI(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(l.Root, p); err == nil {
			p = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// Path converts a URI back to a file path under Root.
func (l *Layout) Path(uri string) string {
	return filepath.Join(l.Root, filepath.FromSlash(uri))
}

// Manifest returns the path of the project's .yyp file, or "" if none.
func (l *Layout) Manifest() string {
	matches, _ := filepath.Glob(filepath.Join(l.Root, "*.yyp"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// split returns the resource folder, resource name and file name of a URI
// that lives at <folder>/<name>/<file>.
func split(uri string) (dir, name, file string, ok bool) {
	parts := strings.Split(uri, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Context implements reference.ContextResolver. Object event files carry
// their object and event rank; every other .gml file is context-free with
// rank Other.
func (l *Layout) Context(uri string) (fact.Context, bool) {
	if path.Ext(uri) != ".gml" {
		return fact.Context{}, false
	}
	dir, name, file, ok := split(uri)
	if ok && dir == "objects" {
		return fact.Context{Object: name, Rank: EventRank(file), IsSelfDefault: true}, true
	}
	return fact.Context{Rank: fact.RankOther}, true
}

// ScriptName returns the script asset a URI implements, or "".
func (l *Layout) ScriptName(uri string) string {
	dir, name, file, ok := split(uri)
	if !ok || dir != "scripts" || file != name+".gml" {
		return ""
	}
	return name
}

// ResourceOf returns the resource a URI belongs to.
func (l *Layout) ResourceOf(uri string) (string, reference.ResourceKind, bool) {
	dir, name, _, ok := split(uri)
	if !ok {
		return "", 0, false
	}
	kind, ok := reference.ResourceKindForDir(dir)
	return name, kind, ok
}

// EventRank maps an object event file name to its rank: Create_0 is Create,
// Step_1 BeginStep, Step_0 Step, Step_2 EndStep, and everything else Other.
func EventRank(file string) fact.Rank {
	switch strings.TrimSuffix(file, ".gml") {
	case "Create_0":
		return fact.RankCreate
	case "Step_1":
		return fact.RankBeginStep
	case "Step_0":
		return fact.RankStep
	case "Step_2":
		return fact.RankEndStep
	}
	return fact.RankOther
}

// Resources walks the resource folders and returns one resource per
// sub-folder, with the .gml files inside as its Files.
func (l *Layout) Resources() ([]reference.Resource, error) {
	var out []reference.Resource
	for kind := reference.ResourceObject; kind <= reference.ResourceInclude; kind++ {
		if kind == reference.ResourceInclude {
			// Included files are data, not named assets.
			continue
		}
		dir := filepath.Join(l.Root, kind.Dir())
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("gml: read %s: %w", kind.Dir(), err)
		}
		for _, ent := range entries {
			if !ent.IsDir() {
				continue
			}
			res := reference.Resource{Name: ent.Name(), Kind: kind}
			files, err := os.ReadDir(filepath.Join(dir, ent.Name()))
			if err != nil {
				return nil, fmt.Errorf("gml: read %s/%s: %w", kind.Dir(), ent.Name(), err)
			}
			for _, f := range files {
				if !f.IsDir() && strings.HasSuffix(f.Name(), ".gml") {
					res.Files = append(res.Files, path.Join(kind.Dir(), ent.Name(), f.Name()))
				}
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// Extensions loads every extension under extensions/. Extensions whose .yy
// file is missing or unreadable are reported in the error but do not stop
// the others from loading.
func (l *Layout) Extensions() ([]*Extension, error) {
	dir := filepath.Join(l.Root, reference.ResourceExtension.Dir())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gml: read extensions: %w", err)
	}

	var out []*Extension
	var errs []error
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		ext, err := LoadExtension(filepath.Join(dir, ent.Name(), ent.Name()+".yy"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ext.Name == "" {
			ext.Name = ent.Name()
		}
		out = append(out, ext)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("gml: %d extension(s) failed to load: %w", len(errs), errs[0])
	}
	return out, nil
}
