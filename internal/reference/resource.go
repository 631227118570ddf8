package reference

import "fmt"

// ResourceKind is the closed set of project asset kinds.
type ResourceKind int

const (
	ResourceObject ResourceKind = iota
	ResourceScript
	ResourceSprite
	ResourceSound
	ResourceRoom
	ResourcePath
	ResourceFont
	ResourceTimeline
	ResourceShader
	ResourceExtension
	ResourceNote
	ResourceSequence
	ResourceTileSet
	ResourceAnimationCurve
	ResourceInclude
)

var resourceKindNames = [...]string{
	"object", "script", "sprite", "sound", "room", "path", "font", "timeline",
	"shader", "extension", "note", "sequence", "tileset", "animcurve", "include",
}

// resourceDirs maps the GameMaker project folder of each kind.
var resourceDirs = [...]string{
	"objects", "scripts", "sprites", "sounds", "rooms", "paths", "fonts", "timelines",
	"shaders", "extensions", "notes", "sequences", "tilesets", "animcurves", "datafiles",
}

func (k ResourceKind) String() string {
	if k < 0 || int(k) >= len(resourceKindNames) {
		return fmt.Sprintf("resource(%d)", int(k))
	}
	return resourceKindNames[k]
}

// Dir returns the project folder resources of this kind live under.
func (k ResourceKind) Dir() string {
	if k < 0 || int(k) >= len(resourceDirs) {
		return ""
	}
	return resourceDirs[k]
}

// ParseResourceKind accepts kind names ("object") and the project folder
// names ("objects").
func ParseResourceKind(s string) (ResourceKind, error) {
	for i := range resourceKindNames {
		if resourceKindNames[i] == s || resourceDirs[i] == s {
			return ResourceKind(i), nil
		}
	}
	return 0, fmt.Errorf("reference: unknown resource kind %q", s)
}

// ResourceKindForDir is ParseResourceKind restricted to folder names.
func ResourceKindForDir(dir string) (ResourceKind, bool) {
	for i, d := range resourceDirs {
		if d == dir {
			return ResourceKind(i), true
		}
	}
	return 0, false
}

func (k ResourceKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ResourceKind) UnmarshalText(b []byte) error {
	v, err := ParseResourceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Resource is one project asset. Files lists the source files that belong to
// it, so deleting the asset can drop their records.
type Resource struct {
	Name  string       `json:"name"`
	Kind  ResourceKind `json:"type"`
	Files []string     `json:"files,omitempty"`
}
