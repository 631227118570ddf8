package store

import (
	"time"

	"github.com/jward/gmlindex/internal/reference"
)

// Metadata keys.
const (
	KeyVersion      = "version"
	KeyManifestHash = "manifest_hash"
	KeySavedAt      = "saved_at"
)

// Symbol kinds stored in the symbols table.
const (
	KindObject   = "object"
	KindCallable = "callable"
	KindEnum     = "enum"
	KindMacro    = "macro"
)

// Metadata describes a saved snapshot.
type Metadata struct {
	Version      string
	ManifestHash string
	SavedAt      time.Time
}

// File is one row of the files table.
type File struct {
	ID          int64
	URI         string
	Hash        string
	Record      *reference.URIRecord
	LastIndexed time.Time
}

// SymbolRow is one row of the symbols table with its body still encoded.
type SymbolRow struct {
	Kind string
	Name string
	Body string
}
