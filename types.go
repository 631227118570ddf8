package gmlindex

import (
	"github.com/jward/gmlindex/internal/reference"
	"github.com/jward/gmlindex/internal/textpos"
)

// Public type aliases for the internal types used in the Engine and
// QueryBuilder API. These are Go type aliases (=), identical to the internal
// types at compile time.

type Position = textpos.Position
type Range = textpos.Range
type Location = reference.Location
type Symbol = reference.Symbol
type SymbolKind = reference.SymbolKind
type Signature = reference.Signature
type CallableInfo = reference.CallableInfo
type Resource = reference.Resource
type ResourceKind = reference.ResourceKind
type Stats = reference.Stats
type Diagnostic = reference.Diagnostic
type FoldRange = reference.FoldRange
