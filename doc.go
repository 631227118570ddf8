// Package gmlindex builds a cross-file reference index for GameMaker
// Language (GML) projects and answers editor queries against it.
//
// # Pipeline
//
// Indexing a project runs in three phases:
//
//  1. Prepare: files are discovered (git ls-files when available, a
//     directory walk otherwise), filtered by the include and exclude globs
//     of .gmlindex.toml, and skipped when their content hash matches the
//     indexed copy.
//
//  2. Extract: each changed file is lexed and turned into facts (function,
//     macro and enum declarations, instance variable assignments, calls and
//     references). Risor fact scripts, when configured, add their own facts.
//     Files are extracted concurrently.
//
//  3. Commit: facts are applied to the [reference.Reference] tables one file
//     at a time. When the set of declared global names changes, every
//     indexed file that mentions one of the changed names is extracted
//     again, so an incremental update ends where a full rebuild would.
//
// # Usage
//
//	e, err := gmlindex.New("path/to/project")
//	if err != nil { ... }
//	defer e.Close()
//
//	if err := e.Load(ctx); err != nil { ... }
//
//	q := e.Query()
//	loc, ok := q.DefinitionAt("objects/obj_player/Step_0.gml", gmlindex.Position{Line: 3, Character: 4})
//
// [Engine.Load] restores the SQLite cache and re-indexes only what changed
// since it was written. [Engine.Close] saves it again.
//
// # Queries
//
// The [QueryBuilder] returned by [Engine.Query] answers position queries
// ([QueryBuilder.DefinitionAt], [QueryBuilder.ReferencesAt],
// [QueryBuilder.HoverAt]) and name queries ([QueryBuilder.Hover],
// [QueryBuilder.Completion], [QueryBuilder.Suggest]). Lines and columns are
// 0-based; columns count UTF-16 code units.
//
// # Keeping current
//
// Editors push unsaved buffers with [Engine.UpdateFile]. [Engine.Watch]
// follows the project on disk and re-indexes files as they change.
package gmlindex
