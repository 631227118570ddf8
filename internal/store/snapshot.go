package store

import (
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jward/gmlindex/internal/reference"
)

// SaveSnapshot replaces the stored cache with c in a single transaction.
// Readers of the database never see a half-written snapshot.
//
// Write order:
//  1. metadata (version, manifest hash, save time)
//  2. files (hash + URIRecord per URI)
//  3. symbols (objects, callables, enums, macros)
//  4. resources
func (s *Store) SaveSnapshot(meta Metadata, c *reference.Cache) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if err := clearTx(tx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// 1. Metadata
	for k, v := range map[string]string{
		KeyVersion:      meta.Version,
		KeyManifestHash: meta.ManifestHash,
		KeySavedAt:      meta.SavedAt.UTC().Format(time.RFC3339Nano),
	} {
		if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save snapshot: metadata %s: %w", k, err)
		}
	}

	// 2. Files
	fileStmt, err := tx.Prepare("INSERT INTO files (uri, hash, record, last_indexed) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("save snapshot: prepare files: %w", err)
	}
	defer fileStmt.Close()
	for _, uri := range slices.Sorted(maps.Keys(c.URIRecords)) {
		rec, err := marshalJSON(c.URIRecords[uri])
		if err != nil {
			return fmt.Errorf("save snapshot: record %q: %w", uri, err)
		}
		if _, err := fileStmt.Exec(uri, c.PerFileHash[uri], rec, meta.SavedAt); err != nil {
			return fmt.Errorf("save snapshot: file %q: %w", uri, err)
		}
	}

	// 3. Symbols
	symStmt, err := tx.Prepare("INSERT INTO symbols (kind, name, body) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("save snapshot: prepare symbols: %w", err)
	}
	defer symStmt.Close()
	insert := func(kind, name string, v any) error {
		body, err := marshalJSON(v)
		if err != nil {
			return fmt.Errorf("save snapshot: %s %q: %w", kind, name, err)
		}
		if _, err := symStmt.Exec(kind, name, body); err != nil {
			return fmt.Errorf("save snapshot: %s %q: %w", kind, name, err)
		}
		return nil
	}
	for _, name := range slices.Sorted(maps.Keys(c.Tables.Objects)) {
		if err := insert(KindObject, name, c.Tables.Objects[name]); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Tables.Callables)) {
		if err := insert(KindCallable, name, c.Tables.Callables[name]); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Tables.Enums)) {
		if err := insert(KindEnum, name, c.Tables.Enums[name]); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(c.Tables.Macros)) {
		if err := insert(KindMacro, name, c.Tables.Macros[name]); err != nil {
			return err
		}
	}

	// 4. Resources
	resStmt, err := tx.Prepare("INSERT INTO resources (name, kind, files) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("save snapshot: prepare resources: %w", err)
	}
	defer resStmt.Close()
	for _, res := range c.Tables.Resources {
		files, err := marshalJSON(res.Files)
		if err != nil {
			return fmt.Errorf("save snapshot: resource %q: %w", res.Name, err)
		}
		if _, err := resStmt.Exec(res.Name, res.Kind.String(), files); err != nil {
			return fmt.Errorf("save snapshot: resource %q: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// LoadSnapshot reads the stored cache. It returns (nil, nil, nil) when no
// snapshot has been saved.
func (s *Store) LoadSnapshot() (*Metadata, *reference.Cache, error) {
	version, err := s.GetMetadata(KeyVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version == "" {
		return nil, nil, nil
	}
	meta := &Metadata{Version: version}
	if meta.ManifestHash, err = s.GetMetadata(KeyManifestHash); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	saved, err := s.GetMetadata(KeySavedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if saved != "" {
		if meta.SavedAt, err = time.Parse(time.RFC3339Nano, saved); err != nil {
			return nil, nil, fmt.Errorf("load snapshot: saved_at: %w", err)
		}
	}

	c := &reference.Cache{
		Version:     version,
		PerFileHash: map[string]string{},
		URIRecords:  map[string]*reference.URIRecord{},
		Tables: reference.Tables{
			Objects:   map[string]*reference.Object{},
			Callables: map[string]*reference.Callable{},
			Enums:     map[string]*reference.Enum{},
			Macros:    map[string]*reference.Macro{},
		},
	}
	if err := s.loadFiles(c); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.loadSymbols(c); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.loadResources(c); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	return meta, c, nil
}

func (s *Store) loadFiles(c *reference.Cache) error {
	rows, err := s.db.Query("SELECT uri, hash, record FROM files")
	if err != nil {
		return fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uri, hash, body string
		if err := rows.Scan(&uri, &hash, &body); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		rec := &reference.URIRecord{}
		if err := unmarshalRow("file", uri, body, rec); err != nil {
			return err
		}
		c.PerFileHash[uri] = hash
		c.URIRecords[uri] = rec
	}
	return rows.Err()
}

func (s *Store) loadSymbols(c *reference.Cache) error {
	rows, err := s.Symbols()
	if err != nil {
		return err
	}
	for _, row := range rows {
		var dst any
		switch row.Kind {
		case KindObject:
			o := &reference.Object{}
			c.Tables.Objects[row.Name], dst = o, o
		case KindCallable:
			cl := &reference.Callable{}
			c.Tables.Callables[row.Name], dst = cl, cl
		case KindEnum:
			e := &reference.Enum{}
			c.Tables.Enums[row.Name], dst = e, e
		case KindMacro:
			m := &reference.Macro{}
			c.Tables.Macros[row.Name], dst = m, m
		default:
			return fmt.Errorf("unknown symbol kind %q for %q", row.Kind, row.Name)
		}
		if err := unmarshalRow(row.Kind, row.Name, row.Body, dst); err != nil {
			return err
		}
	}
	return nil
}

// Symbols returns every row of the symbols table ordered by kind and name.
func (s *Store) Symbols() ([]SymbolRow, error) {
	rows, err := s.db.Query("SELECT kind, name, body FROM symbols ORDER BY kind, name")
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var out []SymbolRow
	for rows.Next() {
		var r SymbolRow
		if err := rows.Scan(&r.Kind, &r.Name, &r.Body); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadResources(c *reference.Cache) error {
	rows, err := s.db.Query("SELECT name, kind, files FROM resources ORDER BY name")
	if err != nil {
		return fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, kind, files string
		if err := rows.Scan(&name, &kind, &files); err != nil {
			return fmt.Errorf("scan resource: %w", err)
		}
		k, err := reference.ParseResourceKind(kind)
		if err != nil {
			return err
		}
		res := reference.Resource{Name: name, Kind: k}
		if err := unmarshalRow("resource", name, files, &res.Files); err != nil {
			return err
		}
		c.Tables.Resources = append(c.Tables.Resources, res)
	}
	return rows.Err()
}

// FileByURI returns the stored row for uri, or nil if there is none.
func (s *Store) FileByURI(uri string) (*File, error) {
	f := &File{}
	var body string
	var last sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, uri, hash, record, last_indexed FROM files WHERE uri = ?", uri,
	).Scan(&f.ID, &f.URI, &f.Hash, &body, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by uri: %w", err)
	}
	f.LastIndexed = last.Time
	f.Record = &reference.URIRecord{}
	if err := unmarshalRow("file", uri, body, f.Record); err != nil {
		return nil, err
	}
	f.Record.Hash = f.Hash
	return f, nil
}
