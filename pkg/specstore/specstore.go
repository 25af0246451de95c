// Package specstore implements SpecStore: lookup and storage of technical
// specifications keyed by roadmap item number. It is backed by the same
// kind of embedded SQLite database as the work store, kept as a separate
// schema/file so SpecStore remains swappable independent of WorkStore.
package specstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Spec is a technical specification attached to a roadmap item.
type Spec struct {
	ItemNumber   int
	Content      string
	Hierarchical bool
}

// Store is a SQLite-backed SpecStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the spec store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("specstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS technical_specs (
	item_number   INTEGER PRIMARY KEY,
	content       TEXT NOT NULL,
	spec_type     TEXT NOT NULL DEFAULT 'flat'
);`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("specstore: migrate: %w", err)
	}
	return nil
}

// Find returns the Spec for itemNumber, or nil (with a nil error) if none
// exists. A
// spec written via PutHierarchical sets Hierarchical=true and Content is
// then a JSON object of section-name -> text.
func (s *Store) Find(itemNumber int) (*Spec, error) {
	var content, specType string
	err := s.db.QueryRow(`SELECT content, spec_type FROM technical_specs WHERE item_number = ?`, itemNumber).
		Scan(&content, &specType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("specstore: find: %w", err)
	}
	return &Spec{ItemNumber: itemNumber, Content: content, Hierarchical: specType == "hierarchical"}, nil
}

// workstoreFind adapts Find to workstore.SpecFinder's shape without this
// package importing workstore.
func (s *Store) workstoreFind(itemNumber int) (content string, hierarchical bool, ok bool, err error) {
	spec, err := s.Find(itemNumber)
	if err != nil {
		return "", false, false, err
	}
	if spec == nil {
		return "", false, false, nil
	}
	return spec.Content, spec.Hierarchical, true, nil
}

// AsSpecFinder returns an adapter implementing the
// (content string, hierarchical bool, ok bool, err error) shape that
// workstore.ReadSpecSection expects, via the returned closure.
func (s *Store) AsSpecFinder() SpecFinderFunc {
	return s.workstoreFind
}

// SpecFinderFunc adapts a plain function to workstore.SpecFinder.
type SpecFinderFunc func(itemNumber int) (content string, hierarchical bool, ok bool, err error)

// Find implements workstore.SpecFinder.
func (f SpecFinderFunc) Find(itemNumber int) (string, bool, bool, error) {
	return f(itemNumber)
}

// Put stores content for itemNumber as a flat spec, overwriting any
// previous spec for that item.
func (s *Store) Put(itemNumber int, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO technical_specs (item_number, content, spec_type) VALUES (?, ?, 'flat')
		ON CONFLICT(item_number) DO UPDATE SET content = excluded.content, spec_type = 'flat'`,
		itemNumber, content)
	if err != nil {
		return fmt.Errorf("specstore: put: %w", err)
	}
	return nil
}

// PutHierarchical stores sections as a hierarchical spec, addressable
// section-by-section via ReadSpecSection's scope_description paths.
func (s *Store) PutHierarchical(itemNumber int, sections map[string]string) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("specstore: marshal sections: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO technical_specs (item_number, content, spec_type) VALUES (?, ?, 'hierarchical')
		ON CONFLICT(item_number) DO UPDATE SET content = excluded.content, spec_type = 'hierarchical'`,
		itemNumber, string(data))
	if err != nil {
		return fmt.Errorf("specstore: put hierarchical: %w", err)
	}
	return nil
}
