// Package store persists compiled units in SQLite so a restarted process
// can skip rebuilding HIR for code it has already seen.
//
// Rows are keyed by the unit's content hash. The Function is stored in its
// canonical CBOR form alongside the dump text printed at compile time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/mjit/hir"
)

// ErrNotFound indicates no entry exists for the requested unit hash.
var ErrNotFound = errors.New("store: entry not found")

// Entry is one compiled unit.
type Entry struct {
	ID        uuid.UUID
	UnitHash  string
	Name      string
	Function  *hir.Function
	Dump      string
	CodeSize  int
	CreatedAt time.Time
}

// Summary is an Entry without its Function, for listings.
type Summary struct {
	ID        uuid.UUID
	UnitHash  string
	Name      string
	NumBlocks int
	NumInsns  int
	CodeSize  int
	CreatedAt time.Time
}

// Store is a SQLite-backed compiled-unit cache. It is safe for concurrent
// use.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS compiled_units (
	unit_hash  TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	name       TEXT NOT NULL,
	function   BLOB NOT NULL,
	dump       TEXT NOT NULL,
	num_blocks INTEGER NOT NULL,
	num_insns  INTEGER NOT NULL,
	code_size  INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// Open opens (creating if needed) the cache database at path. The
// special path ":memory:" gives a private in-memory cache.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes
	// writers for file databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put saves e, replacing any entry with the same unit hash. A zero ID is
// filled with a fresh one, and a zero CreatedAt with the current time.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	if e.UnitHash == "" {
		return errors.New("store: entry has no unit hash")
	}
	if e.Function == nil {
		return errors.New("store: entry has no function")
	}
	blob, err := hir.MarshalFunction(e.Function)
	if err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO compiled_units
		 (unit_hash, id, name, function, dump, num_blocks, num_insns, code_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UnitHash, e.ID.String(), e.Name, blob, e.Dump,
		e.Function.NumBlocks(), e.Function.NumInsns(), e.CodeSize, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", e.Name, err)
	}
	return nil
}

// Get loads the entry for unitHash.
func (s *Store) Get(ctx context.Context, unitHash string) (*Entry, error) {
	var (
		id      string
		blob    []byte
		created int64
		e       = Entry{UnitHash: unitHash}
	)
	s.mu.Lock()
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, function, dump, code_size, created_at
		 FROM compiled_units WHERE unit_hash = ?`, unitHash,
	).Scan(&id, &e.Name, &blob, &e.Dump, &e.CodeSize, &created)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying %s: %w", unitHash, err)
	}

	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("entry %s: bad id: %w", unitHash, err)
	}
	if e.Function, err = hir.UnmarshalFunction(blob); err != nil {
		return nil, fmt.Errorf("entry %s: %w", unitHash, err)
	}
	e.CreatedAt = time.Unix(0, created)
	return &e, nil
}

// Delete removes the entry for unitHash. Deleting a missing entry returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, unitHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM compiled_units WHERE unit_hash = ?", unitHash)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", unitHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns summaries of every entry, oldest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_hash, id, name, num_blocks, num_insns, code_size, created_at
		 FROM compiled_units ORDER BY created_at, unit_hash`)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			id      string
			created int64
		)
		if err := rows.Scan(&sum.UnitHash, &id, &sum.Name, &sum.NumBlocks, &sum.NumInsns, &sum.CodeSize, &created); err != nil {
			return nil, err
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("entry %s: bad id: %w", sum.UnitHash, err)
		}
		sum.CreatedAt = time.Unix(0, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}
