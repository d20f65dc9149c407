// Package patterndb compiles ordered pattern sets into Hyperscan block
// databases, caches them per rule file and persists them to disk.
//
// Pattern ids are the positions of the expressions in the compiled set,
// so the id of a match selects the entry of the originating mapping.
// Persisted databases are raw Hyperscan serializations stored as
// <dir>/<identity>.db.
package patterndb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flier/gohs/hyperscan"
)

// ErrNotFound reports that no persisted database exists for an identity.
// It signals a cache miss, not a failure.
var ErrNotFound = errors.New("pattern database not found")

// CompileError reports that a pattern set could not be compiled.
type CompileError struct {
	Identity string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling pattern database %q: %v", e.Identity, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// PersistError reports a failure while saving or loading a persisted
// database. A missing file never produces a PersistError.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("pattern database persistence %q: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Database is a compiled Hyperscan database together with its scratch
// space. Scans clone scratch through a pool, so a Database is safe for
// concurrent use.
type Database struct {
	db          hyperscan.BlockDatabase
	scratch     *hyperscan.Scratch
	scratchPool sync.Pool
}

// Scan matches value against every pattern and returns the ids of the
// patterns that matched. Each pattern reports at most once per scan and
// matching is case-insensitive, both fixed at compile time.
func (d *Database) Scan(value string) ([]int, error) {
	var scratch *hyperscan.Scratch
	if pooled := d.scratchPool.Get(); pooled != nil {
		scratch = pooled.(*hyperscan.Scratch)
	} else {
		var err error
		scratch, err = d.scratch.Clone()
		if err != nil {
			return nil, err
		}
	}

	var matched []int
	err := d.db.Scan([]byte(value), scratch, func(id uint, from, to uint64, flags uint, context any) error {
		matched = append(matched, int(id))
		return nil
	}, nil)

	d.scratchPool.Put(scratch)

	if err != nil {
		return nil, err
	}
	return matched, nil
}

// Close releases the scratch space and the underlying database.
func (d *Database) Close() error {
	if d.scratch != nil {
		if err := d.scratch.Free(); err != nil {
			return err
		}
		d.scratch = nil
	}
	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// Save serializes the database to <dir>/<identity>.db, creating dir if
// needed. The file is written to a temporary sibling first and renamed
// into place so readers never observe a partial database.
func (d *Database) Save(dir, identity string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistError{Path: dir, Err: err}
	}

	data, err := d.db.Marshal()
	if err != nil {
		return &PersistError{Path: databasePath(dir, identity), Err: err}
	}

	tmp, err := os.CreateTemp(dir, identity+"-*.tmp")
	if err != nil {
		return &PersistError{Path: dir, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistError{Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistError{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistError{Path: tmpName, Err: err}
	}

	target := databasePath(dir, identity)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &PersistError{Path: target, Err: err}
	}
	return nil
}

// Compile builds a database from the ordered expressions. Every
// expression is compiled case-insensitive with single-match semantics
// and receives its position as pattern id. An empty set is a
// CompileError, as is any expression the compiler rejects.
func Compile(identity string, expressions []string) (*Database, error) {
	if len(expressions) == 0 {
		return nil, &CompileError{Identity: identity, Err: errors.New("no patterns to compile")}
	}

	patterns := make([]*hyperscan.Pattern, len(expressions))
	for i, expression := range expressions {
		patterns[i] = hyperscan.NewPattern(expression, hyperscan.Caseless|hyperscan.SingleMatch)
		patterns[i].Id = i
	}

	db, err := hyperscan.NewBlockDatabase(patterns...)
	if err != nil {
		return nil, &CompileError{Identity: identity, Err: err}
	}

	scratch, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, &CompileError{Identity: identity, Err: err}
	}

	return &Database{db: db, scratch: scratch}, nil
}

// Load deserializes a persisted database from <dir>/<identity>.db.
// A missing file returns ErrNotFound; any other read or decode failure
// is a PersistError.
func Load(dir, identity string) (*Database, error) {
	target := databasePath(dir, identity)
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
		}
		return nil, &PersistError{Path: target, Err: err}
	}

	db, err := hyperscan.UnmarshalBlockDatabase(data)
	if err != nil {
		return nil, &PersistError{Path: target, Err: err}
	}

	scratch, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, &PersistError{Path: target, Err: err}
	}

	return &Database{db: db, scratch: scratch}, nil
}

// Store caches compiled databases per identity. Each Store owns its
// cache; independent stores never share state.
type Store struct {
	mu        sync.Mutex
	dir       string
	databases map[string]*Database
}

// NewStore creates a Store persisting under dir. An empty dir disables
// loading and saving entirely; every identity is then compiled fresh
// once and served from memory.
func NewStore(dir string) *Store {
	return &Store{dir: dir, databases: make(map[string]*Database)}
}

// Get returns the database for identity, resolving it on first use:
// the in-memory cache is consulted first, then the persisted file, then
// the expressions are compiled. A database compiled fresh is persisted
// when persistent is set. Later calls for the same identity return the
// cached database regardless of the expressions passed.
func (s *Store) Get(identity string, expressions []string, persistent bool) (*Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.databases[identity]; ok {
		return db, nil
	}

	db, err := s.resolve(identity, expressions, persistent)
	if err != nil {
		return nil, err
	}
	s.databases[identity] = db
	return db, nil
}

// Len returns the number of cached databases.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.databases)
}

// Close releases every cached database and empties the cache.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for identity, db := range s.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.databases, identity)
	}
	return firstErr
}

func (s *Store) resolve(identity string, expressions []string, persistent bool) (*Database, error) {
	if s.dir != "" {
		db, err := Load(s.dir, identity)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	db, err := Compile(identity, expressions)
	if err != nil {
		return nil, err
	}

	if persistent && s.dir != "" {
		if err := db.Save(s.dir, identity); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func databasePath(dir, identity string) string {
	return filepath.Join(dir, identity+".db")
}
