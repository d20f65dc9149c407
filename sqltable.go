package logprep

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLConfig binds a GenericAdder to an enrichment table in a SQLite
// database. Rows are cached in memory and re-read at most every
// ReloadSeconds.
type SQLConfig struct {
	// Path of the SQLite database file.
	Path string `yaml:"path"`
	// Table holding the enrichment rows.
	Table string `yaml:"table"`
	// TargetColumn is the column whose uppercased values key the rows.
	TargetColumn string `yaml:"target_column"`
	// AddTargetColumn includes the target column itself in the added
	// fields.
	AddTargetColumn bool `yaml:"add_target_column"`
	// ReloadSeconds re-reads the table inside Process when the cached
	// copy is older. Zero keeps the initial copy for the processor's
	// lifetime.
	ReloadSeconds int `yaml:"reload_seconds"`
}

func (c SQLConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if c.Table == "" {
		return fmt.Errorf("table must not be empty")
	}
	if c.TargetColumn == "" {
		return fmt.Errorf("target_column must not be empty")
	}
	return nil
}

// tableEntry is one (column, value) addition contributed by a table
// row.
type tableEntry struct {
	column string
	value  any
}

// sqlTable caches the enrichment table, keyed by the uppercased target
// column value.
type sqlTable struct {
	db       *sql.DB
	cfg      SQLConfig
	rows     map[string][]tableEntry
	loadedAt time.Time
}

func openSQLTable(cfg SQLConfig) (*sqlTable, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening table database %s: %w", cfg.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to table database %s: %w", cfg.Path, err)
	}

	t := &sqlTable{db: db, cfg: cfg}
	if err := t.load(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *sqlTable) Close() error {
	return t.db.Close()
}

// refresh re-reads the table when the cached copy expired.
func (t *sqlTable) refresh() error {
	if t.cfg.ReloadSeconds <= 0 {
		return nil
	}
	if time.Since(t.loadedAt) < time.Duration(t.cfg.ReloadSeconds)*time.Second {
		return nil
	}
	return t.load()
}

// load reads every row of the table. The first column is taken to be a
// synthetic row id and never contributes an addition; the target
// column contributes only when AddTargetColumn is set.
func (t *sqlTable) load() error {
	rows, err := t.db.Query("SELECT * FROM " + t.cfg.Table)
	if err != nil {
		return fmt.Errorf("reading table %s: %w", t.cfg.Table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("reading columns of %s: %w", t.cfg.Table, err)
	}
	target := -1
	for i, column := range columns {
		if strings.EqualFold(column, t.cfg.TargetColumn) {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("table %s has no column %s", t.cfg.Table, t.cfg.TargetColumn)
	}

	loaded := make(map[string][]tableEntry)
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return fmt.Errorf("reading row of %s: %w", t.cfg.Table, err)
		}
		key, ok := columnValue(values[target]).(string)
		if !ok {
			continue
		}
		entries := make([]tableEntry, 0, len(columns)-1)
		for i, column := range columns {
			if i == 0 {
				continue
			}
			if i == target && !t.cfg.AddTargetColumn {
				continue
			}
			entries = append(entries, tableEntry{column: column, value: columnValue(values[i])})
		}
		loaded[strings.ToUpper(key)] = entries
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading table %s: %w", t.cfg.Table, err)
	}

	t.rows = loaded
	t.loadedAt = time.Now()
	return nil
}

// entries returns the additions keyed by the given target value.
func (t *sqlTable) entries(key string) []tableEntry {
	return t.rows[strings.ToUpper(key)]
}

// columnValue normalizes driver values: text columns may arrive as
// byte slices.
func columnValue(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}
