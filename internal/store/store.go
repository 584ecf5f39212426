package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/watergrant/internal/address"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] moves a database from user_version i to i+1. schema.sql
// always describes version 0, so every database replays the same list.
var migrations = [][]string{
	// 1: at most one open version per entity key.
	{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_open
		ON admins(public_key) WHERE end_block = 9223372036854775807`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_open
		ON users(public_key) WHERE end_block = 9223372036854775807`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sensors_open
		ON sensors(sensor_id) WHERE end_block = 9223372036854775807`,
	},
	// 2: rollback scans every table by start_block and end_block.
	{
		`CREATE INDEX IF NOT EXISTS idx_admins_end ON admins(end_block)`,
		`CREATE INDEX IF NOT EXISTS idx_users_end ON users(end_block)`,
		`CREATE INDEX IF NOT EXISTS idx_sensors_end ON sensors(end_block)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_locations_start ON sensor_locations(start_block)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_owners_start ON sensor_owners(start_block)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_start ON measurements(start_block)`,
	},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = len(migrations)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// readerConns bounds the read pool of a file-backed store.
const readerConns = 4

// Store is the versioned projection of ledger state.
//
// Every write goes through ApplyBlock on a single writer connection. A
// file-backed store reads through a separate query-only pool, so reads run
// alongside a block transaction under WAL. An in-memory store exists only
// on its one connection, and there reads wait for the writer. Each read
// call runs in one read transaction and sees the projection either before
// or after any given block, never a mix.
type Store struct {
	db       *sql.DB
	reader   *sql.DB
	appliers map[address.Kind]applyFunc
}

// Open opens or creates the projection database at path and brings its
// schema up to date. ":memory:" gives a private in-process projection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open projection %s: %w", path, err)
	}

	// One connection: SQLite has a single writer and ":memory:" is
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open projection %s: %w", path, err)
	}

	s := &Store{db: db, reader: db, appliers: defaultAppliers()}
	if inMemory(path) {
		return s, nil
	}

	reader, err := sql.Open("sqlite3", readerDSN(path))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open projection %s: reader: %w", path, err)
	}
	reader.SetMaxOpenConns(readerConns)
	if err := reader.Ping(); err != nil {
		reader.Close()
		db.Close()
		return nil, fmt.Errorf("open projection %s: reader: %w", path, err)
	}
	s.reader = reader
	return s, nil
}

func inMemory(path string) bool {
	return path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
}

// readerDSN opens the same file with writes refused by SQLite itself.
func readerDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_query_only=1"
}

func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return migrate(db)
}

// migrate applies the migrations the database has not seen yet, each in
// its own transaction together with the user_version bump.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	for v := version; v < schemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migrate to v%d: %w", v+1, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// Close closes the reader pool and the writer connection.
func (s *Store) Close() error {
	var err error
	if s.reader != nil && s.reader != s.db {
		err = s.reader.Close()
	}
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// view runs fn inside one read transaction on the reader pool, so every
// statement fn issues sees the same committed block.
func (s *Store) view(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
