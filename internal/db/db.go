// Package db provides database persistence for invoicegate.
//
// A single store database holds both the review queue and the execution
// log. SQLite is the default; PostgreSQL is selected with a DSN dialect.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/randalmurphal/invoicegate/internal/db/driver"
)

// SchemaStore is the migration set applied by OpenStore.
const SchemaStore = "store"

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

type embedFSAdapter struct{ fs embed.FS }

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

// DB is an open store database.
type DB struct {
	driver driver.Driver
	dsn    string
}

// Open opens a SQLite file without migrating it, creating parent
// directories as needed.
func Open(path string) (*DB, error) {
	return open(path, driver.DialectSQLite)
}

// OpenStore opens dsn with dialect and brings the store schema up to date.
func OpenStore(dsn string, dialect driver.Dialect) (*DB, error) {
	d, err := open(dsn, dialect)
	if err != nil {
		return nil, err
	}
	return d.migrated()
}

// OpenStoreInMemory opens a private, migrated SQLite store.
func OpenStoreInMemory() (*DB, error) {
	d, err := open(":memory:", driver.DialectSQLite)
	if err != nil {
		return nil, err
	}
	return d.migrated()
}

func open(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	return &DB{driver: drv, dsn: dsn}, nil
}

func (d *DB) migrated() (*DB, error) {
	if err := d.Migrate(context.Background(), SchemaStore); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error { return d.driver.Close() }

// Path returns the DSN the database was opened with.
func (d *DB) Path() string { return d.dsn }

func (d *DB) Dialect() driver.Dialect { return d.driver.Dialect() }

// Migrate applies the embedded {schemaType}_NNN.sql files.
func (d *DB) Migrate(ctx context.Context, schemaType string) error {
	return d.driver.Migrate(ctx, &embedFSAdapter{fs: schemaFS}, schemaType)
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, query, args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, query, args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.driver.QueryRow(ctx, query, args...)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (driver.Tx, error) {
	return d.driver.BeginTx(ctx, opts)
}
