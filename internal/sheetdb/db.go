package sheetdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connParams are applied by the driver to every connection it opens, so a
// reconnect after an idle close keeps the same settings.
//
//   - journal_mode=WAL: readers do not block the single writer
//   - synchronous=NORMAL: safe with WAL, one fsync per checkpoint
//   - busy_timeout=5000: wait for locks instead of failing with SQLITE_BUSY
//   - foreign_keys=on: tab_rows are deleted with their tab
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// migration upgrades a workbook from version-1 to version. Migrations run
// in order, each in its own transaction together with the user_version
// bump, so a failed step leaves the file at the previous version.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "index rows by tab and position",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_rows_tab_position ON tab_rows(tab, position)`,
	},
}

// currentSchemaVersion is the user_version of a fully migrated workbook.
var currentSchemaVersion = migrations[len(migrations)-1].version

// DB is a workbook backed by a SQLite file.
//
// Thread-safety: safe for concurrent use. Writes are serialized on a single
// connection.
type DB struct {
	db   *sql.DB
	path string
}

// Open is OpenContext with a background context.
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext creates or opens the workbook at path, then brings its schema
// up to date. Opening an up-to-date workbook changes nothing.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and WAL readers on the
	// same connection see committed rows.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}

	d := &DB{db: db, path: path}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the file the workbook was opened from.
func (d *DB) Path() string {
	return d.path
}

// migrate applies the base schema and every migration newer than the
// file's user_version.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := d.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) applyMigration(ctx context.Context, m migration) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.stmt); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	// PRAGMA takes no bind parameters; version is an int constant.
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migration %d: set user_version: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.version, err)
	}
	return nil
}

func (d *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

// pragma reads the current value of a connection setting.
func (d *DB) pragma(ctx context.Context, name string) (string, error) {
	var value string
	if err := d.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
