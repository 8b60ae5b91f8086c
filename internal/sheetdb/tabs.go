package sheetdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tabula/internal/row"
)

// ErrTabNotFound is returned when a tab does not exist.
var ErrTabNotFound = errors.New("tab not found")

// TabInfo summarizes one tab.
type TabInfo struct {
	Name        string `json:"name"`
	Rows        int    `json:"rows"`
	Revision    int64  `json:"revision"`
	ContentHash string `json:"content_hash"`
}

// ListTabs returns every tab ordered by name.
//
// Returns an empty slice (not nil) for an empty workbook.
func (d *DB) ListTabs(ctx context.Context) ([]TabInfo, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.name, t.revision, t.content_hash, COUNT(r.position)
		FROM tabs t
		LEFT JOIN tab_rows r ON r.tab = t.name
		GROUP BY t.name
		ORDER BY t.name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()

	tabs := []TabInfo{}
	for rows.Next() {
		var info TabInfo
		if err := rows.Scan(&info.Name, &info.Revision, &info.ContentHash, &info.Rows); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tabs: %w", err)
	}
	return tabs, nil
}

// EnsureTab creates an empty tab if it does not exist.
func (d *DB) EnsureTab(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("ensure tab: empty name")
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tabs (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, name)
	if err != nil {
		return fmt.Errorf("ensure tab %q: %w", name, err)
	}
	return nil
}

// Fetch returns the rows of a tab in position order.
// Returns an error wrapping ErrTabNotFound for a missing tab.
func (d *DB) Fetch(ctx context.Context, tab string) ([]row.Record, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM tabs WHERE name = ?`, tab).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetch %q: %w", tab, ErrTabNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", tab, err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT data FROM tab_rows
		WHERE tab = ?
		ORDER BY position ASC
	`, tab)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	recs := []row.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, fmt.Errorf("fetch %q row %d: %w", tab, len(recs), err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return recs, nil
}

// Replace overwrites a tab with payload in one transaction, creating the
// tab if needed. The tab's revision is incremented and its content hash
// updated.
func (d *DB) Replace(ctx context.Context, tab string, payload []row.Record) (err error) {
	if tab == "" {
		return fmt.Errorf("replace: empty tab name")
	}

	encoded := make([]string, len(payload))
	for i, rec := range payload {
		if encoded[i], err = marshalRecord(rec); err != nil {
			return fmt.Errorf("replace %q row %d: %w", tab, i, err)
		}
	}
	hash, err := row.Hash(row.DomainContent, payload)
	if err != nil {
		return fmt.Errorf("replace %q: %w", tab, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO tabs (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, tab); err != nil {
		return fmt.Errorf("replace %q: create tab: %w", tab, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM tab_rows WHERE tab = ?`, tab); err != nil {
		return fmt.Errorf("replace %q: clear rows: %w", tab, err)
	}
	for i, data := range encoded {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO tab_rows (tab, position, data) VALUES (?, ?, ?)
		`, tab, i, data); err != nil {
			return fmt.Errorf("replace %q: insert row %d: %w", tab, i, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE tabs SET revision = revision + 1, content_hash = ?
		WHERE name = ?
	`, hash, tab); err != nil {
		return fmt.Errorf("replace %q: bump revision: %w", tab, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DropTab deletes a tab and its rows. Dropping a missing tab is a no-op.
func (d *DB) DropTab(ctx context.Context, tab string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM tabs WHERE name = ?`, tab); err != nil {
		return fmt.Errorf("drop tab %q: %w", tab, err)
	}
	return nil
}
