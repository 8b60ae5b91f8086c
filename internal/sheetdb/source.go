package sheetdb

import (
	"context"
	"fmt"

	"github.com/roach88/tabula/internal/row"
)

// TabArgs builds the store arguments for a tab of this workbook. The
// workbook path is included so tabs of different workbooks get different
// registry keys.
func (d *DB) TabArgs(tab string) []any {
	return []any{d.path, tab}
}

// FetchTab loads the tab named by args (see TabArgs).
// Its signature matches snapshot.FetchFunc.
func (d *DB) FetchTab(ctx context.Context, args []any) ([]row.Record, error) {
	tab, err := tabFromArgs(args)
	if err != nil {
		return nil, err
	}
	return d.Fetch(ctx, tab)
}

// SaveTab replaces the tab named by args with payload.
// Its signature matches snapshot.SaveFunc.
func (d *DB) SaveTab(ctx context.Context, payload []row.Record, args []any) error {
	tab, err := tabFromArgs(args)
	if err != nil {
		return err
	}
	return d.Replace(ctx, tab, payload)
}

// TabSource exposes a workbook as a store source (see registry.Source).
// Its identity is the workbook path, so two workbooks never share a store.
type TabSource struct {
	db *DB
}

// Source returns the workbook's store source.
func (d *DB) Source() *TabSource {
	return &TabSource{db: d}
}

// SourceID identifies the workbook.
func (s *TabSource) SourceID() string {
	return "sheetdb:" + s.db.path
}

// Fetch is DB.FetchTab.
func (s *TabSource) Fetch(ctx context.Context, args []any) ([]row.Record, error) {
	return s.db.FetchTab(ctx, args)
}

// Save is DB.SaveTab.
func (s *TabSource) Save(ctx context.Context, payload []row.Record, args []any) error {
	return s.db.SaveTab(ctx, payload, args)
}

func tabFromArgs(args []any) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("tab args: want [path, tab], got %d values", len(args))
	}
	tab, ok := args[1].(string)
	if !ok || tab == "" {
		return "", fmt.Errorf("tab args: tab must be a non-empty string, got %v", args[1])
	}
	return tab, nil
}
