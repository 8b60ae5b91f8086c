package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tabula/internal/catalog"
	"github.com/roach88/tabula/internal/config"
	"github.com/roach88/tabula/internal/registry"
	"github.com/roach88/tabula/internal/sheetdb"
	"github.com/roach88/tabula/internal/snapshot"
)

// DataFlags are the flags shared by commands that open the workbook.
type DataFlags struct {
	DB      string // workbook path; "" uses the config's database
	Catalog string // catalog directory; "" uses the config's catalog
}

func (f *DataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.DB, "db", "", "workbook database path (default from config)")
	cmd.Flags().StringVar(&f.Catalog, "catalog", "", "dataset catalog directory (default from config)")
}

// workspace bundles what the data commands share.
type workspace struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sheetdb.DB
	stores  *registry.Registry
	catalog *catalog.Catalog // nil when there is no catalog directory
}

// openWorkspace loads config, opens the workbook, and loads the catalog.
// A missing catalog directory is only an error when requireCatalog is set.
func openWorkspace(cmd *cobra.Command, opts *RootOptions, flags DataFlags, requireCatalog bool) (*workspace, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, opts, cfg)

	dbPath := flags.DB
	if dbPath == "" {
		dbPath = cfg.Database
	}
	catDir := flags.Catalog
	if catDir == "" {
		catDir = cfg.Catalog
	}

	cat, err := loadCatalog(catDir, requireCatalog)
	if err != nil {
		return nil, err
	}

	db, err := sheetdb.OpenContext(cmd.Context(), dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open workbook", err)
	}
	logger.Debug("workbook opened", "path", dbPath)

	stores := registry.New(
		registry.WithLogger(logger),
		registry.WithAutoSave(cfg.AutoSaveInterval()),
	)

	return &workspace{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		stores:  stores,
		catalog: cat,
	}, nil
}

func loadCatalog(dir string, required bool) (*catalog.Catalog, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, WrapExitError(ExitCommandError, "catalog directory not found", err)
	}
	cat, err := catalog.LoadCatalog(dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	return cat, nil
}

// Close closes every store and the workbook.
func (w *workspace) Close() {
	w.stores.Clear()
	if err := w.db.Close(); err != nil {
		w.logger.Warn("closing workbook", "error", err)
	}
}

// dataset resolves name through the catalog. Names the catalog does not
// know are taken as tab names with no required or identity fields.
func (w *workspace) dataset(name string) (catalog.Dataset, bool) {
	if w.catalog != nil {
		if d, ok := w.catalog.Lookup(name); ok {
			return d, true
		}
	}
	return catalog.Dataset{Name: name, Tab: name}, false
}

// store returns the registry's store for d's tab.
func (w *workspace) store(ctx context.Context, d catalog.Dataset) (*snapshot.Store, error) {
	return w.stores.GetSourceStore(ctx, w.db.Source(), w.db.TabArgs(d.Tab), false,
		snapshot.WithKeyFields(d.Identity...),
		snapshot.WithRequiredFields(d.Required...),
	)
}
