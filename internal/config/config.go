// Package config loads tabula.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tabula/internal/snapshot"
	"github.com/roach88/tabula/internal/undo"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "tabula.yaml"

// Config holds the tabula configuration.
type Config struct {
	// Database is the SQLite workbook path.
	Database string `yaml:"database"`

	// Catalog is the directory holding the CUE dataset catalog.
	Catalog string `yaml:"catalog"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// AutoSave is the autosave interval for registry stores ("" or "0" disables).
	AutoSave string `yaml:"autosave"`

	Analysis AnalysisConfig `yaml:"analysis"`
	Undo     UndoConfig     `yaml:"undo"`
}

// AnalysisConfig configures batch analysis.
type AnalysisConfig struct {
	BatchSize      int    `yaml:"batch_size"`
	Delay          string `yaml:"delay"`
	SkipIfAnalyzed bool   `yaml:"skip_if_analyzed"`
}

// UndoConfig configures the undo registry.
type UndoConfig struct {
	MaxStack          int    `yaml:"max_stack"`
	MaxRoutes         int    `yaml:"max_routes"`
	SelectionCooldown string `yaml:"selection_cooldown"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: "tabula.db",
		Catalog:  "catalog",
		LogLevel: "info",
		AutoSave: "0",
		Analysis: AnalysisConfig{
			BatchSize:      snapshot.DefaultBatchSize,
			Delay:          snapshot.DefaultDelay.String(),
			SkipIfAnalyzed: true,
		},
		Undo: UndoConfig{
			MaxStack:          undo.DefaultMaxStack,
			MaxRoutes:         undo.DefaultMaxRoutes,
			SelectionCooldown: undo.DefaultSelectionCooldown.String(),
		},
	}
}

// Load reads path over the defaults. An empty path, or a missing
// DefaultPath, yields Default(). Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that decoding cannot.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Analysis.BatchSize < 1 {
		return fmt.Errorf("analysis.batch_size must be positive, got %d", c.Analysis.BatchSize)
	}
	if c.Undo.MaxStack < 1 {
		return fmt.Errorf("undo.max_stack must be positive, got %d", c.Undo.MaxStack)
	}
	if c.Undo.MaxRoutes < 1 {
		return fmt.Errorf("undo.max_routes must be positive, got %d", c.Undo.MaxRoutes)
	}
	for field, v := range map[string]string{
		"autosave":                c.AutoSave,
		"analysis.delay":          c.Analysis.Delay,
		"undo.selection_cooldown": c.Undo.SelectionCooldown,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
}

// AutoSaveInterval returns the autosave interval; zero means disabled.
func (c *Config) AutoSaveInterval() time.Duration {
	d, _ := parseDuration(c.AutoSave)
	return d
}

// AnalysisOptions converts the analysis section.
func (c *Config) AnalysisOptions() snapshot.AnalysisOptions {
	opts := snapshot.DefaultAnalysisOptions()
	if c.Analysis.BatchSize > 0 {
		opts.BatchSize = c.Analysis.BatchSize
	}
	if d, err := parseDuration(c.Analysis.Delay); err == nil {
		opts.Delay = d
	}
	opts.SkipIfAnalyzed = c.Analysis.SkipIfAnalyzed
	return opts
}

// UndoOptions converts the undo section.
func (c *Config) UndoOptions() []undo.Option {
	opts := []undo.Option{
		undo.WithMaxStack(c.Undo.MaxStack),
		undo.WithMaxRoutes(c.Undo.MaxRoutes),
	}
	if d, err := parseDuration(c.Undo.SelectionCooldown); err == nil {
		opts = append(opts, undo.WithSelectionCooldown(d))
	}
	return opts
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
