// Package config loads cleanslate project configuration from
// cleanslate.yaml, environment variables, and CLI flags.
package config

import "time"

// File names probed for project configuration.
const (
	ConfigFileName    = "cleanslate.yaml"
	ConfigFileNameAlt = "cleanslate.yml"
)

// Default configuration values.
const (
	DefaultDatabasePath       = ".cleanslate/tables.duckdb"
	DefaultStatePath          = ".cleanslate/state.db"
	DefaultSnapshotDir        = ".cleanslate/snapshots"
	DefaultCheckpointInterval = 5
	DefaultSaveDebounceMS     = 500
)

// TimelineConfig tunes the undo/redo engine.
type TimelineConfig struct {
	// CheckpointInterval is K: a snapshot every K appended commands.
	CheckpointInterval int `koanf:"checkpoint_interval"`

	// SaveDebounceMS is the persistence debounce window in milliseconds.
	SaveDebounceMS int `koanf:"save_debounce_ms"`
}

// Config is the resolved project configuration.
type Config struct {
	// Database is the DuckDB file holding live tables.
	Database string `koanf:"database"`

	// State is the SQLite file holding timeline metadata and audit log.
	State string `koanf:"state"`

	// SnapshotDir holds Parquet snapshot materializations.
	SnapshotDir string `koanf:"snapshot_dir"`

	Timeline TimelineConfig `koanf:"timeline"`

	Verbose bool `koanf:"verbose"`
}

// Debounce returns the save debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Timeline.SaveDebounceMS) * time.Millisecond
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabasePath
	}
	if c.State == "" {
		c.State = DefaultStatePath
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = DefaultSnapshotDir
	}
	if c.Timeline.CheckpointInterval <= 0 {
		c.Timeline.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.Timeline.SaveDebounceMS <= 0 {
		c.Timeline.SaveDebounceMS = DefaultSaveDebounceMS
	}
}
