// Package config manages the scopecap configuration file.
//
// Persistence is explicit: mutators only change the in-memory state, and
// the caller invokes Save once per user action. Nothing here writes the
// file as a side effect of a setter.
//
// Config file locations (priority order):
//  1. $SCOPECAP_CONFIG
//  2. ./scopecap.yaml
//  3. ~/.config/scopecap/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// maxRecentDirs bounds the recent-directories list.
const maxRecentDirs = 5

// MetadataField is one capture-metadata pair. A slice of fields keeps the
// user's insertion order, which a map would not.
type MetadataField struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Config is the root configuration structure.
type Config struct {
	Version         int    `yaml:"version"`
	SaveDirectory   string `yaml:"save_directory"`
	DefaultFilename string `yaml:"default_filename"`
	FileFormat      string `yaml:"file_format"`
	BackgroundColor string `yaml:"background_color"`
	SaveWaveform    bool   `yaml:"save_waveform"`

	// AutoIncrement and Datestamp name policies are mutually exclusive;
	// use the setters, which maintain the invariant.
	AutoIncrement bool `yaml:"auto_increment"`
	Datestamp     bool `yaml:"datestamp"`

	LastUsedMetadata []MetadataField `yaml:"last_used_metadata,omitempty"`
	RecentDirs       []string        `yaml:"recent_directories,omitempty"`

	// Resources seed the transport; SweepSubnet enables the LXI sweep.
	Resources   []string `yaml:"resources,omitempty"`
	SweepSubnet string   `yaml:"sweep_subnet,omitempty"`

	// HistoryDB is the capture-history database path.
	HistoryDB string `yaml:"history_db"`
}

// FindConfigPath returns the first existing config location, or "" when
// none exists yet.
func FindConfigPath() string {
	if p := os.Getenv("SCOPECAP_CONFIG"); p != "" {
		return p
	}
	candidates := []string{"./scopecap.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "scopecap", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// DefaultConfigPath is where a fresh config is saved when none exists.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./scopecap.yaml"
	}
	return filepath.Join(home, ".config", "scopecap", "config.yaml")
}

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, path, nil
}

// Save writes the config to the specified path, creating the directory if
// needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns sensible defaults for a new installation.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Version:         1,
		SaveDirectory:   filepath.Join(home, "scope_captures"),
		DefaultFilename: "capture_001",
		FileFormat:      "png",
		BackgroundColor: "white",
		HistoryDB:       "./scopecap.db",
	}
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Version == 0 {
		c.Version = 1
	}
	if c.SaveDirectory == "" {
		c.SaveDirectory = def.SaveDirectory
	}
	if c.DefaultFilename == "" {
		c.DefaultFilename = def.DefaultFilename
	}
	if c.FileFormat == "" {
		c.FileFormat = def.FileFormat
	}
	if c.BackgroundColor == "" {
		c.BackgroundColor = def.BackgroundColor
	}
	if c.HistoryDB == "" {
		c.HistoryDB = def.HistoryDB
	}
	// A hand-edited file may set both name policies; auto-increment wins.
	if c.AutoIncrement && c.Datestamp {
		c.Datestamp = false
	}
}

// EnsuredSaveDirectory returns the save directory, creating it if absent.
func (c *Config) EnsuredSaveDirectory() (string, error) {
	if err := os.MkdirAll(c.SaveDirectory, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}
	return c.SaveDirectory, nil
}

// SetSaveDirectory updates the save directory and pushes it onto the
// recent-directories list: most recent first, de-duplicated, at most
// maxRecentDirs entries.
func (c *Config) SetSaveDirectory(dir string) {
	c.SaveDirectory = dir

	recent := []string{dir}
	for _, d := range c.RecentDirs {
		if d == dir {
			continue
		}
		recent = append(recent, d)
		if len(recent) == maxRecentDirs {
			break
		}
	}
	c.RecentDirs = recent
}

// SetAutoIncrement enables or disables sequence numbering. Enabling it
// clears the datestamp flag.
func (c *Config) SetAutoIncrement(on bool) {
	c.AutoIncrement = on
	if on {
		c.Datestamp = false
	}
}

// SetDatestamp enables or disables datestamped names. Enabling it clears
// the auto-increment flag.
func (c *Config) SetDatestamp(on bool) {
	c.Datestamp = on
	if on {
		c.AutoIncrement = false
	}
}

// Suffix returns the file format with a leading dot.
func (c *Config) Suffix() string {
	if c.FileFormat == "" {
		return ""
	}
	if c.FileFormat[0] == '.' {
		return c.FileFormat
	}
	return "." + c.FileFormat
}

// SetMetadata replaces the remembered metadata fields, preserving order.
func (c *Config) SetMetadata(fields []MetadataField) {
	c.LastUsedMetadata = append([]MetadataField(nil), fields...)
}
