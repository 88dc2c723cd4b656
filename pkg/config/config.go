// Package config holds the user settings of the xdftune command.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/logging"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

// Display modes for table and constant output.
const (
	DisplayPhysical = "physical"
	DisplayRaw      = "raw"
	DisplayHex      = "hex"
)

// Config is the complete settings file.
type Config struct {
	// RangePolicy is "reject" or "clamp".
	RangePolicy string `yaml:"range_policy" toml:"range_policy"`
	// Backup copies the target bin aside before it is overwritten.
	Backup    bool   `yaml:"backup" toml:"backup"`
	BackupDir string `yaml:"backup_dir,omitempty" toml:"backup_dir,omitempty"`
	// Journal records every edit to JournalPath.
	Journal     bool   `yaml:"journal" toml:"journal"`
	JournalPath string `yaml:"journal_path,omitempty" toml:"journal_path,omitempty"`
	// UpdateChecksums recomputes declared checksums on save.
	UpdateChecksums bool `yaml:"update_checksums" toml:"update_checksums"`
	// BaseOffset overrides the definition header when set.
	BaseOffset   *int64 `yaml:"base_offset,omitempty" toml:"base_offset,omitempty"`
	BaseSubtract bool   `yaml:"base_subtract,omitempty" toml:"base_subtract,omitempty"`
	AddressMode  string `yaml:"address_mode" toml:"address_mode"`
	Display      string `yaml:"display" toml:"display"`

	Log LogConfig `yaml:"log" toml:"log"`
}

// LogConfig configures the diagnostic log.
type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
	// File receives the log instead of stderr.
	File string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		RangePolicy:     "reject",
		Backup:          true,
		UpdateChecksums: true,
		AddressMode:     "absolute",
		Display:         DisplayPhysical,
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// DefaultPath is ~/.config/xdftune/config.yaml, or a relative path when the
// home directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".xdftune", "config.yaml")
	}
	return filepath.Join(dir, "xdftune", "config.yaml")
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
// Files ending in .toml are TOML, everything else YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if isTOML(path) {
		_, err = toml.Decode(string(data), cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Save writes the config in the format its extension selects.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks every enumerated setting.
func (c *Config) Validate() error {
	if _, err := tune.ParseRangePolicy(c.RangePolicy); err != nil {
		return err
	}
	if _, err := layout.ParseAddressMode(c.AddressMode); err != nil {
		return err
	}
	switch c.Display {
	case "", DisplayPhysical, DisplayRaw, DisplayHex:
	default:
		return fmt.Errorf("unknown display mode %q (valid: %s, %s, %s)", c.Display, DisplayPhysical, DisplayRaw, DisplayHex)
	}
	if c.Journal && strings.TrimSpace(c.JournalPath) == "" {
		return fmt.Errorf("journal enabled without journal_path")
	}
	if c.BaseOffset != nil && *c.BaseOffset < 0 {
		return fmt.Errorf("base_offset must not be negative, use base_subtract")
	}
	return nil
}

// LayoutOptions converts the address settings.
func (c *Config) LayoutOptions() (layout.Options, error) {
	mode, err := layout.ParseAddressMode(c.AddressMode)
	if err != nil {
		return layout.Options{}, err
	}
	opts := layout.Options{Mode: mode}
	if c.BaseOffset != nil {
		opts.BaseOffset = &xdf.BaseOffset{Offset: *c.BaseOffset, Subtract: c.BaseSubtract}
	}
	return opts, nil
}

// Logger builds the diagnostic logger. verbose forces debug output.
func (c *Config) Logger(verbose bool) (*zap.Logger, error) {
	opts := logging.Options{
		Development: c.Log.Development,
		Verbose:     verbose,
		Level:       c.Log.Level,
	}
	if verbose {
		opts.Level = ""
	}
	if c.Log.File != "" {
		opts.OutputPaths = []string{c.Log.File}
	}
	return logging.New(opts)
}

// SessionOptions assembles tune.Options. When the journal is enabled the
// file is opened here and belongs to the session afterwards.
func (c *Config) SessionOptions(log *zap.Logger) (tune.Options, error) {
	policy, err := tune.ParseRangePolicy(c.RangePolicy)
	if err != nil {
		return tune.Options{}, err
	}
	lopts, err := c.LayoutOptions()
	if err != nil {
		return tune.Options{}, err
	}
	opts := tune.Options{
		RangePolicy:     policy,
		Layout:          lopts,
		Logger:          log,
		UpdateChecksums: c.UpdateChecksums,
		Backup:          c.Backup,
		BackupDir:       c.BackupDir,
	}
	if c.Journal {
		j, err := journal.OpenFile(c.JournalPath)
		if err != nil {
			return tune.Options{}, fmt.Errorf("open journal: %w", err)
		}
		opts.Journal = j
	}
	return opts, nil
}
