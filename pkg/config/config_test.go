package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/layout"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

func TestLoadMissingGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(Default(), cfg))
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
range_policy: clamp
backup: false
update_checksums: false
base_offset: 0x8000
base_subtract: true
address_mode: flash-relative
display: hex
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "clamp", cfg.RangePolicy)
	assert.False(t, cfg.Backup)
	assert.False(t, cfg.UpdateChecksums)
	require.NotNil(t, cfg.BaseOffset)
	assert.Equal(t, int64(0x8000), *cfg.BaseOffset)
	assert.Equal(t, DisplayHex, cfg.Display)
	assert.Equal(t, "debug", cfg.Log.Level)

	lopts, err := cfg.LayoutOptions()
	require.NoError(t, err)
	assert.Equal(t, layout.FlashRelative, lopts.Mode)
	assert.Equal(t, &xdf.BaseOffset{Offset: 0x8000, Subtract: true}, lopts.BaseOffset)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
range_policy = "clamp"
journal = true
journal_path = "/tmp/edits.cbor"

[log]
development = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "clamp", cfg.RangePolicy)
	assert.True(t, cfg.Journal)
	assert.Equal(t, "/tmp/edits.cbor", cfg.JournalPath)
	assert.True(t, cfg.Log.Development)
	// untouched keys keep their defaults
	assert.True(t, cfg.Backup)
	assert.Equal(t, "absolute", cfg.AddressMode)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"bad yaml", "a.yaml", "range_policy: [clamp"},
		{"bad toml", "b.toml", "range_policy = "},
		{"bad policy", "c.yaml", "range_policy: wrap"},
		{"bad mode", "d.yaml", "address_mode: banked"},
		{"bad display", "e.yaml", "display: chart"},
		{"journal without path", "f.yaml", "journal: true"},
		{"negative base", "g.yaml", "base_offset: -4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	base := int64(0x10000)
	cfg := Default()
	cfg.RangePolicy = "clamp"
	cfg.BaseOffset = &base
	cfg.Log.File = "xdftune.log"

	for _, name := range []string{"nested/config.yaml", "nested/config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.Save(path))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(cfg, got))
		})
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.RangePolicy = "clamp"
	cfg.Journal = true
	cfg.JournalPath = filepath.Join(t.TempDir(), "edits.cbor")

	opts, err := cfg.SessionOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, tune.RangeClamp, opts.RangePolicy)
	assert.True(t, opts.Backup)
	assert.True(t, opts.UpdateChecksums)
	require.IsType(t, &journal.File{}, opts.Journal)
	require.NoError(t, opts.Journal.Close())

	cfg.JournalPath = filepath.Join(t.TempDir(), "missing", "edits.cbor")
	_, err = cfg.SessionOptions(nil)
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	t.Setenv("XDFTUNE_LOG_LEVEL", "")
	cfg := Default()
	cfg.Log.File = filepath.Join(t.TempDir(), "log.json")

	log, err := cfg.Logger(true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1)) // debug
	_ = log.Sync()

	log, err = cfg.Logger(false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(0)) // info is below warn
}
