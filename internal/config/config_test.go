package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lfsforensics/internal/common"
)

func TestConfigDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("LFSFORENSICS_CONFIG_DIR", "")
		assert.True(t, strings.HasSuffix(ConfigDir(), ".lfsforensics"), "should end with .lfsforensics")
	})

	t.Run("override with LFSFORENSICS_CONFIG_DIR", func(t *testing.T) {
		t.Setenv("LFSFORENSICS_CONFIG_DIR", "/tmp/test-lfsforensics-config")
		assert.Equal(t, "/tmp/test-lfsforensics-config", ConfigDir())
		assert.Equal(t, "/tmp/test-lfsforensics-config/settings.yaml", SettingsPath())
	})
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, uint32(4096), s.BlockSize)
	assert.Equal(t, uint32(16), s.BlockCount)
	assert.Equal(t, 8, s.DumpBlocks)
	assert.Equal(t, byte(0xff), s.Erase())
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, "off", s.Level())
	assert.Equal(t, 1.0, s.MinPrintableRatio)
	assert.True(t, s.TrimErased())
	assert.NoError(t, s.Validate())
}

func TestApplyDefaults(t *testing.T) {
	var s Settings
	s.ApplyDefaults()
	assert.Equal(t, uint32(4096), s.BlockSize)
	assert.Equal(t, 1, s.Workers)
	assert.Equal(t, byte(0xff), s.Erase())
	assert.True(t, s.TrimErased())

	var zero Settings
	assert.Equal(t, byte(0xff), zero.Erase())
	assert.True(t, zero.TrimErased())
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := LoadFromPath(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Defaults(), s)
	})

	t.Run("partial file keeps other defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		require.NoError(t, os.WriteFile(path, []byte("block_size: 512\nerase_value: 0\ncarve_trim_erased: false\nlog_level: DEBUG\n"), 0600))

		s, err := LoadFromPath(path)
		require.NoError(t, err)
		assert.Equal(t, uint32(512), s.BlockSize)
		assert.Equal(t, uint32(16), s.BlockCount)
		assert.Equal(t, byte(0), s.Erase())
		assert.False(t, s.TrimErased())
		assert.Equal(t, "debug", s.Level())
		assert.NoError(t, s.Validate())
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("block_size: [1, 2\n"), 0600))

		_, err := LoadFromPath(path)
		assert.ErrorIs(t, err, common.ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"zero block size", func(s *Settings) { s.BlockSize = 0 }},
		{"zero block count", func(s *Settings) { s.BlockCount = 0 }},
		{"negative dump blocks", func(s *Settings) { s.DumpBlocks = -1 }},
		{"negative workers", func(s *Settings) { s.Workers = -2 }},
		{"ratio above one", func(s *Settings) { s.MinPrintableRatio = 1.5 }},
		{"unknown level", func(s *Settings) { s.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.modify(s)
			assert.ErrorIs(t, s.Validate(), common.ErrInvalidConfig)
		})
	}
}

func TestInitConfigDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("LFSFORENSICS_CONFIG_DIR", dir)

	path, err := InitConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "settings.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "block_size: 4096")

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0600))
	_, err = InitConfigDir()
	require.NoError(t, err)
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Workers)
}
