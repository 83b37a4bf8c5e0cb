// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads analyzer settings from the settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"lfsforensics/internal/artifacts"
	"lfsforensics/internal/common"
)

// ConfigDir returns the configuration directory.
// Uses LFSFORENSICS_CONFIG_DIR if set, otherwise ~/.lfsforensics.
func ConfigDir() string {
	if dir := os.Getenv("LFSFORENSICS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lfsforensics")
}

// SettingsPath returns the default settings file path.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

// Settings are the analyzer defaults.
type Settings struct {
	BlockSize         uint32  `yaml:"block_size"`
	BlockCount        uint32  `yaml:"block_count"`
	DumpBlocks        int     `yaml:"dump_blocks"`
	EraseValue        *uint8  `yaml:"erase_value"` // pointer so that 0x00 can be told from unset
	Workers           int     `yaml:"workers"`
	LogLevel          string  `yaml:"log_level"` // trace, debug, info, warn, off (case insensitive)
	MinPrintableRatio float64 `yaml:"min_printable_ratio"`
	CarveTrimErased   *bool   `yaml:"carve_trim_erased"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.BlockSize == 0 {
		s.BlockSize = 4096
	}
	if s.BlockCount == 0 {
		s.BlockCount = 16
	}
	if s.DumpBlocks == 0 {
		s.DumpBlocks = 8
	}
	if s.EraseValue == nil {
		v := uint8(0xff)
		s.EraseValue = &v
	}
	if s.Workers == 0 {
		s.Workers = 1
	}
	if s.MinPrintableRatio == 0 {
		s.MinPrintableRatio = 1.0
	}
	if s.CarveTrimErased == nil {
		t := true
		s.CarveTrimErased = &t
	}
}

// Erase returns the erase value (0xff unless configured).
func (s *Settings) Erase() byte {
	if s.EraseValue == nil {
		return 0xff
	}
	return *s.EraseValue
}

// TrimErased returns whether carved bytes are trimmed (defaults to true).
func (s *Settings) TrimErased() bool {
	if s.CarveTrimErased == nil {
		return true
	}
	return *s.CarveTrimErased
}

// Level returns the normalized (lowercase) log level.
func (s *Settings) Level() string {
	return strings.ToLower(strings.TrimSpace(s.LogLevel))
}

// Validate rejects settings no image can be analyzed with.
func (s *Settings) Validate() error {
	if s.BlockSize == 0 || s.BlockCount == 0 {
		return fmt.Errorf("block_size and block_count must be positive (got %d, %d): %w",
			s.BlockSize, s.BlockCount, common.ErrInvalidConfig)
	}
	if s.DumpBlocks <= 0 {
		return fmt.Errorf("dump_blocks must be positive (got %d): %w", s.DumpBlocks, common.ErrInvalidConfig)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative (got %d): %w", s.Workers, common.ErrInvalidConfig)
	}
	if s.MinPrintableRatio < 0 || s.MinPrintableRatio > 1 {
		return fmt.Errorf("min_printable_ratio must be within [0, 1] (got %g): %w", s.MinPrintableRatio, common.ErrInvalidConfig)
	}
	switch s.Level() {
	case "", "trace", "debug", "info", "warn", "off":
	default:
		return fmt.Errorf("unknown log_level %q: %w", s.LogLevel, common.ErrInvalidConfig)
	}
	return nil
}

// Defaults parses the embedded settings template.
func Defaults() *Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	s.ApplyDefaults()
	return &s
}

// Load reads the default settings file. Falls back to the embedded defaults
// if the file doesn't exist.
func Load() (*Settings, error) {
	return LoadFromPath(SettingsPath())
}

// LoadFromPath reads settings from path. A missing file yields the embedded
// defaults; values absent from the file keep their defaults.
func LoadFromPath(path string) (*Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, common.ErrInvalidConfig, err)
	}
	s.ApplyDefaults()
	return s, nil
}

// InitConfigDir creates the config directory and writes the settings
// template if no settings file exists yet.
func InitConfigDir() (string, error) {
	if err := os.MkdirAll(ConfigDir(), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.GlobalSettings, 0600); err != nil {
			return "", fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return path, nil
}
