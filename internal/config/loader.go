package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and validates config.toml at path, applying environment
// variable overrides and defaults on top of whatever the file sets.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes a fresh config.toml at path with defaults applied, refusing
// to overwrite an existing file.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	cfg := &Config{}
	applyDefaults(cfg)
	return save(path, cfg, false)
}

// Save writes cfg to path atomically: a `.bak.{unix timestamp}` copy of
// any existing file is kept, the new content is written to a temp file in
// the same directory and renamed into place, and the final file is
// chmod'd 600 on unix.
func Save(path string, cfg *Config) error {
	return save(path, cfg, true)
}

func save(path string, cfg *Config, backup bool) error {
	if backup {
		if data, err := os.ReadFile(path); err == nil {
			bakPath := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
			if err := os.WriteFile(bakPath, data, 0o600); err != nil {
				return fmt.Errorf("config: write backup: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("config: read existing config: %w", err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("config: chmod: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
