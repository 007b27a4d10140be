package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding a config path. It is
// consulted after -config and before the file search.
const EnvConfig = "VGEO_CONFIG"

// projectFiles are looked up in the working directory and its parents, so
// a build settings file can live at the root of an asset tree.
var projectFiles = []string{"vgeo.yaml", ".vgeo.yaml"}

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	if path := locateConfig(); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func locateConfig() string {
	if p := ConfigPath(); p != "" {
		return p
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return findConfigFile()
}

// findConfigFile walks from the working directory up to the filesystem
// root looking for a project file, then falls back to the user config
// directory.
func findConfigFile() string {
	if dir, err := os.Getwd(); err == nil {
		for {
			for _, name := range projectFiles {
				p := filepath.Join(dir, name)
				if fileExists(p) {
					return p
				}
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if p := filepath.Join(ConfigDir(), "config.yaml"); fileExists(p) {
		return p
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ConfigDir returns the per-user vgeo config directory.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vgeo")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "vgeo")
}

// loadFromFile merges a YAML file over cfg. Unknown keys are errors so a
// misspelled setting does not silently fall back to its default.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
