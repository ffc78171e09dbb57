// Package config loads and saves milktea configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all milktea configuration.
type Config struct {
	Cache      CacheConfig      `toml:"cache"`
	Index      IndexConfig      `toml:"index"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// CacheConfig controls the on-disk cache root and its eviction policy.
type CacheConfig struct {
	// Dir overrides the default <user-cache>/lazy-milktea root.
	Dir string `toml:"dir,omitempty"`
	// CeilingMB is the LRU eviction threshold for the cache root.
	CeilingMB int64 `toml:"ceiling_mb"`
}

// IndexConfig tunes index building.
type IndexConfig struct {
	// RecentWindowMinutes is the trailing window for the efRecent count.
	RecentWindowMinutes int `toml:"recent_window_minutes"`
	// PostingsThreshold is the per-index entry count past which the
	// inverted indexes degrade to sampled postings.
	PostingsThreshold int64 `toml:"postings_threshold"`
	// PostingsSampleN records every Nth ordinal per key once sampled.
	PostingsSampleN int `toml:"postings_sample_n"`
}

// AppearanceConfig holds theme settings for the viewer.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			CeilingMB: 2048,
		},
		Index: IndexConfig{
			RecentWindowMinutes: 5,
			PostingsThreshold:   1 << 20,
			PostingsSampleN:     64,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "milktea")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "milktea")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg.normalized(), nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// normalized clamps nonsensical values back to defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Cache.CeilingMB <= 0 {
		c.Cache.CeilingMB = def.Cache.CeilingMB
	}
	if c.Index.RecentWindowMinutes <= 0 {
		c.Index.RecentWindowMinutes = def.Index.RecentWindowMinutes
	}
	if c.Index.PostingsThreshold <= 0 {
		c.Index.PostingsThreshold = def.Index.PostingsThreshold
	}
	if c.Index.PostingsSampleN <= 1 {
		c.Index.PostingsSampleN = def.Index.PostingsSampleN
	}
	return c
}
