// Package config loads the optional YAML configuration file for hnswd.
// Flags override file values; the file overrides defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk server configuration.
type Config struct {
	// TCPAddr is the command listener address, e.g. ":6399".
	TCPAddr string `yaml:"tcp_addr"`
	// HTTPAddr is the metrics/health listener address, e.g. ":6390".
	HTTPAddr string `yaml:"http_addr"`
	// DataDir holds the AOF and snapshot files.
	DataDir string `yaml:"data_dir"`

	// AutoSaveInterval is the minimum time between automatic snapshots
	// ("60s", "5m", ...). Empty keeps the default.
	AutoSaveInterval string `yaml:"autosave_interval"`
	// AutoSaveThreshold is the write count that arms an automatic
	// snapshot.
	AutoSaveThreshold int64 `yaml:"autosave_threshold"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TCPAddr:           ":6399",
		HTTPAddr:          ":6390",
		DataDir:           "./data",
		AutoSaveThreshold: 1000,
	}
}

// Load reads path and overlays it on the defaults. A missing path argument
// ("") just returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// SaveInterval parses AutoSaveInterval, falling back to def when unset.
func (c Config) SaveInterval(def time.Duration) (time.Duration, error) {
	if c.AutoSaveInterval == "" {
		return def, nil
	}
	d, err := time.ParseDuration(c.AutoSaveInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid autosave_interval '%s': %w", c.AutoSaveInterval, err)
	}
	return d, nil
}
