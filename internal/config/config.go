// Package config loads the scanner daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration supports "5s"-style values in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Management configures the connection to the management facility.
type Management struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// Config is the daemon configuration, loaded from a yaml file.
type Config struct {
	// DeploymentDir is the watched directory tree.
	DeploymentDir string `yaml:"deployment_dir"`

	// ScanInterval is the fixed delay between passes; zero or negative
	// means a single pass on start instead of a repeating schedule.
	ScanInterval Duration `yaml:"scan_interval"`

	// ScanEnabled controls whether scanning starts with the daemon.
	ScanEnabled bool `yaml:"scan_enabled"`

	// IgnoreHidden excludes dotfiles and dot-directories from scanning.
	IgnoreHidden bool `yaml:"ignore_hidden"`

	// ContentDir is the root of the local content-addressable store.
	ContentDir string `yaml:"content_dir"`

	// HistoryDB is the scan history SQLite path; empty disables history.
	HistoryDB string `yaml:"history_db"`

	LogLevel string `yaml:"log_level"`

	Management Management `yaml:"management"`
}

// Load reads and parses the config file, applying defaults and validating
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Config{
		ScanInterval: Duration(5 * time.Second),
		ScanEnabled:  true,
		LogLevel:     "info",
		Management:   Management{Timeout: Duration(30 * time.Second)},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	if cfg.DeploymentDir == "" {
		return nil, fmt.Errorf("%s: 'deployment_dir' is required", path)
	}
	if cfg.ContentDir == "" {
		return nil, fmt.Errorf("%s: 'content_dir' is required", path)
	}
	if cfg.Management.Endpoint == "" {
		return nil, fmt.Errorf("%s: 'management.endpoint' is required", path)
	}

	return &cfg, nil
}
