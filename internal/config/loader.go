package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by LoadDefault when no config file exists.
var ErrNotFound = errors.New("no simops config found")

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Path = path
	return &cfg, nil
}

// SearchPaths lists the locations LoadDefault tries, in order.
func SearchPaths() []string {
	candidates := []string{"simops.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".simops", "config.yaml"))
	}
	return candidates
}

// LoadDefault loads the first config found in SearchPaths.
func LoadDefault() (*Config, error) {
	candidates := SearchPaths()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("%w (searched: %v)", ErrNotFound, candidates)
}

// Resolve loads path when set. Otherwise it searches the default locations
// and falls back to Default when none exist.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := LoadDefault()
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return cfg, err
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.FailureProbability == nil {
		p := DefaultFailureProbability
		cfg.Pipeline.FailureProbability = &p
	}
	if cfg.Pipeline.TimeScale == 0 {
		cfg.Pipeline.TimeScale = DefaultTimeScale
	}
	if cfg.Telemetry.Interval == "" {
		cfg.Telemetry.Interval = DefaultTelemetryInterval
	}

	a := &cfg.Assistant
	if a.Provider == "" {
		a.Provider = DefaultProvider
	}
	if a.APIKeyEnv == "" {
		a.APIKeyEnv = DefaultAPIKeyEnv
	}
	if a.Timeout == "" {
		a.Timeout = DefaultAssistantTimeout
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.StreamInterval == "" {
		cfg.Server.StreamInterval = DefaultStreamInterval
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}
