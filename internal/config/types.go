package config

import (
	"os"
	"time"
)

// Config is the top-level structure parsed from simops.yaml.
type Config struct {
	Pipeline  Pipeline  `yaml:"pipeline"`
	Telemetry Telemetry `yaml:"telemetry"`
	Assistant Assistant `yaml:"assistant"`
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Log       Log       `yaml:"log"`

	// Path is the file the config was loaded from; empty for defaults.
	Path string `yaml:"-"`
}

// Pipeline tunes the simulated run.
type Pipeline struct {
	// FailureProbability is the chance that build-and-test fails. A pointer
	// so an explicit 0 survives defaulting.
	FailureProbability *float64 `yaml:"failure_probability"`
	// TimeScale multiplies every stage wait; 0.5 runs twice as fast.
	TimeScale float64 `yaml:"time_scale"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// Telemetry tunes the metrics simulator.
type Telemetry struct {
	Interval string `yaml:"interval"`
	Seed     int64  `yaml:"seed"`
}

// Assistant selects the text-generation backend.
type Assistant struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Timeout   string `yaml:"timeout"`
	PromptDir string `yaml:"prompt_dir"`
}

// Server configures the dashboard.
type Server struct {
	Port           int    `yaml:"port"`
	StreamInterval string `yaml:"stream_interval"`
}

// Database selects the run history store.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Defaults.
const (
	DefaultFailureProbability = 0.2
	DefaultTimeScale          = 1.0
	DefaultTelemetryInterval  = "1s"
	DefaultProvider           = ProviderGemini
	DefaultAPIKeyEnv          = "GEMINI_API_KEY"
	DefaultAssistantTimeout   = "60s"
	DefaultPort               = 8080
	DefaultStreamInterval     = "500ms"
	DefaultLogLevel           = "info"
)

// Probability returns the effective failure probability.
func (p Pipeline) Probability() float64 {
	if p.FailureProbability == nil {
		return DefaultFailureProbability
	}
	return *p.FailureProbability
}

// IntervalDuration returns the tick period, falling back to the default
// when the value does not parse.
func (t Telemetry) IntervalDuration() time.Duration {
	return parseOr(t.Interval, time.Second)
}

// TimeoutDuration returns the per-call collaborator timeout.
func (a Assistant) TimeoutDuration() time.Duration {
	return parseOr(a.Timeout, time.Minute)
}

// APIKey reads the key from the configured environment variable.
func (a Assistant) APIKey() string {
	name := a.APIKeyEnv
	if name == "" {
		name = DefaultAPIKeyEnv
	}
	return os.Getenv(name)
}

// StreamIntervalDuration returns how often the event stream polls state.
func (s Server) StreamIntervalDuration() time.Duration {
	return parseOr(s.StreamInterval, 500*time.Millisecond)
}

func parseOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
