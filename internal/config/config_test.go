package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
pipeline:
  failure_probability: 0.5
  time_scale: 0.25
  seed: 42
telemetry:
  interval: 2s
  seed: 7
assistant:
  provider: openai
  model: gpt-4o-mini
  base_url: http://localhost:11434
  api_key_env: SIMOPS_TEST_KEY
  timeout: 10s
  prompt_dir: prompts
server:
  port: 9090
  stream_interval: 250ms
database:
  dsn: postgres://simops@localhost/simops
log:
  level: debug
  file: /tmp/simops.log
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "simops.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := cfg.Pipeline.Probability(); got != 0.5 {
		t.Errorf("Probability() = %v, want 0.5", got)
	}
	if cfg.Pipeline.TimeScale != 0.25 {
		t.Errorf("TimeScale = %v, want 0.25", cfg.Pipeline.TimeScale)
	}
	if cfg.Pipeline.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Pipeline.Seed)
	}
	if got := cfg.Telemetry.IntervalDuration(); got != 2*time.Second {
		t.Errorf("IntervalDuration() = %v, want 2s", got)
	}
	if cfg.Assistant.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q", cfg.Assistant.Provider)
	}
	if got := cfg.Assistant.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("TimeoutDuration() = %v", got)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if got := cfg.Server.StreamIntervalDuration(); got != 250*time.Millisecond {
		t.Errorf("StreamIntervalDuration() = %v", got)
	}
	if cfg.Database.DSN != "postgres://simops@localhost/simops" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/tmp/simops.log" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q, want %q", cfg.Path, path)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected valid config, got %v", errs)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "pipeline:\n  seed: 1\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := cfg.Pipeline.Probability(); got != DefaultFailureProbability {
		t.Errorf("Probability() = %v, want default", got)
	}
	if cfg.Pipeline.TimeScale != DefaultTimeScale {
		t.Errorf("TimeScale = %v", cfg.Pipeline.TimeScale)
	}
	if cfg.Assistant.Provider != ProviderGemini || cfg.Assistant.APIKeyEnv != DefaultAPIKeyEnv {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestExplicitZeroProbabilitySurvives(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "pipeline:\n  failure_probability: 0\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Pipeline.Probability(); got != 0 {
		t.Errorf("Probability() = %v, want 0", got)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", errs)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	content := `
pipeline:
  failure_probability: 1.5
  time_scale: -1
telemetry:
  interval: soon
assistant:
  provider: claude
  timeout: -5s
server:
  port: 70000
log:
  level: loud
`
	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	want := []string{
		"pipeline.failure_probability",
		"pipeline.time_scale",
		"telemetry.interval",
		"assistant.timeout",
		"assistant.provider",
		"server.port",
		"log.level",
	}
	if len(errs) != len(want) {
		t.Fatalf("expected %d errors, got %d: %v", len(want), len(errs), errs)
	}
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range want {
		if !fields[f] {
			t.Errorf("missing error for %s", f)
		}
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "server.port", Message: "port 0 out of range"}
	if e.Error() != "server.port: port 0 out of range" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestDurationFallbacks(t *testing.T) {
	if got := (Telemetry{Interval: "bogus"}).IntervalDuration(); got != time.Second {
		t.Errorf("IntervalDuration() = %v, want 1s", got)
	}
	if got := (Server{}).StreamIntervalDuration(); got != 500*time.Millisecond {
		t.Errorf("StreamIntervalDuration() = %v", got)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("SIMOPS_TEST_KEY", "secret")
	a := Assistant{APIKeyEnv: "SIMOPS_TEST_KEY"}
	if a.APIKey() != "secret" {
		t.Errorf("APIKey() = %q", a.APIKey())
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "pipeline: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config YAML") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/simops.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDefaultNotFound(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := LoadDefault()
	if err == nil {
		t.Error("expected error when no config file found")
	}

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if cfg.Path != "" || cfg.Server.Port != DefaultPort {
		t.Errorf("Resolve should fall back to defaults, got %+v", cfg)
	}
}

func TestLoadDefaultFromCurrentDir(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "simops.yaml"), []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	out, err := Marshal(Default())
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(out), "failure_probability: 0.2") {
		t.Errorf("marshalled config missing probability:\n%s", out)
	}
	if strings.Contains(string(out), "path:") {
		t.Errorf("Path must not be serialized:\n%s", out)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent to testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
