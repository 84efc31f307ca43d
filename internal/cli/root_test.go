package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/simops/internal/assistant"
	"github.com/lucasnoah/simops/internal/pipeline"
)

// resetFlags puts every flag in the command tree back to its default, so
// state from one Execute (including --help) does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeTestConfig writes a config that runs the pipeline near-instantly
// against a temp database with no assistant backend.
func writeTestConfig(t *testing.T) (path, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "runs.db")
	path = filepath.Join(dir, "simops.yaml")
	content := `pipeline:
  time_scale: 0.0001
  seed: 7
assistant:
  provider: none
database:
  dsn: ` + dbPath + `
log:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dbPath
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "simops version test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"serve", "run", "chat", "analyze", "history", "config", "db", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cases := [][]string{
		{"history", "show"}, {"history", "prune"},
		{"config", "validate"}, {"config", "show"}, {"config", "prompts"},
		{"db", "migrate"}, {"db", "reset"},
	}
	for _, c := range cases {
		out, err := executeCommand(append(c, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", c, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", c)
		}
	}
}

func TestHelpDoesNotLeakIntoNextRun(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := executeCommand("config", "validate", "--help"); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	out, err := executeCommand("config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if strings.Contains(out, "Usage:") || !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("validate printed help instead of running:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestConfigValidate(t *testing.T) {
	path, _ := writeTestConfig(t)
	out, err := executeCommand("config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("got: %s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("pipeline:\n  failure_probability: 2\nassistant:\n  provider: claude\n"), 0o644)
	out, err = executeCommand("config", "validate", "--config", bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(out, "pipeline.failure_probability") || !strings.Contains(out, "claude") {
		t.Errorf("expected both problems listed, got: %s", out)
	}
}

func TestConfigShow(t *testing.T) {
	path, dbPath := writeTestConfig(t)
	out, err := executeCommand("config", "show", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "# loaded from "+path) {
		t.Errorf("missing source line: %s", out)
	}
	if !strings.Contains(out, dbPath) || !strings.Contains(out, "provider: none") {
		t.Errorf("resolved config incomplete: %s", out)
	}
}

func TestConfigPrompts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")
	if _, err := executeCommand("config", "prompts", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "system.md")); err != nil {
		t.Errorf("system prompt not written: %v", err)
	}
}

func TestRunSuccessRecordsHistory(t *testing.T) {
	path, _ := writeTestConfig(t)
	out, err := executeCommand("run", "--config", path, "--format", "json",
		"--failure-probability", "0")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	var run pipeline.RunRecord
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("run output is not JSON: %v\n%s", err, out)
	}
	if run.Status != pipeline.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", run.Status)
	}
	if len(run.Stages) != 4 {
		t.Errorf("stages = %d, want 4", len(run.Stages))
	}
	if run.Logs[0] != pipeline.InitLine || run.Logs[len(run.Logs)-1] != pipeline.CompletionLine {
		t.Errorf("log not framed by init/completion lines: %q ... %q", run.Logs[0], run.Logs[len(run.Logs)-1])
	}

	out, err = executeCommand("history", "--config", path, "--json")
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	var hist struct {
		Runs []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"runs"`
		KPIs struct {
			Summary struct {
				Total int `json:"total"`
			} `json:"summary"`
		} `json:"kpis"`
	}
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(hist.Runs) != 1 || hist.Runs[0].ID != run.ID {
		t.Fatalf("history = %+v, want the recorded run %s", hist.Runs, run.ID)
	}
	if hist.KPIs.Summary.Total != 1 {
		t.Errorf("kpi total = %d, want 1", hist.KPIs.Summary.Total)
	}
}

func TestRunFailureExitsNonZero(t *testing.T) {
	path, _ := writeTestConfig(t)
	outFile := filepath.Join(t.TempDir(), "run.json")
	out, err := executeCommand("run", "--config", path, "--format", "text",
		"--failure-probability", "1", "--no-record", "--out", outFile)
	if err == nil {
		t.Fatalf("expected failure, got none:\n%s", out)
	}
	if !strings.Contains(err.Error(), "build-and-test") {
		t.Errorf("error = %v, want failed stage named", err)
	}
	for _, want := range []string{"Pipeline FAILED", "Failed stage: build-and-test", "Run written to"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	run, err := pipeline.LoadRecord(outFile)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != pipeline.StatusFailed {
		t.Errorf("saved status = %s, want FAILED", run.Status)
	}

	// No backend is configured, so analysis degrades to the fallback text.
	out, err = executeCommand("analyze", "--config", path, "--from", outFile)
	if err != nil {
		t.Fatalf("analyze failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, assistant.AnalyzeFallback) {
		t.Errorf("expected fallback analysis, got:\n%s", out)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := executeCommand("run", "--config", path, "--format", "xml", "--failure-probability", "0"); err == nil {
		t.Error("expected error for --format xml")
	}
	if _, err := executeCommand("run", "--config", path, "--format", "json", "--failure-probability", "1.5"); err == nil {
		t.Error("expected error for --failure-probability 1.5")
	}
}

func TestAnalyzeWithoutRuns(t *testing.T) {
	path, _ := writeTestConfig(t)
	_, err := executeCommand("analyze", "--config", path, "--from", "")
	if err == nil || !strings.Contains(err.Error(), "no runs recorded") {
		t.Errorf("err = %v, want no runs recorded", err)
	}
}

func TestDBResetRequiresYes(t *testing.T) {
	path, _ := writeTestConfig(t)
	if _, err := executeCommand("db", "reset", "--config", path); err == nil {
		t.Error("expected reset without --yes to fail")
	}
	out, err := executeCommand("db", "reset", "--config", path, "--yes")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.Contains(out, "reset") {
		t.Errorf("got: %s", out)
	}
}

func TestChatQuit(t *testing.T) {
	path, _ := writeTestConfig(t)
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader("   \n/quit\n"))
	rootCmd.SetArgs([]string{"chat", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if !strings.Contains(buf.String(), "DevOps Assistant") {
		t.Errorf("welcome message missing:\n%s", buf.String())
	}
}

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseWindow(in)
		if err != nil || got != want {
			t.Errorf("parseWindow(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"xd", "-1d", "-3h", "soon"} {
		if _, err := parseWindow(bad); err == nil {
			t.Errorf("parseWindow(%q) succeeded, want error", bad)
		}
	}
}

func TestParseCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	got, err := parseCutoff("2d", now)
	if err != nil || !got.Equal(now.Add(-48*time.Hour)) {
		t.Errorf("parseCutoff(2d) = %v, %v", got, err)
	}
	got, err = parseCutoff("2026-01-02", now)
	if err != nil || got.Year() != 2026 || got.Month() != time.January || got.Day() != 2 {
		t.Errorf("parseCutoff(date) = %v, %v", got, err)
	}
	if _, err := parseCutoff("yesterday", now); err == nil {
		t.Error("expected error")
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got, err := parseSince("1d", now)
	if err != nil || got != "2026-03-09 12:00:00.000" {
		t.Errorf("parseSince(1d) = %q, %v", got, err)
	}
	if got, _ := parseSince("", now); got != "" {
		t.Errorf("empty since = %q", got)
	}
}
