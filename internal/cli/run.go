package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/orchestrator"
	"github.com/lucasnoah/simops/internal/pipeline"
)

// logPollInterval is how often run follows the log while a run is active.
const logPollInterval = 100 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulated pipeline once in the terminal",
	Long: `Run the four-stage pipeline once, streaming its log, and print a stage summary.

The run is recorded in the history database unless --no-record is set. Use
--out to also write the run as JSON, which "simops analyze --from" accepts.
The command exits non-zero when the run fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("seed") {
			cfg.Pipeline.Seed, _ = flags.GetInt64("seed")
		}
		if flags.Changed("time-scale") {
			cfg.Pipeline.TimeScale, _ = flags.GetFloat64("time-scale")
		}
		if flags.Changed("failure-probability") {
			p, _ := flags.GetFloat64("failure-probability")
			if p < 0 || p > 1 {
				return fmt.Errorf("--failure-probability must be between 0 and 1, got %v", p)
			}
			cfg.Pipeline.FailureProbability = &p
		}
		format, _ := flags.GetString("format")
		if format != "text" && format != "json" {
			return fmt.Errorf("--format must be text or json, got %q", format)
		}
		outPath, _ := flags.GetString("out")
		noRecord, _ := flags.GetBool("no-record")

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		deps := orchestrator.Deps{Config: cfg, Logger: logger}
		if !noRecord {
			database, err := openDB(cfg)
			if err != nil {
				logger.Warn("run will not be recorded", zap.Error(err))
			} else {
				defer database.Close()
				deps.Recorder = database
			}
		}
		orch, err := orchestrator.New(deps)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		machine := orch.Machine()
		if !machine.Start() {
			return fmt.Errorf("a run is already in progress")
		}
		follow := format == "text"
		run, err := awaitRun(ctx, machine, func(lines []string) {
			if !follow {
				return
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), faintStyle.Render("│ ") + l)
			}
		})
		if err != nil {
			return err
		}

		if outPath != "" {
			if err := pipeline.SaveRecord(outPath, run); err != nil {
				return fmt.Errorf("save run: %w", err)
			}
		}

		if format == "json" {
			data, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal run: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		} else {
			renderSummary(cmd.OutOrStdout(), run)
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Run written to %s\n", outPath)
			}
		}

		if run.Status == pipeline.StatusFailed {
			return fmt.Errorf("pipeline failed at %s", run.FailedStage)
		}
		return nil
	},
}

// awaitRun follows the machine's log until the current run finishes and
// returns its record. Cancelling ctx stops following; the run itself is
// left to finish in the background.
func awaitRun(ctx context.Context, machine *pipeline.Machine, onLines func([]string)) (pipeline.RunRecord, error) {
	done := make(chan struct{})
	go func() {
		machine.Wait()
		close(done)
	}()

	logs := machine.Logs()
	cursor := logbuf.Cursor{}
	drain := func() {
		lines, next, _ := logs.Since(cursor)
		cursor = next
		if len(lines) > 0 {
			onLines(lines)
		}
	}

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return pipeline.RunRecord{}, ctx.Err()
		case <-done:
			drain()
			return machine.Snapshot().Record(logs.Snapshot()), nil
		case <-ticker.C:
			drain()
		}
	}
}

func init() {
	runCmd.Flags().Int64("seed", 0, "Random seed for the failure draw (0 = time based)")
	runCmd.Flags().Float64("time-scale", 0, "Multiply every stage wait (0.1 runs ten times faster)")
	runCmd.Flags().Float64("failure-probability", 0, "Chance that build & test fails (0..1)")
	runCmd.Flags().String("format", "text", "Output format: text or json")
	runCmd.Flags().String("out", "", "Also write the run record as JSON to this path")
	runCmd.Flags().Bool("no-record", false, "Do not store the run in the history database")
}
