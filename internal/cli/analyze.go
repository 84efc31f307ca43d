package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/simops/internal/config"
	"github.com/lucasnoah/simops/internal/db"
	"github.com/lucasnoah/simops/internal/orchestrator"
	"github.com/lucasnoah/simops/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Ask the assistant to explain a run's build log",
	Long: `Send a run's log to the assistant and print its analysis.

The log comes from --from (a file written by "simops run --out"), from the stored
run named by --run, or from the most recent stored run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		runID, _ := cmd.Flags().GetString("run")
		if from != "" && runID != "" {
			return fmt.Errorf("--from and --run are mutually exclusive")
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()

		var run *pipeline.RunRecord
		switch {
		case from != "":
			run, err = pipeline.LoadRecord(from)
		default:
			run, err = storedRun(ctx, cfg, runID)
		}
		if err != nil {
			return err
		}
		if len(run.Logs) == 0 {
			return fmt.Errorf("run %s has no log lines", run.ID)
		}

		orch, err := orchestrator.New(orchestrator.Deps{Config: cfg, Logger: logger})
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Analyzing run %s (%s, %d log lines)...\n\n", run.ID, run.Status, len(run.Logs))
		renderMessage(cmd.OutOrStdout(), "analysis", orch.Bridge().Analyze(ctx, run.Logs))
		return nil
	},
}

// storedRun loads a run from the history database; an empty id means the
// most recent run.
func storedRun(ctx context.Context, cfg *config.Config, id string) (*pipeline.RunRecord, error) {
	database, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	if id == "" {
		latest, err := database.LatestRun(ctx)
		if errors.Is(err, db.ErrRunNotFound) {
			return nil, fmt.Errorf("no runs recorded yet; start one with \"simops run\"")
		}
		if err != nil {
			return nil, err
		}
		id = latest.ID
	}
	run, err := database.LoadRecord(ctx, id)
	if errors.Is(err, db.ErrRunNotFound) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, err
}

func latestRunLogs(ctx context.Context, cfg *config.Config) ([]string, error) {
	run, err := storedRun(ctx, cfg, "")
	if err != nil {
		return nil, err
	}
	return run.Logs, nil
}

func init() {
	analyzeCmd.Flags().String("from", "", "Read the run from a JSON file written by run --out")
	analyzeCmd.Flags().String("run", "", "ID of a stored run (default: most recent)")
}
