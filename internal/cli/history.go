package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/simops/internal/analytics"
	"github.com/lucasnoah/simops/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs and pipeline KPIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sinceFlag, _ := cmd.Flags().GetString("since")
		asJSON, _ := cmd.Flags().GetBool("json")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runs, err := database.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		kpis, err := analytics.QueryKPIs(database, since)
		if err != nil {
			return err
		}

		if asJSON {
			data, err := json.MarshalIndent(struct {
				Runs []db.Run        `json:"runs"`
				KPIs *analytics.KPIs `json:"kpis"`
			}{runs, kpis}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tFAILED STAGE\tSTARTED\tDURATION")
		for _, r := range runs {
			failed := r.FailedStage
			if failed == "" {
				failed = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(r.ID), r.Status, failed,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				formatDuration(time.Duration(r.DurationMs)*time.Millisecond))
		}
		w.Flush()

		fmt.Fprintln(cmd.OutOrStdout())
		renderKPIs(cmd, kpis)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one stored run with its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		run, err := database.LoadRecord(cmd.Context(), args[0])
		if errors.Is(err, db.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", args[0])
		}
		if err != nil {
			return err
		}
		for _, l := range run.Logs {
			fmt.Fprintln(cmd.OutOrStdout(), faintStyle.Render("│ ") + l)
		}
		renderSummary(cmd.OutOrStdout(), *run)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs started before a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		before, _ := cmd.Flags().GetString("before")
		if before == "" {
			return fmt.Errorf("--before is required (e.g. 30d or 2026-01-02)")
		}
		cutoff, err := parseCutoff(before, time.Now())
		if err != nil {
			return err
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		n, err := database.DeleteRunsBefore(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s) started before %s.\n", n, cutoff.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func renderKPIs(cmd *cobra.Command, k *analytics.KPIs) {
	fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("KPIs"))
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Runs\t%d (%d succeeded, %d failed)\n", k.Summary.Total, k.Summary.Succeeded, k.Summary.Failed)
	fmt.Fprintf(w, "Build Success Rate\t%.1f%%\n", k.Summary.SuccessRate)
	fmt.Fprintf(w, "Avg / P95 Duration\t%.1fs / %.1fs\n", k.Summary.AvgDuration, k.Summary.P95Duration)
	mttr := "-"
	if k.Recovery.Recovered > 0 {
		mttr = formatDuration(time.Duration(k.Recovery.MTTR * float64(time.Second)))
	}
	fmt.Fprintf(w, "Mean Time to Recovery\t%s (%d incident(s))\n", mttr, k.Recovery.Incidents)
	if k.Recovery.OpenSince != "" {
		fmt.Fprintf(w, "Failing since\t%s\n", k.Recovery.OpenSince)
	}
	for _, f := range k.Failures {
		fmt.Fprintf(w, "Fail rate: %s\t%.1f%% (%d/%d)\n", f.Stage, f.FailRate, f.Failed, f.Reached)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseSince turns a relative window like "24h" or "7d" into the stored
// timestamp format. Empty means no bound.
func parseSince(s string, now time.Time) (string, error) {
	if s == "" {
		return "", nil
	}
	d, err := parseWindow(s)
	if err != nil {
		return "", fmt.Errorf("--since: %w", err)
	}
	return db.FormatTime(now.Add(-d)), nil
}

// parseCutoff accepts a relative window ("30d") or a date ("2026-01-02").
func parseCutoff(s string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	d, err := parseWindow(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--before: want a window like 30d or a date like 2026-01-02: %w", err)
	}
	return now.Add(-d), nil
}

// parseWindow is time.ParseDuration plus a "d" (day) suffix.
func parseWindow(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative window %q", s)
	}
	return d, nil
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum runs to list")
	historyCmd.Flags().String("since", "", "Only count runs in this window for KPIs (e.g. 24h, 7d)")
	historyCmd.Flags().Bool("json", false, "Print runs and KPIs as JSON")
	historyPruneCmd.Flags().String("before", "", "Delete runs started before this window or date")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
}
