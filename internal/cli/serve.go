package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/orchestrator"
	"github.com/lucasnoah/simops/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard and JSON API",
	Long: `Start the browser dashboard on localhost. The telemetry stream starts immediately;
pipeline runs are started from the dashboard or with POST /api/pipeline/run.

Finished runs are recorded in the run history database. If the database cannot be
opened the dashboard still runs, without history or KPIs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		deps := orchestrator.Deps{Config: cfg, Logger: logger}
		database, err := openDB(cfg)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
			database = nil
		} else {
			defer database.Close()
			deps.Recorder = database
		}

		orch, err := orchestrator.New(deps)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch.Start(ctx)
		defer orch.Shutdown()

		return web.NewServer(orch, database, logger.Named("web")).Start(ctx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
}
