package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/config"
	"github.com/lucasnoah/simops/internal/db"
	"github.com/lucasnoah/simops/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "simops",
	Short: "simops: a simulated CI/CD pipeline with telemetry and an AI assistant",
	Long: `simops runs a four-stage simulated CI/CD pipeline (source checkout, build & test,
containerize, deploy) next to a synthetic telemetry stream, and lets a DevOps
assistant explain the results or analyze build logs.

Configuration is read from ./simops.yaml or ~/.simops/config.yaml. Run history is
stored in ~/.simops/simops.db unless database.dsn points elsewhere.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to simops config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}

// loadConfig resolves --config (or the search paths) and applies flag
// overrides. It does not validate.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// loadValidConfig is loadConfig plus validation; the first problem is
// returned as the error.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config (%d error(s)): %s", len(errs), errs[0])
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}

func openDB(cfg *config.Config) (*db.DB, error) {
	database, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}
