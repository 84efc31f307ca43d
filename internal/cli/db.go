package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/simops/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run history database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
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
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date.\n", describeDB(database))
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded runs (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
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

		if err := database.Reset(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s reset.\n", describeDB(database))
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "Confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}

// describeDB names the database without echoing Postgres credentials.
func describeDB(database *db.DB) string {
	if database.Dialect() == db.Postgres {
		return "(postgres)"
	}
	return database.DSN()
}
