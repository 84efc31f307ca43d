package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/simops/internal/config"
	"github.com/lucasnoah/simops/internal/prompt"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect simops configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := config.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		out := cmd.OutOrStdout()
		if cfg.Path != "" {
			fmt.Fprintf(out, "# loaded from %s\n", cfg.Path)
		} else {
			fmt.Fprintln(out, "# no config file found; showing defaults")
		}
		out.Write(data)
		return nil
	},
}

var configPromptsCmd = &cobra.Command{
	Use:   "prompts <dir>",
	Short: "Write the built-in assistant prompts to a directory for editing",
	Long: `Write the built-in prompt templates to <dir>. Existing files are left alone.
Point assistant.prompt_dir at the directory to use the edited prompts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := prompt.InstallBuiltins(args[0]); err != nil {
			return err
		}
		cmd.Printf("Prompts written to %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPromptsCmd)
}
