package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/simops/internal/assistant"
	"github.com/lucasnoah/simops/internal/orchestrator"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the DevOps assistant in the terminal",
	Long: `Start an interactive session with the DevOps assistant. Each line is sent as one
message; replies keep the conversation's context.

Commands:
  /analyze   analyze the logs of the most recent recorded run
  /quit      leave the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		orch, err := orchestrator.New(orchestrator.Deps{Config: cfg, Logger: logger})
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		conv := orch.Conversation()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		renderMessage(out, "assistant", assistant.WelcomeMessage)

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, faintStyle.Render("> "))
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())

			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/analyze":
				lines, err := latestRunLogs(ctx, cfg)
				if err != nil {
					cmd.PrintErrf("analyze: %v\n", err)
					continue
				}
				msg := conv.AnalyzeLogs(ctx, lines)
				renderMessage(out, "assistant", msg.Text)
				continue
			}

			reply, err := conv.Send(ctx, line)
			if errors.Is(err, assistant.ErrEmptyMessage) {
				continue
			}
			if err != nil {
				return err
			}
			renderMessage(out, "assistant", reply.Text)
			if ctx.Err() != nil {
				return nil
			}
		}
	},
}
