package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bchat-ai/bchat/internal/mcp"
)

// newWatchCommand creates the 'bchat watch' command.
func newWatchCommand(opts *options) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep autoconnect servers running under config hot-reload",
		Long: `Connect every autoconnect server and watch the configuration file.
Edits are applied live: removed servers are disconnected, changed or
added autoconnect servers are reconnected. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, logger := opts.setup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			connected := manager.ConnectAutoconnect(ctx)
			fmt.Printf("Connected %d server(s); watching %s\n", connected, opts.configPath)

			watcher, err := mcp.NewWatcher(mcp.WatcherConfig{
				Manager:       manager,
				Path:          opts.configPath,
				Logger:        logger,
				DebounceDelay: debounce,
			})
			if err != nil {
				manager.Close(context.WithoutCancel(ctx))
				return fmt.Errorf("failed to start config watcher: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutting down")

			if err := watcher.Close(); err != nil {
				logger.Error("error closing watcher", "error", err)
			}
			manager.Close(context.WithoutCancel(ctx))
			return nil
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before applying config changes (default 200ms)")
	return cmd
}
