package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callwatch",
	Short: "Follow a dialer call session in realtime",
	Long: `callwatch subscribes to the current user's call channel, keeps a reconciled
view of the call session and its outbound calls, and prints every accepted
change as a JSON line.

It can also drive the session (action), run a simulated backend for local
work (devserver) and mint tokens for that backend (token).

Configuration comes from the environment (API_HOST, API_TOKEN, REDIS_HOST,
DB_HOST, JWT_SECRET, ...); flags override the matching variables.`,
	SilenceUsage: true,
}

func main() {
	// Root context that cancels on shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addPersistentFlags(rootCmd)
	registerCommands(rootCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("callwatch failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(newWatchCmd(), newActionCmd(), newDevServerCmd(), newTokenCmd())
}
