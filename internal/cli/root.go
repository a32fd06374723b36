// Package cli holds the costrologer command tree and the wiring shared by
// its commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"costrologer/internal/config"
	applog "costrologer/internal/log"
)

var (
	cfg    *config.Config
	logger *applog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "costrologer",
	Short: "Recurring transactions, budget alerts and monthly reports",
	Long: `costrologer keeps personal ledgers: it materialises recurring
transactions on schedule, emails budget alerts when spending crosses a
threshold and sends a monthly report with insights.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig reads .env (ignored when absent), loads and validates the
// configuration, and installs the process logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return fmt.Errorf("set config file: %w", err)
		}
	}

	loaded, err := config.Load()
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	l, err := applog.Setup(loaded.LogLevel, loaded.LogFormat)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = l
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "TOML configuration file (overrides CONFIG_FILE)")
}
