package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"costrologer/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := cfg.SQLiteDBPath
		if cfg.DBDriver == "postgres" {
			dsn = cfg.DatabaseURL
		}
		repo, err := storage.Open(cmd.Context(), cfg.DBDriver, dsn)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer repo.Close()

		logger.InfoContext(cmd.Context(), "Migrations applied", "db_driver", cfg.DBDriver)
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
