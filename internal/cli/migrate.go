package cli

import (
	"context"
	"fmt"

	"github.com/smallbiznis/creditkit/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and seed the admin account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var log *zap.Logger
		opts := withTargets(migration.Module, &log)
		return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
			log.Info("migrations applied")
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}
