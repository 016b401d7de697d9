package cli

import (
	"github.com/smallbiznis/creditkit/internal/migration"
	"github.com/smallbiznis/creditkit/internal/scheduler"
	"github.com/smallbiznis/creditkit/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background jobs",
	Long: `Run the HTTP API together with the cron scheduler that renews plan
allotments, reconciles cached balances and prunes expired sessions.
Migrations and the admin seed run before the server starts listening.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			migration.Module,
			scheduler.Module,
			server.Module,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}
