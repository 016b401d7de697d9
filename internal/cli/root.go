// Package cli wires the creditkit commands. Every command builds its own fx
// graph from the shared infrastructure modules.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/account"
	"github.com/smallbiznis/creditkit/internal/analytics"
	"github.com/smallbiznis/creditkit/internal/audit"
	"github.com/smallbiznis/creditkit/internal/auth"
	"github.com/smallbiznis/creditkit/internal/authorization"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/smallbiznis/creditkit/internal/credit"
	"github.com/smallbiznis/creditkit/internal/featureflag"
	"github.com/smallbiznis/creditkit/internal/ledger"
	"github.com/smallbiznis/creditkit/internal/observability"
	"github.com/smallbiznis/creditkit/internal/providers/email"
	"github.com/smallbiznis/creditkit/internal/ratelimit"
	"github.com/smallbiznis/creditkit/internal/renewal"
	"github.com/smallbiznis/creditkit/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const oneShotTimeout = 2 * time.Minute

var rootCmd = &cobra.Command{
	Use:           "creditkit",
	Short:         "Credit ledger service for SaaS accounts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// coreModules is everything except the HTTP server, the scheduler and the
// migration runner.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		ledger.Module,
		audit.Module,
		account.Module,
		credit.Module,
		featureflag.Module,
		analytics.Module,
		auth.Module,
		authorization.Module,
		email.Module,
		ratelimit.Module,
		renewal.Module,
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// withTargets adds extra on top of coreModules and populates targets.
func withTargets(extra fx.Option, targets ...any) fx.Option {
	return fx.Options(coreModules(), extra, fx.Populate(targets...))
}

// runOnce starts a short-lived graph, hands the populated targets to fn and
// stops the graph afterwards.
func runOnce(ctx context.Context, opts fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(opts, fx.NopLogger)
	if err := app.Err(); err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop app: %w", err)
	}
	return runErr
}
