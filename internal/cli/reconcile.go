package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// ErrLedgerDrift makes the process exit non-zero when a balance disagrees
// with its ledger.
var ErrLedgerDrift = errors.New("ledger drift detected")

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().String("account", "", "Only check this account id")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare cached balances with the ledger",
	Long: `Replay the ledger and compare each account's cached balance with the
sum of its transactions. Exits non-zero when any account has drifted.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rawID, _ := cmd.Flags().GetString("account")

	var accountID snowflake.ID
	if rawID != "" {
		parsed, err := snowflake.ParseString(rawID)
		if err != nil {
			return fmt.Errorf("invalid account id %q: %w", rawID, err)
		}
		accountID = parsed
	}

	var credits creditdomain.Service
	return runOnce(cmd.Context(), withTargets(fx.Options(), &credits), func(ctx context.Context) error {
		out := cmd.OutOrStdout()
		if accountID != 0 {
			v, err := credits.Verify(ctx, accountID)
			if err != nil {
				return err
			}
			writeDrift(out, []ledgerdomain.Drift{{AccountID: v.AccountID, Balance: v.Balance, LedgerSum: v.LedgerSum}})
			if !v.Consistent {
				return ErrLedgerDrift
			}
			return nil
		}

		drift, err := credits.Reconcile(ctx)
		if err != nil {
			return err
		}
		if len(drift) == 0 {
			fmt.Fprintln(out, "ledger consistent")
			return nil
		}
		writeDrift(out, drift)
		return fmt.Errorf("%w: %d accounts", ErrLedgerDrift, len(drift))
	})
}

func writeDrift(out io.Writer, rows []ledgerdomain.Drift) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tBALANCE\tLEDGER SUM")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\n", row.AccountID, row.Balance, row.LedgerSum)
	}
	_ = w.Flush()
}
