package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().String("kind", "admin_grant", "Transaction kind")
	grantCmd.Flags().String("description", "", "Ledger description")
}

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT_ID AMOUNT",
	Short: "Add (or with a negative amount, remove) credits",
	Long: `Apply a credit grant without a balance check. A negative amount is an
administrative deduction and may take the balance below zero.`,
	Args: cobra.ExactArgs(2),
	RunE: runGrant,
}

func runGrant(cmd *cobra.Command, args []string) error {
	accountID, err := snowflake.ParseString(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", args[0], err)
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	kind, _ := cmd.Flags().GetString("kind")
	description, _ := cmd.Flags().GetString("description")

	var credits creditdomain.Service
	return runOnce(cmd.Context(), withTargets(fx.Options(), &credits), func(ctx context.Context) error {
		res, err := credits.Grant(ctx, creditdomain.GrantRequest{
			AccountID:   accountID,
			Amount:      amount,
			Kind:        kind,
			Description: description,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %d to %s, balance %d (transaction %s)\n", amount, accountID, res.Balance, res.TransactionID)
		return nil
	})
}
