// Package seed bootstraps the operator account on startup.
package seed

import (
	"context"
	"errors"
	"strings"

	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	"github.com/smallbiznis/creditkit/internal/config"
	"go.uber.org/zap"
)

// EnsureAdmin makes sure the account for email exists with the admin role and
// plan. It is a no-op when email is empty. Existing accounts keep their
// balance; only the role and plan are raised.
func EnsureAdmin(ctx context.Context, accounts accountdomain.Service, email string, log *zap.Logger) (*accountdomain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	if accounts == nil {
		return nil, errors.New("seed account service is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("seed")

	acc, err := accounts.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, accountdomain.ErrAccountNotFound):
		acc, err = accounts.Create(ctx, accountdomain.CreateRequest{
			Email: email,
			Role:  accountdomain.RoleAdmin,
			Plan:  config.PlanAdmin,
		})
		if errors.Is(err, accountdomain.ErrEmailTaken) {
			// another replica seeded it first
			return accounts.GetByEmail(ctx, email)
		}
		if err != nil {
			return nil, err
		}
		log.Info("admin account created", zap.String("account_id", acc.ID.String()))
		return acc, nil
	case err != nil:
		return nil, err
	}

	if acc.Role != accountdomain.RoleAdmin {
		if acc, err = accounts.UpdateRole(ctx, accountdomain.SystemPrincipal, acc.ID, accountdomain.RoleAdmin); err != nil {
			return nil, err
		}
		log.Info("account promoted to admin", zap.String("account_id", acc.ID.String()))
	}
	if acc.Plan != config.PlanAdmin {
		if acc, err = accounts.ChangePlan(ctx, accountdomain.SystemPrincipal, acc.ID, config.PlanAdmin); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
