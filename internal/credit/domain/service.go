package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	"gorm.io/gorm"
)

type SpendRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Kind        string
	Description string
}

type SpendResult struct {
	Balance       int64        `json:"balance"`
	TransactionID snowflake.ID `json:"transaction_id"`
}

type GrantRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Kind        string
	Description string
	// ActorID is the administrator behind the grant; when set the grant is audited.
	ActorID *snowflake.ID
}

type GrantResult struct {
	Balance       int64        `json:"balance"`
	TransactionID snowflake.ID `json:"transaction_id"`
}

// Verification compares an account's cached balance with its ledger sum.
type Verification struct {
	AccountID  snowflake.ID `json:"account_id"`
	Balance    int64        `json:"balance"`
	LedgerSum  int64        `json:"ledger_sum"`
	Consistent bool         `json:"consistent"`
}

type Service interface {
	// Spend deducts a positive amount and never leaves the balance negative.
	Spend(ctx context.Context, req SpendRequest) (*SpendResult, error)
	// Grant applies a non-zero amount without any balance check.
	Grant(ctx context.Context, req GrantRequest) (*GrantResult, error)
	GrantInTx(ctx context.Context, tx *gorm.DB, req GrantRequest) (*GrantResult, error)
	Balance(ctx context.Context, accountID snowflake.ID) (int64, error)
	History(ctx context.Context, accountID snowflake.ID, page int) (*ledgerdomain.Page, error)
	Verify(ctx context.Context, accountID snowflake.ID) (*Verification, error)
	Reconcile(ctx context.Context) ([]ledgerdomain.Drift, error)
}

var (
	ErrAccountNotFound     = ledgerdomain.ErrAccountNotFound
	ErrInvalidKind         = ledgerdomain.ErrInvalidKind
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidAmount       = errors.New("invalid_amount")
)
