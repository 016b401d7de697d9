package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"gorm.io/gorm"
)

// Delta is one signed change to an account balance.
type Delta struct {
	AccountID   snowflake.ID
	Amount      int64
	Kind        Kind
	Description string
	Metadata    map[string]any
	// Floor, when set, rejects the delta if the resulting balance would drop below it.
	Floor *int64
}

// Entry is the outcome of a successful delta.
type Entry struct {
	Transaction Transaction
	NewBalance  int64
}

type Page struct {
	Items []Transaction `json:"items"`
	pagination.PageMeta
}

// Drift is an account whose cached balance no longer equals its ledger sum.
type Drift struct {
	AccountID snowflake.ID `json:"account_id"`
	Balance   int64        `json:"balance"`
	LedgerSum int64        `json:"ledger_sum"`
}

// Store mutates accounts.balance and credit_transactions together. Every
// method takes the db handle so callers can run it inside a wider transaction.
type Store interface {
	ApplyDelta(ctx context.Context, db *gorm.DB, delta Delta) (*Entry, error)
	ReadBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, page pagination.Page) (*Page, error)
	SumAmounts(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)
	ListDrift(ctx context.Context, db *gorm.DB) ([]Drift, error)
}

var (
	ErrAccountNotFound = errors.New("account_not_found")
	ErrBelowFloor      = errors.New("balance_below_floor")
	ErrZeroAmount      = errors.New("zero_amount")
	ErrInvalidKind     = errors.New("invalid_kind")
)
