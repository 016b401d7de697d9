package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind categorizes a ledger transaction.
type Kind string

const (
	KindAdminGrant   Kind = "admin_grant"
	KindFeatureUse   Kind = "feature_use"
	KindPlanRenewal  Kind = "plan_renewal"
	KindPlanChange   Kind = "plan_change"
	KindCompensation Kind = "compensation"
)

var kindPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Valid reports whether k is a well-formed kind.
func (k Kind) Valid() bool {
	return kindPattern.MatchString(string(k))
}

// Transaction is an append-only ledger row. Rows are never updated; they go
// away only when the owning account is deleted.
type Transaction struct {
	ID          snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID   snowflake.ID      `gorm:"not null;index:idx_credit_transactions_account_created,priority:1" json:"account_id"`
	Amount      int64             `gorm:"not null;check:chk_credit_transactions_amount_nonzero,amount <> 0" json:"amount"`
	Kind        Kind              `gorm:"type:varchar(64);not null;index" json:"kind"`
	Description *string           `gorm:"type:text" json:"description,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index:idx_credit_transactions_account_created,priority:2" json:"created_at"`
}

func (Transaction) TableName() string { return "credit_transactions" }
