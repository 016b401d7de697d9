package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleBeta  Role = "beta"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleBeta:
		return true
	}
	return false
}

// Account is one row per principal. Balance is a cached projection of the
// account's credit_transactions and only the ledger store writes it.
type Account struct {
	ID               snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Email            string       `gorm:"type:varchar(320);not null;uniqueIndex" json:"email"`
	Name             string       `gorm:"type:varchar(255);not null;default:''" json:"name"`
	Role             Role         `gorm:"type:varchar(16);not null;default:user;index" json:"role"`
	Plan             string       `gorm:"type:varchar(32);not null;default:free;index" json:"plan"`
	Balance          int64        `gorm:"not null;default:0" json:"balance"`
	FirstLoginAt     *time.Time   `json:"first_login_at,omitempty"`
	LastLoginAt      *time.Time   `json:"last_login_at,omitempty"`
	CreditsRenewedAt *time.Time   `gorm:"index" json:"credits_renewed_at,omitempty"`
	CreatedAt        time.Time    `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Principal is the authenticated caller, passed explicitly to anything that
// needs to know who is acting.
type Principal struct {
	AccountID snowflake.ID
	Role      Role
}

// SystemPrincipal acts for the CLI, startup seeding and background jobs.
var SystemPrincipal = Principal{Role: RoleAdmin}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsSystem() bool {
	return p.AccountID == 0 && p.Role == RoleAdmin
}
