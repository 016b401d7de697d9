package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Enabled     *bool   `json:"enabled"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, flag *Flag) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Flag, error)
	List(ctx context.Context, db *gorm.DB) ([]FlagSummary, error)
	SetEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool, at time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	Assign(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	Unassign(ctx context.Context, db *gorm.DB, flagID, accountID snowflake.ID) (int64, error)
	ListAccounts(ctx context.Context, db *gorm.DB, flagID snowflake.ID) ([]AssignedAccount, error)
	ListForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]AccountFlag, error)
	IsAssignedAndEnabled(ctx context.Context, db *gorm.DB, accountID snowflake.ID, name string) (bool, error)
}

type Service interface {
	Create(ctx context.Context, actor accountdomain.Principal, req CreateRequest) (*Flag, error)
	List(ctx context.Context) ([]FlagSummary, error)
	Get(ctx context.Context, id snowflake.ID) (*Flag, error)
	SetEnabled(ctx context.Context, actor accountdomain.Principal, id snowflake.ID, enabled bool) (*Flag, error)
	Delete(ctx context.Context, actor accountdomain.Principal, id snowflake.ID) error
	Assign(ctx context.Context, actor accountdomain.Principal, flagID, accountID snowflake.ID) error
	Unassign(ctx context.Context, actor accountdomain.Principal, flagID, accountID snowflake.ID) error
	ListAccounts(ctx context.Context, flagID snowflake.ID) ([]AssignedAccount, error)
	ListForAccount(ctx context.Context, accountID snowflake.ID) ([]AccountFlag, error)
	CanAccess(ctx context.Context, principal accountdomain.Principal, name string) (bool, error)
}

var (
	ErrInvalidName  = errors.New("invalid_flag_name")
	ErrFlagExists   = errors.New("flag_exists")
	ErrFlagNotFound = errors.New("flag_not_found")
	ErrInvalidID    = errors.New("invalid_flag_id")
)
