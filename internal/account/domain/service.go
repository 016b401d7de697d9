package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Email string
	Name  string
	Role  Role
	Plan  string
}

type ListRequest struct {
	Search string
	Role   string
	Plan   string
	Page   int
}

type ListResponse struct {
	Accounts []Account `json:"accounts"`
	pagination.PageMeta
}

type ListFilter struct {
	Search string
	Role   string
	Plan   string
	Limit  int
	Offset int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Account, int64, error)
	UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role Role, at time.Time) (int64, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, at time.Time) (int64, error)
	RecordLogin(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Account, error)
	Get(ctx context.Context, id snowflake.ID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	UpdateRole(ctx context.Context, actor Principal, id snowflake.ID, role Role) (*Account, error)
	ChangePlan(ctx context.Context, actor Principal, id snowflake.ID, plan string) (*Account, error)
	RecordLogin(ctx context.Context, id snowflake.ID) error
	Delete(ctx context.Context, actor Principal, id snowflake.ID) error
}

var (
	ErrAccountNotFound = ledgerdomain.ErrAccountNotFound
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrEmailTaken      = errors.New("email_taken")
	ErrInvalidRole     = errors.New("invalid_role")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrInvalidID       = errors.New("invalid_account_id")
)
