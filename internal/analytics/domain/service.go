package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanCount struct {
	Plan  string `json:"plan"`
	Count int64  `json:"count"`
}

type GrowthBucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int64     `json:"count"`
}

type Overview struct {
	TotalAccounts    int64          `json:"total_accounts"`
	ActiveAccounts   int64          `json:"active_accounts"`
	PlanDistribution []PlanCount    `json:"plan_distribution"`
	Growth           []GrowthBucket `json:"growth"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

type RecentAccount struct {
	ID        snowflake.ID `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	Role      string       `json:"role"`
	Plan      string       `json:"plan"`
	Balance   int64        `json:"balance"`
	CreatedAt time.Time    `json:"created_at"`
}

type CreditActivity struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	AccountID     snowflake.ID `json:"account_id"`
	Email         string       `json:"email"`
	Amount        int64        `json:"amount"`
	Kind          string       `json:"kind"`
	Label         string       `json:"label"`
	CreatedAt     time.Time    `json:"created_at"`
}

type Service interface {
	Overview(ctx context.Context, now time.Time) (*Overview, error)
	RecentAccounts(ctx context.Context, limit int) ([]RecentAccount, error)
	RecentCreditActivity(ctx context.Context, limit int) ([]CreditActivity, error)
}
