package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/analytics/domain"
	"github.com/smallbiznis/creditkit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	activeWindow = 30 * 24 * time.Hour
	growthWeeks  = 4
	week         = 7 * 24 * time.Hour

	defaultRecentLimit = 5
	maxRecentLimit     = 50
)

// plans that always appear in the distribution, in display order
var corePlans = []string{config.PlanFree, config.PlanBasic, config.PlanPro}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("analytics.service"),
	}
}

func (s *Service) Overview(ctx context.Context, now time.Time) (*domain.Overview, error) {
	now = now.UTC()
	overview := &domain.Overview{GeneratedAt: now}

	db := s.db.WithContext(ctx)
	if err := db.Raw(`SELECT COUNT(1) FROM accounts`).Scan(&overview.TotalAccounts).Error; err != nil {
		return nil, err
	}

	// active means the account spent something recently
	if err := db.Raw(
		`SELECT COUNT(DISTINCT account_id)
		 FROM credit_transactions
		 WHERE amount < 0 AND created_at >= ?`,
		now.Add(-activeWindow),
	).Scan(&overview.ActiveAccounts).Error; err != nil {
		return nil, err
	}

	distribution, err := s.planDistribution(ctx)
	if err != nil {
		return nil, err
	}
	overview.PlanDistribution = distribution

	growth, err := s.growth(ctx, now)
	if err != nil {
		return nil, err
	}
	overview.Growth = growth

	return overview, nil
}

func (s *Service) planDistribution(ctx context.Context) ([]domain.PlanCount, error) {
	var rows []domain.PlanCount
	if err := s.db.WithContext(ctx).Raw(
		`SELECT plan, COUNT(1) AS count FROM accounts GROUP BY plan`,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Plan] = row.Count
	}

	out := make([]domain.PlanCount, 0, len(counts)+len(corePlans))
	for _, plan := range corePlans {
		out = append(out, domain.PlanCount{Plan: plan, Count: counts[plan]})
		delete(counts, plan)
	}
	extra := make([]string, 0, len(counts))
	for plan := range counts {
		extra = append(extra, plan)
	}
	sort.Strings(extra)
	for _, plan := range extra {
		out = append(out, domain.PlanCount{Plan: plan, Count: counts[plan]})
	}
	return out, nil
}

// growth returns signups per week for the last four weeks, oldest first.
func (s *Service) growth(ctx context.Context, now time.Time) ([]domain.GrowthBucket, error) {
	buckets := make([]domain.GrowthBucket, 0, growthWeeks)
	for i := growthWeeks; i > 0; i-- {
		start := now.Add(-time.Duration(i) * week)
		end := start.Add(week)
		var count int64
		if err := s.db.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM accounts WHERE created_at >= ? AND created_at < ?`,
			start, end,
		).Scan(&count).Error; err != nil {
			return nil, err
		}
		buckets = append(buckets, domain.GrowthBucket{
			Label: start.Format("Jan 2"),
			Start: start,
			End:   end,
			Count: count,
		})
	}
	return buckets, nil
}

func (s *Service) RecentAccounts(ctx context.Context, limit int) ([]domain.RecentAccount, error) {
	items := []domain.RecentAccount{}
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, email, name, role, plan, balance, created_at
		 FROM accounts
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) RecentCreditActivity(ctx context.Context, limit int) ([]domain.CreditActivity, error) {
	var rows []struct {
		TransactionID snowflake.ID
		AccountID     snowflake.ID
		Email         string
		Amount        int64
		Kind          string
		Description   *string
		CreatedAt     time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT t.id AS transaction_id, t.account_id, a.email, t.amount, t.kind, t.description, t.created_at
		 FROM credit_transactions t
		 JOIN accounts a ON a.id = t.account_id
		 ORDER BY t.created_at DESC, t.id DESC
		 LIMIT ?`,
		clampLimit(limit),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.CreditActivity, 0, len(rows))
	for _, row := range rows {
		label := titleKind(row.Kind)
		if row.Description != nil && strings.TrimSpace(*row.Description) != "" {
			label = strings.TrimSpace(*row.Description)
		}
		items = append(items, domain.CreditActivity{
			TransactionID: row.TransactionID,
			AccountID:     row.AccountID,
			Email:         row.Email,
			Amount:        row.Amount,
			Kind:          row.Kind,
			Label:         label,
			CreatedAt:     row.CreatedAt,
		})
	}
	return items, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

// titleKind renders "feature_use" as "Feature Use".
func titleKind(kind string) string {
	parts := strings.Split(kind, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
