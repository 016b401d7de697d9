// Package renewal tops accounts up with their plan's monthly allotment.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/config"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Plans  *config.PlansHolder
	Store  ledgerdomain.Store
}

type Renewer struct {
	db        *gorm.DB
	log       *zap.Logger
	plans     *config.PlansHolder
	store     ledgerdomain.Store
	period    time.Duration
	batchSize int
}

type Result struct {
	Renewed int   `json:"renewed"`
	Credits int64 `json:"credits"`
}

func New(p Params) *Renewer {
	days := p.Config.Credits.RenewalPeriodDay
	if days <= 0 {
		days = 30
	}
	return &Renewer{
		db:        p.DB,
		log:       p.Log.Named("renewal"),
		plans:     p.Plans,
		store:     p.Store,
		period:    time.Duration(days) * 24 * time.Hour,
		batchSize: defaultBatchSize,
	}
}

// RunOnce renews every account whose last renewal is at least one period old
// as of now. Each account is claimed and credited in one transaction, so two
// runners racing on the same account credit it once.
func (r *Renewer) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	now = now.UTC()
	cutoff := now.Add(-r.period)
	plans := r.plans.Get()

	var (
		result Result
		jobErr error
		after  snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(jobErr, err)
		}

		var ids []snowflake.ID
		err := r.db.WithContext(ctx).Raw(
			`SELECT id FROM accounts
			 WHERE id > ? AND (credits_renewed_at IS NULL OR credits_renewed_at <= ?)
			 ORDER BY id ASC
			 LIMIT ?`,
			after, cutoff, r.batchSize,
		).Scan(&ids).Error
		if err != nil {
			return result, errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			return result, jobErr
		}

		for _, id := range ids {
			after = id
			credited, claimed, err := r.renewAccount(ctx, id, now, cutoff, plans)
			if err != nil {
				jobErr = errors.Join(jobErr, fmt.Errorf("renew account %s: %w", id, err))
				r.log.Error("plan renewal failed", zap.String("account_id", id.String()), zap.Error(err))
				continue
			}
			if claimed {
				result.Renewed++
				result.Credits += credited
			}
		}
	}
}

func (r *Renewer) renewAccount(ctx context.Context, id snowflake.ID, now, cutoff time.Time, plans config.PlansConfig) (int64, bool, error) {
	var credited int64
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE accounts SET credits_renewed_at = ?
			 WHERE id = ? AND (credits_renewed_at IS NULL OR credits_renewed_at <= ?)`,
			now, id, cutoff,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true

		var plan string
		if err := tx.Raw(`SELECT plan FROM accounts WHERE id = ?`, id).Scan(&plan).Error; err != nil {
			return err
		}
		allotment, ok := plans.Allotment(plan)
		if !ok {
			r.log.Warn("account on unknown plan, renewal skipped",
				zap.String("account_id", id.String()),
				zap.String("plan", plan),
			)
			return nil
		}
		if allotment == 0 {
			return nil
		}

		if _, err := r.store.ApplyDelta(ctx, tx, ledgerdomain.Delta{
			AccountID:   id,
			Amount:      allotment,
			Kind:        ledgerdomain.KindPlanRenewal,
			Description: fmt.Sprintf("Monthly %s plan renewal", plan),
			Metadata:    map[string]any{"plan": plan, "period_start": now.Format(time.RFC3339)},
		}); err != nil {
			return err
		}
		credited = allotment
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return credited, claimed, nil
}
