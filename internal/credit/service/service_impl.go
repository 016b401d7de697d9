package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	"github.com/smallbiznis/creditkit/internal/config"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditkit/internal/observability/metrics"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Store      ledgerdomain.Store
	AuditSvc   auditdomain.Service    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	store      ledgerdomain.Store
	strategy   string
	pageSize   int
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	jobMetrics *obsmetrics.JobMetrics
}

func NewService(p Params) creditdomain.Service {
	pageSize := p.Config.Credits.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	strategy := p.Config.Credits.SpendStrategy
	if strategy == "" {
		strategy = config.SpendStrategyGuarded
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		store:      p.Store,
		strategy:   strategy,
		pageSize:   pageSize,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		jobMetrics: p.JobMetrics,
	}
}

func (s *Service) Spend(ctx context.Context, req creditdomain.SpendRequest) (*creditdomain.SpendResult, error) {
	if req.Amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	kind, err := normalizeKind(req.Kind, ledgerdomain.KindFeatureUse)
	if err != nil {
		return nil, err
	}

	balance, err := s.store.ReadBalance(ctx, s.db, req.AccountID)
	if err != nil {
		s.recordSpend(ctx, kind, err, 0)
		return nil, err
	}
	if balance < req.Amount {
		s.log.Debug("spend rejected before debit",
			zap.String("account_id", req.AccountID.String()),
			zap.Int64("amount", req.Amount),
			zap.Int64("balance", balance),
		)
		s.recordSpend(ctx, kind, creditdomain.ErrInsufficientCredits, 0)
		return nil, creditdomain.ErrInsufficientCredits
	}

	var result *creditdomain.SpendResult
	if s.strategy == config.SpendStrategyCompensate {
		result, err = s.spendCompensating(ctx, req, kind)
	} else {
		result, err = s.spendGuarded(ctx, req, kind)
	}
	s.recordSpend(ctx, kind, err, req.Amount)
	return result, err
}

// spendGuarded debits with a floor of zero so a concurrent spend that got
// there first makes this one fail without writing anything.
func (s *Service) spendGuarded(ctx context.Context, req creditdomain.SpendRequest, kind ledgerdomain.Kind) (*creditdomain.SpendResult, error) {
	floor := int64(0)
	entry, err := s.store.ApplyDelta(ctx, s.db, ledgerdomain.Delta{
		AccountID:   req.AccountID,
		Amount:      -req.Amount,
		Kind:        kind,
		Description: req.Description,
		Floor:       &floor,
	})
	if errors.Is(err, ledgerdomain.ErrBelowFloor) {
		s.log.Debug("spend lost race for balance",
			zap.String("account_id", req.AccountID.String()),
			zap.Int64("amount", req.Amount),
		)
		return nil, creditdomain.ErrInsufficientCredits
	}
	if err != nil {
		return nil, err
	}
	return &creditdomain.SpendResult{Balance: entry.NewBalance, TransactionID: entry.Transaction.ID}, nil
}

// spendCompensating debits unconditionally and, if a concurrent spend drove the
// balance below zero, appends one reversing entry.
func (s *Service) spendCompensating(ctx context.Context, req creditdomain.SpendRequest, kind ledgerdomain.Kind) (*creditdomain.SpendResult, error) {
	entry, err := s.store.ApplyDelta(ctx, s.db, ledgerdomain.Delta{
		AccountID:   req.AccountID,
		Amount:      -req.Amount,
		Kind:        kind,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	if entry.NewBalance >= 0 {
		return &creditdomain.SpendResult{Balance: entry.NewBalance, TransactionID: entry.Transaction.ID}, nil
	}

	_, err = s.store.ApplyDelta(ctx, s.db, ledgerdomain.Delta{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Kind:        ledgerdomain.KindCompensation,
		Description: fmt.Sprintf("Reverted overdrawn %s of %d credits", kind, req.Amount),
		Metadata:    map[string]any{"reverses": entry.Transaction.ID.String()},
	})
	if err != nil {
		s.log.Error("failed to compensate overdrawn spend",
			zap.String("account_id", req.AccountID.String()),
			zap.String("transaction_id", entry.Transaction.ID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("compensate transaction %s: %w", entry.Transaction.ID, err)
	}

	s.obsMetrics.RecordCompensation(ctx)
	s.log.Info("compensated overdrawn spend",
		zap.String("account_id", req.AccountID.String()),
		zap.String("transaction_id", entry.Transaction.ID.String()),
		zap.Int64("amount", req.Amount),
	)
	return nil, creditdomain.ErrInsufficientCredits
}

func (s *Service) Grant(ctx context.Context, req creditdomain.GrantRequest) (*creditdomain.GrantResult, error) {
	return s.GrantInTx(ctx, nil, req)
}

func (s *Service) GrantInTx(ctx context.Context, tx *gorm.DB, req creditdomain.GrantRequest) (*creditdomain.GrantResult, error) {
	if req.Amount == 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	kind, err := normalizeKind(req.Kind, ledgerdomain.KindAdminGrant)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultGrantDescription(req.Amount)
	}

	var metadata map[string]any
	if req.ActorID != nil {
		metadata = map[string]any{"granted_by": req.ActorID.String()}
	}

	var entry *ledgerdomain.Entry
	run := func(tx *gorm.DB) error {
		var err error
		entry, err = s.store.ApplyDelta(ctx, tx, ledgerdomain.Delta{
			AccountID:   req.AccountID,
			Amount:      req.Amount,
			Kind:        kind,
			Description: description,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		if req.ActorID == nil || s.auditSvc == nil {
			return nil
		}

		actorID := req.ActorID.String()
		targetID := req.AccountID.String()
		return s.auditSvc.AuditLog(ctx, tx, string(auditdomain.ActorTypeAccount), &actorID, auditdomain.ActionCreditsGrant, "account", &targetID, map[string]any{
			"amount":         req.Amount,
			"kind":           string(kind),
			"transaction_id": entry.Transaction.ID.String(),
			"balance":        entry.NewBalance,
		})
	}

	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordGrant(ctx, string(kind))
	s.obsMetrics.RecordLedgerEntry(ctx, string(kind))
	s.log.Info("credits granted",
		zap.String("account_id", req.AccountID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("kind", string(kind)),
		zap.Int64("balance", entry.NewBalance),
	)

	return &creditdomain.GrantResult{Balance: entry.NewBalance, TransactionID: entry.Transaction.ID}, nil
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	return s.store.ReadBalance(ctx, s.db, accountID)
}

func (s *Service) History(ctx context.Context, accountID snowflake.ID, page int) (*ledgerdomain.Page, error) {
	if _, err := s.store.ReadBalance(ctx, s.db, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, s.db, accountID, pagination.Page{Page: page, PageSize: s.pageSize})
}

func (s *Service) Verify(ctx context.Context, accountID snowflake.ID) (*creditdomain.Verification, error) {
	result := creditdomain.Verification{AccountID: accountID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.store.ReadBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		sum, err := s.store.SumAmounts(ctx, tx, accountID)
		if err != nil {
			return err
		}
		result.Balance = balance
		result.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Consistent = result.Balance == result.LedgerSum
	return &result, nil
}

func (s *Service) Reconcile(ctx context.Context) ([]ledgerdomain.Drift, error) {
	drift, err := s.store.ListDrift(ctx, s.db)
	if err != nil {
		return nil, err
	}
	s.jobMetrics.SetLedgerDrift(len(drift))
	for _, d := range drift {
		s.log.Warn("ledger drift detected",
			zap.String("account_id", d.AccountID.String()),
			zap.Int64("balance", d.Balance),
			zap.Int64("ledger_sum", d.LedgerSum),
		)
	}
	return drift, nil
}

func (s *Service) recordSpend(ctx context.Context, kind ledgerdomain.Kind, err error, amount int64) {
	outcome := obsmetrics.SpendOutcomeOK
	switch {
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		outcome = obsmetrics.SpendOutcomeInsufficient
	case err != nil:
		outcome = obsmetrics.SpendOutcomeError
	}
	s.obsMetrics.RecordSpend(ctx, string(kind), outcome, amount)
	if outcome == obsmetrics.SpendOutcomeOK {
		s.obsMetrics.RecordLedgerEntry(ctx, string(kind))
	}
}

// normalizeKind lowercases the caller's kind and keeps compensation reserved
// for the spend protocol.
func normalizeKind(raw string, def ledgerdomain.Kind) (ledgerdomain.Kind, error) {
	kind := ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(raw)))
	if kind == "" {
		kind = def
	}
	if kind == ledgerdomain.KindCompensation || !kind.Valid() {
		return "", creditdomain.ErrInvalidKind
	}
	return kind, nil
}

func defaultGrantDescription(amount int64) string {
	if amount < 0 {
		return fmt.Sprintf("Admin deducted %d credits", -amount)
	}
	return fmt.Sprintf("Admin granted %d credits", amount)
}
