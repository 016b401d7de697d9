package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	auditrepository "github.com/smallbiznis/creditkit/internal/audit/repository"
	auditservice "github.com/smallbiznis/creditkit/internal/audit/service"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditkit/internal/ledger/repository"
	"github.com/smallbiznis/creditkit/pkg/db/dbtest"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	store ledgerdomain.Store
	audit auditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &accountdomain.Account{}, &ledgerdomain.Transaction{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	return &fixture{
		db:    db,
		node:  node,
		clock: fc,
		store: ledgerrepository.NewStore(ledgerrepository.Params{GenID: node, Clock: fc}),
		audit: auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepository.Provide(), Clock: fc}),
	}
}

func (f *fixture) service(strategy string, store ledgerdomain.Store) creditdomain.Service {
	if store == nil {
		store = f.store
	}
	return NewService(Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		Config:   config.Config{Credits: config.CreditsConfig{SpendStrategy: strategy, PageSize: 20}},
		Store:    store,
		AuditSvc: f.audit,
	})
}

// seedAccount creates an account whose opening balance is itself a ledger row.
func (f *fixture) seedAccount(t *testing.T, balance int64) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	acc := accountdomain.Account{
		ID:        f.node.Generate(),
		Email:     f.node.Generate().String() + "@example.com",
		Role:      accountdomain.RoleUser,
		Plan:      config.PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&acc).Error)
	if balance != 0 {
		_, err := f.store.ApplyDelta(context.Background(), f.db, ledgerdomain.Delta{
			AccountID: acc.ID,
			Amount:    balance,
			Kind:      ledgerdomain.KindPlanRenewal,
		})
		require.NoError(t, err)
	}
	return acc.ID
}

func (f *fixture) assertReplay(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	ctx := context.Background()
	balance, err := f.store.ReadBalance(ctx, f.db, id)
	require.NoError(t, err)
	sum, err := f.store.SumAmounts(ctx, f.db, id)
	require.NoError(t, err)
	assert.Equal(t, balance, sum, "balance must equal ledger sum")
	return balance
}

func (f *fixture) rows(t *testing.T, id snowflake.ID) []ledgerdomain.Transaction {
	t.Helper()
	var rows []ledgerdomain.Transaction
	require.NoError(t, f.db.Where("account_id = ?", id).Order("id asc").Find(&rows).Error)
	return rows
}

var strategies = []string{config.SpendStrategyGuarded, config.SpendStrategyCompensate}

func TestSpendGrantScenario(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t)
			svc := f.service(strategy, nil)
			ctx := context.Background()
			id := f.seedAccount(t, 10)

			res, err := svc.Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 3, Kind: "feature_use"})
			require.NoError(t, err)
			assert.Equal(t, int64(7), res.Balance)

			_, err = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 100, Kind: "feature_use"})
			assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
			assert.Equal(t, int64(7), f.assertReplay(t, id))

			grant, err := svc.Grant(ctx, creditdomain.GrantRequest{AccountID: id, Amount: 50, Kind: "admin_grant"})
			require.NoError(t, err)
			assert.Equal(t, int64(57), grant.Balance)
			assert.Equal(t, int64(57), f.assertReplay(t, id))

			rows := f.rows(t, id)
			require.Len(t, rows, 3)
			assert.Equal(t, int64(-3), rows[1].Amount)
			assert.Equal(t, ledgerdomain.KindFeatureUse, rows[1].Kind)
			assert.Equal(t, int64(50), rows[2].Amount)
			require.NotNil(t, rows[2].Description)
			assert.Equal(t, "Admin granted 50 credits", *rows[2].Description)
		})
	}
}

func TestConcurrentSpendsOnlyOneWins(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t)
			svc := f.service(strategy, nil)
			id := f.seedAccount(t, 10)

			var wg sync.WaitGroup
			start := make(chan struct{})
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = svc.Spend(context.Background(), creditdomain.SpendRequest{AccountID: id, Amount: 10})
				}(i)
			}
			close(start)
			wg.Wait()

			var ok, insufficient int
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits):
					insufficient++
				}
			}
			assert.Equal(t, 1, ok)
			assert.Equal(t, 1, insufficient)
			assert.Equal(t, int64(0), f.assertReplay(t, id))
		})
	}
}

func TestSpendSequenceNeverGoesNegative(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy, func(t *testing.T) {
			f := newFixture(t)
			svc := f.service(strategy, nil)
			ctx := context.Background()
			id := f.seedAccount(t, 25)

			var wg sync.WaitGroup
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func(amount int64) {
					defer wg.Done()
					_, _ = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: amount})
				}(int64(i%4 + 1))
			}
			wg.Wait()

			balance := f.assertReplay(t, id)
			assert.GreaterOrEqual(t, balance, int64(0))
		})
	}
}

// staleStore reports a fixed balance so the pre-check passes even though
// another spend already drained the account.
type staleStore struct {
	ledgerdomain.Store
	balance int64
}

func (s *staleStore) ReadBalance(context.Context, *gorm.DB, snowflake.ID) (int64, error) {
	return s.balance, nil
}

func TestSpendCompensatesLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seedAccount(t, 10)

	_, err := f.service(config.SpendStrategyCompensate, nil).Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 10})
	require.NoError(t, err)

	svc := f.service(config.SpendStrategyCompensate, &staleStore{Store: f.store, balance: 10})
	_, err = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 10})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(0), f.assertReplay(t, id))

	rows := f.rows(t, id)
	require.Len(t, rows, 4)
	debit, compensation := rows[2], rows[3]
	assert.Equal(t, int64(-10), debit.Amount)
	assert.Equal(t, ledgerdomain.KindCompensation, compensation.Kind)
	assert.Equal(t, int64(0), debit.Amount+compensation.Amount)
	assert.Equal(t, debit.ID.String(), compensation.Metadata["reverses"])
}

func TestSpendGuardedLostRaceWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seedAccount(t, 10)

	_, err := f.service(config.SpendStrategyGuarded, nil).Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 10})
	require.NoError(t, err)

	svc := f.service(config.SpendStrategyGuarded, &staleStore{Store: f.store, balance: 10})
	_, err = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: id, Amount: 10})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(0), f.assertReplay(t, id))
	assert.Len(t, f.rows(t, id), 2)
}

func TestGrantIsUnconditional(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	id := f.seedAccount(t, 5)

	res, err := svc.Grant(context.Background(), creditdomain.GrantRequest{AccountID: id, Amount: -999999})
	require.NoError(t, err)
	assert.Equal(t, int64(5-999999), res.Balance)
	assert.Equal(t, int64(5-999999), f.assertReplay(t, id))

	rows := f.rows(t, id)
	require.NotNil(t, rows[1].Description)
	assert.Equal(t, "Admin deducted 999999 credits", *rows[1].Description)
}

func TestGrantWithActorWritesAudit(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	id := f.seedAccount(t, 0)
	admin := snowflake.ID(4242)

	_, err := svc.Grant(context.Background(), creditdomain.GrantRequest{AccountID: id, Amount: 50, ActorID: &admin, Description: "goodwill"})
	require.NoError(t, err)

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, auditdomain.ActionCreditsGrant, logs[0].Action)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "4242", *logs[0].ActorID)
	require.NotNil(t, logs[0].TargetID)
	assert.Equal(t, id.String(), *logs[0].TargetID)
}

func TestGrantInTxRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	id := f.seedAccount(t, 1)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.GrantInTx(context.Background(), tx, creditdomain.GrantRequest{AccountID: id, Amount: 10}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), f.assertReplay(t, id))
}

// noIOStore panics on any call; validation must fail before the store is touched.
type noIOStore struct {
	ledgerdomain.Store
}

func TestValidationHappensBeforeIO(t *testing.T) {
	svc := NewService(Params{Log: zap.NewNop(), Store: noIOStore{}})
	ctx := context.Background()

	_, err := svc.Spend(ctx, creditdomain.SpendRequest{AccountID: 1, Amount: 0})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	_, err = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: 1, Amount: -4})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	_, err = svc.Spend(ctx, creditdomain.SpendRequest{AccountID: 1, Amount: 1, Kind: "compensation"})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidKind)
	_, err = svc.Grant(ctx, creditdomain.GrantRequest{AccountID: 1, Amount: 0})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	_, err = svc.Grant(ctx, creditdomain.GrantRequest{AccountID: 1, Amount: 3, Kind: "bad kind!"})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidKind)
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	ctx := context.Background()

	_, err := svc.Spend(ctx, creditdomain.SpendRequest{AccountID: 77, Amount: 1})
	assert.ErrorIs(t, err, creditdomain.ErrAccountNotFound)
	_, err = svc.Grant(ctx, creditdomain.GrantRequest{AccountID: 77, Amount: 1})
	assert.ErrorIs(t, err, creditdomain.ErrAccountNotFound)
	_, err = svc.History(ctx, 77, 1)
	assert.ErrorIs(t, err, creditdomain.ErrAccountNotFound)
}

func TestHistoryUsesFixedPageSize(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	ctx := context.Background()
	id := f.seedAccount(t, 0)

	for i := 0; i < 25; i++ {
		f.clock.Advance(time.Second)
		_, err := svc.Grant(ctx, creditdomain.GrantRequest{AccountID: id, Amount: 1})
		require.NoError(t, err)
	}

	first, err := svc.History(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, first.Items, 20)
	assert.True(t, first.HasMore)

	second, err := svc.History(ctx, id, 2)
	require.NoError(t, err)
	assert.Len(t, second.Items, 5)
	assert.False(t, second.HasMore)

	far, err := svc.History(ctx, id, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, far.Items)
	assert.False(t, far.HasMore)
	assert.Equal(t, pagination.MaxPage, far.Page)
}

func TestVerifyAndReconcile(t *testing.T) {
	f := newFixture(t)
	svc := f.service(config.SpendStrategyGuarded, nil)
	ctx := context.Background()
	good := f.seedAccount(t, 10)
	bad := f.seedAccount(t, 10)
	require.NoError(t, f.db.Exec(`UPDATE accounts SET balance = balance + 3 WHERE id = ?`, bad).Error)

	v, err := svc.Verify(ctx, good)
	require.NoError(t, err)
	assert.True(t, v.Consistent)

	v, err = svc.Verify(ctx, bad)
	require.NoError(t, err)
	assert.False(t, v.Consistent)
	assert.Equal(t, int64(13), v.Balance)
	assert.Equal(t, int64(10), v.LedgerSum)

	drift, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, bad, drift[0].AccountID)
}
