package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	accountrepository "github.com/smallbiznis/creditkit/internal/account/repository"
	accountservice "github.com/smallbiznis/creditkit/internal/account/service"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	auditrepository "github.com/smallbiznis/creditkit/internal/audit/repository"
	auditservice "github.com/smallbiznis/creditkit/internal/audit/service"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	creditservice "github.com/smallbiznis/creditkit/internal/credit/service"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditkit/internal/ledger/repository"
	"github.com/smallbiznis/creditkit/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAccounts(t *testing.T) (accountdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &accountdomain.Account{}, &ledgerdomain.Transaction{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	store := ledgerrepository.NewStore(ledgerrepository.Params{GenID: node, Clock: fc})
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(), Clock: fc})
	credit := creditservice.NewService(creditservice.Params{
		DB:       db,
		Log:      log,
		Config:   config.Config{Credits: config.CreditsConfig{PageSize: 20}},
		Store:    store,
		AuditSvc: audit,
	})
	svc := accountservice.NewService(accountservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fc,
		Repo:      accountrepository.Provide(),
		Plans:     config.NewStaticPlans(config.DefaultPlansConfig()),
		Store:     store,
		CreditSvc: credit,
		AuditSvc:  audit,
	})
	return svc, db
}

func TestEnsureAdminNoopWithoutEmail(t *testing.T) {
	acc, err := EnsureAdmin(context.Background(), nil, "  ", nil)
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestEnsureAdminCreates(t *testing.T) {
	svc, _ := newAccounts(t)
	ctx := context.Background()

	acc, err := EnsureAdmin(ctx, svc, " Ops@Example.com ", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", acc.Email)
	assert.Equal(t, accountdomain.RoleAdmin, acc.Role)
	assert.Equal(t, config.PlanAdmin, acc.Plan)

	again, err := EnsureAdmin(ctx, svc, "ops@example.com", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, acc.ID, again.ID)
}

func TestEnsureAdminPromotesExisting(t *testing.T) {
	svc, db := newAccounts(t)
	ctx := context.Background()

	existing, err := svc.Create(ctx, accountdomain.CreateRequest{Email: "owner@example.com"})
	require.NoError(t, err)
	require.Equal(t, int64(10), existing.Balance)

	acc, err := EnsureAdmin(ctx, svc, "owner@example.com", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, acc.ID)
	assert.Equal(t, accountdomain.RoleAdmin, acc.Role)
	assert.Equal(t, config.PlanAdmin, acc.Plan)
	assert.Equal(t, int64(10), acc.Balance)

	var logs []auditdomain.AuditLog
	require.NoError(t, db.Order("created_at").Find(&logs).Error)
	require.NotEmpty(t, logs)
	for _, l := range logs {
		assert.Equal(t, string(auditdomain.ActorTypeSystem), l.ActorType)
	}
}
