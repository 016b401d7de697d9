package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	accountrepository "github.com/smallbiznis/creditkit/internal/account/repository"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	auditrepository "github.com/smallbiznis/creditkit/internal/audit/repository"
	auditservice "github.com/smallbiznis/creditkit/internal/audit/service"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/featureflag/domain"
	"github.com/smallbiznis/creditkit/internal/featureflag/repository"
	"github.com/smallbiznis/creditkit/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var admin = accountdomain.Principal{AccountID: 1, Role: accountdomain.RoleAdmin}

func setup(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &accountdomain.Account{}, &domain.Flag{}, &domain.Assignment{}, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepository.Provide(), Clock: fc})
	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fc,
		Repo:        repository.Provide(),
		AccountRepo: accountrepository.Provide(),
		AuditSvc:    audit,
	})
	return svc, db, fc
}

func seedAccount(t *testing.T, db *gorm.DB, id int64, email string, role accountdomain.Role) accountdomain.Principal {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&accountdomain.Account{ID: snowflake.ID(id), Email: email, Role: role, Plan: "free", CreatedAt: now, UpdatedAt: now}).Error)
	return accountdomain.Principal{AccountID: snowflake.ID(id), Role: role}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"beta_export":   "beta_export",
		"Beta Export":   "beta_export",
		"  AI-Writer  ": "ai_writer",
	}
	for in, want := range cases {
		got, err := NormalizeName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "   ", "!!!"} {
		_, err := NormalizeName(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidName, bad)
	}
}

func TestCreateAndDuplicate(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()

	desc := "  CSV export  "
	flag, err := svc.Create(ctx, admin, domain.CreateRequest{Name: "Beta Export", Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "beta_export", flag.Name)
	assert.True(t, flag.Enabled)
	require.NotNil(t, flag.Description)
	assert.Equal(t, "CSV export", *flag.Description)

	_, err = svc.Create(ctx, admin, domain.CreateRequest{Name: "beta_export"})
	assert.ErrorIs(t, err, domain.ErrFlagExists)

	var logs []auditdomain.AuditLog
	require.NoError(t, db.Where("action = ?", auditdomain.ActionFlagCreated).Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func TestAssignIsIdempotentAndGatesAccess(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()
	user := seedAccount(t, db, 10, "u@example.com", accountdomain.RoleUser)
	other := seedAccount(t, db, 11, "o@example.com", accountdomain.RoleBeta)

	flag, err := svc.Create(ctx, admin, domain.CreateRequest{Name: "ai_writer"})
	require.NoError(t, err)

	ok, err := svc.CanAccess(ctx, user, "ai_writer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Assign(ctx, admin, flag.ID, user.AccountID))
	require.NoError(t, svc.Assign(ctx, admin, flag.ID, user.AccountID))

	accounts, err := svc.ListAccounts(ctx, flag.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "u@example.com", accounts[0].Email)

	ok, err = svc.CanAccess(ctx, user, "AI Writer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.CanAccess(ctx, other, "ai_writer")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.SetEnabled(ctx, admin, flag.ID, false)
	require.NoError(t, err)
	ok, err = svc.CanAccess(ctx, user, "ai_writer")
	require.NoError(t, err)
	assert.False(t, ok, "disabled flags deny everyone but admins")

	ok, err = svc.CanAccess(ctx, admin, "ai_writer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.CanAccess(ctx, admin, "does_not_exist")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListCountsAndPerAccountView(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()
	a := seedAccount(t, db, 20, "a@example.com", accountdomain.RoleUser)
	b := seedAccount(t, db, 21, "b@example.com", accountdomain.RoleUser)

	export, err := svc.Create(ctx, admin, domain.CreateRequest{Name: "export"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, domain.CreateRequest{Name: "charts"})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, admin, export.ID, a.AccountID))
	require.NoError(t, svc.Assign(ctx, admin, export.ID, b.AccountID))

	flags, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "charts", flags[0].Name)
	assert.Equal(t, int64(0), flags[0].AssignedCount)
	assert.Equal(t, int64(2), flags[1].AssignedCount)

	view, err := svc.ListForAccount(ctx, a.AccountID)
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.False(t, view[0].Assigned)
	assert.True(t, view[1].Assigned)

	_, err = svc.ListForAccount(ctx, 999)
	assert.ErrorIs(t, err, accountdomain.ErrAccountNotFound)
}

func TestUnassignAndDelete(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()
	user := seedAccount(t, db, 30, "u@example.com", accountdomain.RoleUser)

	flag, err := svc.Create(ctx, admin, domain.CreateRequest{Name: "reports"})
	require.NoError(t, err)
	require.NoError(t, svc.Assign(ctx, admin, flag.ID, user.AccountID))

	require.NoError(t, svc.Unassign(ctx, admin, flag.ID, user.AccountID))
	require.NoError(t, svc.Unassign(ctx, admin, flag.ID, user.AccountID))
	ok, err := svc.CanAccess(ctx, user, "reports")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Assign(ctx, admin, flag.ID, user.AccountID))
	require.NoError(t, svc.Delete(ctx, admin, flag.ID))
	assert.ErrorIs(t, svc.Delete(ctx, admin, flag.ID), domain.ErrFlagNotFound)

	var count int64
	require.NoError(t, db.Model(&domain.Assignment{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, svc.Assign(ctx, admin, flag.ID, user.AccountID), domain.ErrFlagNotFound)
	_, err = svc.Get(ctx, flag.ID)
	assert.ErrorIs(t, err, domain.ErrFlagNotFound)
}

func TestAssignUnknownAccount(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	flag, err := svc.Create(ctx, admin, domain.CreateRequest{Name: "reports"})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Assign(ctx, admin, flag.ID, 404), accountdomain.ErrAccountNotFound)
}
