package service

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	accountrepository "github.com/smallbiznis/creditkit/internal/account/repository"
	accountservice "github.com/smallbiznis/creditkit/internal/account/service"
	"github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/auth/magiclink"
	"github.com/smallbiznis/creditkit/internal/auth/repository"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	creditservice "github.com/smallbiznis/creditkit/internal/credit/service"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/creditkit/internal/ledger/repository"
	"github.com/smallbiznis/creditkit/internal/providers/email"
	"github.com/smallbiznis/creditkit/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

var linkPattern = regexp.MustCompile(`Sign in: (\S+)`)

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	m := linkPattern.FindStringSubmatch(o.sent[len(o.sent)-1].Text)
	require.Len(t, m, 2)
	u, err := url.Parse(m[1])
	require.NoError(t, err)
	assert.Equal(t, "/auth/magic-link/verify", u.Path)
	return u.Query().Get("token")
}

func newTestService(t *testing.T) (domain.Service, *outbox, *clock.FakeClock) {
	t.Helper()

	db := dbtest.Open(t, &accountdomain.Account{}, &ledgerdomain.Transaction{}, &domain.Session{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		AppName:         "creditkit",
		BaseURL:         "https://credits.example.com/",
		AuthTokenSecret: "test-secret",
		AdminEmail:      "Boss@Example.com",
		Credits:         config.CreditsConfig{PageSize: 20},
	}

	store := ledgerrepository.NewStore(ledgerrepository.Params{GenID: node, Clock: fc})
	credit := creditservice.NewService(creditservice.Params{DB: db, Log: log, Config: cfg, Store: store})
	accounts := accountservice.NewService(accountservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fc,
		Repo:      accountrepository.Provide(),
		Plans:     config.NewStaticPlans(config.DefaultPlansConfig()),
		Store:     store,
		CreditSvc: credit,
	})

	box := &outbox{}
	svc := New(Params{
		Log:      log,
		GenID:    node,
		Clock:    fc,
		Config:   cfg,
		Sessions: repository.New(db),
		Accounts: accounts,
		Email:    box,
		Issuer:   magiclink.NewIssuer(cfg.AuthTokenSecret, cfg.AppName, magiclink.DefaultTTL),
	})
	return svc, box, fc
}

func TestMagicLinkSignInCreatesAccountAndSession(t *testing.T) {
	svc, box, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "Ada@Example.com", Name: "Ada"}))
	require.Len(t, box.sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, box.sent[0].To)
	assert.Contains(t, box.sent[0].Text, "15 minutes")

	result, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: box.lastToken(t), UserAgent: "test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "Ada", result.Account.Name)
	assert.Equal(t, int64(10), result.Account.Balance)
	assert.NotEmpty(t, result.RawToken)

	principal, err := svc.Authenticate(ctx, result.RawToken)
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, principal.AccountID)
	assert.Equal(t, accountdomain.RoleUser, principal.Role)

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "ada@example.com"}))
	again, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: box.lastToken(t)})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, result.Account.ID, again.Account.ID)
}

func TestMagicLinkIsSingleUse(t *testing.T) {
	svc, box, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "ada@example.com"}))
	token := box.lastToken(t)
	_, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: token})
	require.NoError(t, err)
	_, err = svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: token})
	assert.ErrorIs(t, err, domain.ErrTokenUsed)
}

func TestReplayedMagicLinkDoesNotRecordLogin(t *testing.T) {
	svc, box, fc := newTestService(t)
	ctx := context.Background()
	accounts := svc.(*Service).accounts

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "ada@example.com"}))
	token := box.lastToken(t)
	result, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: token})
	require.NoError(t, err)

	first, err := accounts.Get(ctx, result.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, first.LastLoginAt)

	fc.Advance(time.Minute)
	_, err = svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: token})
	require.ErrorIs(t, err, domain.ErrTokenUsed)

	after, err := accounts.Get(ctx, result.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastLoginAt)
	assert.True(t, after.LastLoginAt.Equal(*first.LastLoginAt))
}

func TestMagicLinkExpires(t *testing.T) {
	svc, box, fc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "ada@example.com"}))
	fc.Advance(magiclink.DefaultTTL + time.Second)
	_, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: box.lastToken(t)})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestAdminEmailSignsInAsAdmin(t *testing.T) {
	svc, box, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "boss@example.com"}))
	result, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: box.lastToken(t)})
	require.NoError(t, err)
	assert.Equal(t, accountdomain.RoleAdmin, result.Account.Role)
	assert.Equal(t, config.PlanAdmin, result.Account.Plan)
}

func TestSessionLifecycle(t *testing.T) {
	svc, box, fc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestMagicLink(ctx, domain.MagicLinkRequest{Email: "ada@example.com"}))
	result, err := svc.VerifyMagicLink(ctx, domain.VerifyRequest{Token: box.lastToken(t)})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
	_, err = svc.Authenticate(ctx, "forged")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	fc.Advance(8 * 24 * time.Hour)
	_, err = svc.Authenticate(ctx, result.RawToken)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	second, err := svc.OpenSession(ctx, domain.OpenSessionRequest{AccountID: result.Account.ID})
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, second.RawToken))
	_, err = svc.Authenticate(ctx, second.RawToken)
	assert.ErrorIs(t, err, domain.ErrSessionRevoked)
}

func TestRequestMagicLinkRejectsBadEmail(t *testing.T) {
	svc, box, _ := newTestService(t)
	assert.ErrorIs(t, svc.RequestMagicLink(context.Background(), domain.MagicLinkRequest{Email: "nope"}), domain.ErrInvalidEmail)
	assert.Empty(t, box.sent)
}
