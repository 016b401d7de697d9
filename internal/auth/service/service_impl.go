package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	"github.com/smallbiznis/creditkit/internal/audit/masking"
	"github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/auth/magiclink"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/smallbiznis/creditkit/internal/providers/email"
	"github.com/smallbiznis/creditkit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionTokenBytes = 32
	sessionTTL        = 7 * 24 * time.Hour
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Sessions domain.SessionRepository
	Accounts accountdomain.Service
	Email    email.Provider
	Issuer   *magiclink.Issuer
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	sessions domain.SessionRepository
	accounts accountdomain.Service
	email    email.Provider
	issuer   *magiclink.Issuer
}

func New(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("auth.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config,
		sessions: p.Sessions,
		accounts: p.Accounts,
		email:    p.Email,
		issuer:   p.Issuer,
	}
}

func NewIssuer(cfg config.Config) *magiclink.Issuer {
	return magiclink.NewIssuer(cfg.AuthTokenSecret, cfg.AppName, magiclink.DefaultTTL)
}

func (s *Service) RequestMagicLink(ctx context.Context, req domain.MagicLinkRequest) error {
	address, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.ErrInvalidEmail
	}

	token, id, err := s.issuer.Issue(address, req.Name, s.clock.Now())
	if err != nil {
		return err
	}

	link := strings.TrimRight(s.cfg.BaseURL, "/") + "/auth/magic-link/verify?token=" + url.QueryEscape(token)
	msg, err := email.MagicLink(address, email.MagicLinkData{
		Name:      strings.TrimSpace(req.Name),
		Link:      link,
		ExpiresIn: fmt.Sprintf("%d minutes", int(s.issuer.TTL().Minutes())),
	})
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.log.Error("failed to send magic link",
			zap.String("email", masking.MaskEmail(address)),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("magic link sent",
		zap.String("email", masking.MaskEmail(address)),
		zap.String("magic_link_id", id),
	)
	return nil
}

// VerifyMagicLink signs the token's owner in, creating the account on first
// use. Each token opens at most one session.
func (s *Service) VerifyMagicLink(ctx context.Context, req domain.VerifyRequest) (*domain.LoginResult, error) {
	claims, err := s.issuer.Parse(req.Token, s.clock.Now())
	if err != nil {
		return nil, err
	}

	account, created, err := s.findOrCreate(ctx, claims.Subject, claims.Name)
	if err != nil {
		return nil, err
	}

	result, err := s.OpenSession(ctx, domain.OpenSessionRequest{
		AccountID:   account.ID,
		UserAgent:   req.UserAgent,
		IPAddress:   req.IPAddress,
		MagicLinkID: claims.ID,
	})
	if err != nil {
		return nil, err
	}
	// A replayed token fails above, so only real sign-ins move last_login_at.
	if err := s.accounts.RecordLogin(ctx, account.ID); err != nil {
		return nil, err
	}
	result.Account = account
	result.Created = created
	return result, nil
}

func (s *Service) OpenSession(ctx context.Context, req domain.OpenSessionRequest) (*domain.LoginResult, error) {
	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		AccountID:        req.AccountID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if id := strings.TrimSpace(req.MagicLinkID); id != "" {
		session.MagicLinkID = &id
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		if session.MagicLinkID != nil && db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrTokenUsed
		}
		return nil, err
	}

	return &domain.LoginResult{
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
	}, nil
}

// Authenticate resolves a session cookie to the caller. The role is read
// from the account on every call so role changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*accountdomain.Principal, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	account, err := s.accounts.Get(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, err
	}

	return &accountdomain.Principal{AccountID: account.ID, Role: account.Role}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	return s.sessions.RevokeSession(ctx, session.ID, s.clock.Now())
}

func (s *Service) findOrCreate(ctx context.Context, address, name string) (*accountdomain.Account, bool, error) {
	account, err := s.accounts.GetByEmail(ctx, address)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, accountdomain.ErrAccountNotFound) {
		return nil, false, err
	}

	req := accountdomain.CreateRequest{Email: address, Name: name}
	if admin := strings.ToLower(strings.TrimSpace(s.cfg.AdminEmail)); admin != "" && admin == address {
		req.Role = accountdomain.RoleAdmin
		req.Plan = config.PlanAdmin
	}
	account, err = s.accounts.Create(ctx, req)
	if errors.Is(err, accountdomain.ErrEmailTaken) {
		// lost a race with a concurrent first sign-in
		account, err = s.accounts.GetByEmail(ctx, address)
		return account, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
