package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
)

type Service interface {
	RequestMagicLink(ctx context.Context, req MagicLinkRequest) error
	VerifyMagicLink(ctx context.Context, req VerifyRequest) (*LoginResult, error)
	OpenSession(ctx context.Context, req OpenSessionRequest) (*LoginResult, error)
	Authenticate(ctx context.Context, rawToken string) (*accountdomain.Principal, error)
	Logout(ctx context.Context, rawToken string) error
}

type MagicLinkRequest struct {
	Email string
	Name  string
}

type VerifyRequest struct {
	Token     string
	UserAgent string
	IPAddress string
}

type OpenSessionRequest struct {
	AccountID   snowflake.ID
	UserAgent   string
	IPAddress   string
	MagicLinkID string
}

type LoginResult struct {
	Account   *accountdomain.Account
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
	Created   bool
}
