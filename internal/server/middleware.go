package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	obscontext "github.com/smallbiznis/creditkit/internal/observability/context"
	"github.com/smallbiznis/creditkit/internal/observability/logger"
	"github.com/smallbiznis/creditkit/internal/ratelimit"
	"go.uber.org/zap"
)

const contextPrincipalKey = "principal"

const (
	rateLimitReasonSpend     = "account-spend-rate"
	rateLimitReasonMagicLink = "client-ip-rate"
)

// AuthRequired resolves the session cookie to a principal. The role is read
// fresh on every request so demotions take effect immediately.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextPrincipalKey, *principal)
		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorTypeAccount, principal.AccountID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (accountdomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return accountdomain.Principal{}, false
	}
	principal, ok := value.(accountdomain.Principal)
	if !ok || principal.AccountID == 0 {
		return accountdomain.Principal{}, false
	}
	return principal, true
}

// authorize gates a route on the casbin policy for object/action.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) SpendRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		res, err := s.limiter.AllowSpend(c.Request.Context(), principal.AccountID)
		s.handleRateLimit(c, res, err, rateLimitReasonSpend)
	}
}

func (s *Server) MagicLinkRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.limiter.AllowMagicLink(c.Request.Context(), c.ClientIP())
		s.handleRateLimit(c, res, err, rateLimitReasonMagicLink)
	}
}

func (s *Server) handleRateLimit(c *gin.Context, res *ratelimit.Result, err error, reason string) {
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)

	if errors.Is(err, ratelimit.ErrRateLimited) {
		logger.FromContext(ctx).Warn("rate limit exceeded",
			zap.String("reason", reason),
			zap.String("endpoint", endpoint),
		)
		recordRateLimitDenied(ctx, endpoint, reason, s)
		if res != nil {
			setRateLimitHeaders(c, res)
			c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(res.RetryAfter.Seconds()))))
		}
		c.Header("X-Rate-Limited-Reason", reason)
		AbortWithError(c, ErrRateLimited)
		return
	}
	if err != nil {
		logger.FromContext(ctx).Warn("rate limit check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if res != nil && res.Limit > 0 {
		setRateLimitHeaders(c, res)
	}
	recordRateLimitAllowed(ctx, endpoint, s)
	c.Next()
}

func setRateLimitHeaders(c *gin.Context, res *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, s *Server) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, s *Server) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
