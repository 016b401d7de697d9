package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/observability/logger"
	"go.uber.org/zap"
)

type MagicLinkRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RequestMagicLink always answers 202 for a well-formed email so the endpoint
// cannot reveal which addresses have accounts.
func (s *Server) RequestMagicLink(c *gin.Context) {
	var req MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.authsvc.RequestMagicLink(c.Request.Context(), authdomain.MagicLinkRequest{
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"message": "check your email for a sign-in link"}})
}

func (s *Server) VerifyMagicLink(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		AbortWithError(c, newValidationError("token", "invalid_token", "token is required"))
		return
	}

	result, err := s.authsvc.VerifyMagicLink(c.Request.Context(), authdomain.VerifyRequest{
		Token:     token,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"account":    result.Account,
			"created":    result.Created,
			"expires_at": result.ExpiresAt,
		}})
		return
	}
	c.Redirect(http.StatusFound, strings.TrimRight(s.cfg.BaseURL, "/")+"/")
}

func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok {
		if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
			logger.FromContext(c.Request.Context()).Warn("logout failed", zap.Error(err))
		}
	}
	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	account, err := s.accountSvc.Get(c.Request.Context(), principal.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
