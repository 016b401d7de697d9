package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeleteMyAccount removes the caller's account with its ledger, sessions and
// flag assignments, then drops the session cookie.
func (s *Server) DeleteMyAccount(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.accountSvc.Delete(c.Request.Context(), principal, principal.AccountID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}
