package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
)

type SpendCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

func (s *Server) GetCredits(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), principal.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": principal.AccountID,
		"balance":    balance,
	}})
}

func (s *Server) ListCreditTransactions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	page, err := s.creditSvc.History(c.Request.Context(), principal.AccountID, parsePage(c.Query("page")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page})
}

// SpendCredits deducts from the caller's own account only.
func (s *Server) SpendCredits(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req SpendCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind := strings.TrimSpace(req.Kind)
	if kind != "" {
		c.Set("credit_kind", kind)
	}

	result, err := s.creditSvc.Spend(c.Request.Context(), creditdomain.SpendRequest{
		AccountID:   principal.AccountID,
		Amount:      req.Amount,
		Kind:        kind,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
