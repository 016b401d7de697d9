package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
)

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

type GrantCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

func (s *Server) ListAccounts(c *gin.Context) {
	resp, err := s.accountSvc.List(c.Request.Context(), accountdomain.ListRequest{
		Search: strings.TrimSpace(c.Query("search")),
		Role:   strings.TrimSpace(c.Query("role")),
		Plan:   strings.TrimSpace(c.Query("plan")),
		Page:   parsePage(c.Query("page")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAccount(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	account, err := s.accountSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) UpdateAccountRole(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := accountdomain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	account, err := s.accountSvc.UpdateRole(c.Request.Context(), principal, id, role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

// ChangeAccountPlan switches the plan and grants the new plan's allotment.
func (s *Server) ChangeAccountPlan(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accountSvc.ChangePlan(c.Request.Context(), principal, id, strings.ToLower(strings.TrimSpace(req.Plan)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GrantCredits(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind := strings.TrimSpace(req.Kind)
	if kind != "" {
		c.Set("credit_kind", kind)
	}

	actorID := principal.AccountID
	result, err := s.creditSvc.Grant(c.Request.Context(), creditdomain.GrantRequest{
		AccountID:   id,
		Amount:      req.Amount,
		Kind:        kind,
		Description: strings.TrimSpace(req.Description),
		ActorID:     &actorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListAccountTransactions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	page, err := s.creditSvc.History(c.Request.Context(), id, parsePage(c.Query("page")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page})
}

func (s *Server) VerifyAccountLedger(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	verification, err := s.creditSvc.Verify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": verification})
}

func (s *Server) ListAccountFeatures(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if _, err := s.accountSvc.Get(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	flags, err := s.flagSvc.ListForAccount(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flags})
}
