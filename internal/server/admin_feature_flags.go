package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	featureflagdomain "github.com/smallbiznis/creditkit/internal/featureflag/domain"
)

type UpdateFeatureFlagRequest struct {
	Enabled *bool `json:"enabled"`
}

type AssignFeatureFlagRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) ListFeatureFlags(c *gin.Context) {
	flags, err := s.flagSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flags})
}

func (s *Server) CreateFeatureFlag(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req featureflagdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flag, err := s.flagSvc.Create(c.Request.Context(), principal, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": flag})
}

func (s *Server) GetFeatureFlag(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	flag, err := s.flagSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flag})
}

func (s *Server) UpdateFeatureFlag(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateFeatureFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Enabled == nil {
		AbortWithError(c, newValidationError("enabled", "invalid_enabled", "enabled is required"))
		return
	}

	flag, err := s.flagSvc.SetEnabled(c.Request.Context(), principal, id, *req.Enabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flag})
}

func (s *Server) DeleteFeatureFlag(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := s.flagSvc.Delete(c.Request.Context(), principal, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListFeatureFlagAccounts(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if _, err := s.flagSvc.Get(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	accounts, err := s.flagSvc.ListAccounts(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (s *Server) AssignFeatureFlag(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	flagID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req AssignFeatureFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountID, err := parseSnowflakeID(req.AccountID)
	if err != nil {
		AbortWithError(c, newValidationError("account_id", "invalid_account_id", "invalid account_id"))
		return
	}

	if err := s.flagSvc.Assign(c.Request.Context(), principal, flagID, accountID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) UnassignFeatureFlag(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	flagID, ok := idParam(c, "id")
	if !ok {
		return
	}
	accountID, ok := idParam(c, "account_id")
	if !ok {
		return
	}

	if err := s.flagSvc.Unassign(c.Request.Context(), principal, flagID, accountID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
