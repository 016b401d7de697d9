package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featureflagdomain "github.com/smallbiznis/creditkit/internal/featureflag/domain"
)

type featureAccess struct {
	featureflagdomain.AccountFlag
	Access bool `json:"access"`
}

// ListMyFeatures lists every flag with whether the caller may use it.
func (s *Server) ListMyFeatures(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	flags, err := s.flagSvc.ListForAccount(c.Request.Context(), principal.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]featureAccess, 0, len(flags))
	for _, flag := range flags {
		items = append(items, featureAccess{
			AccountFlag: flag,
			Access:      principal.IsAdmin() || (flag.Assigned && flag.Enabled),
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CheckFeature(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	access, err := s.flagSvc.CanAccess(c.Request.Context(), principal, name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"name":   name,
		"access": access,
	}})
}
