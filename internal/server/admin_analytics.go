package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) AnalyticsOverview(c *gin.Context) {
	overview, err := s.analyticsSvc.Overview(c.Request.Context(), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": overview})
}

func (s *Server) RecentAccounts(c *gin.Context) {
	accounts, err := s.analyticsSvc.RecentAccounts(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (s *Server) RecentCreditActivity(c *gin.Context) {
	activity, err := s.analyticsSvc.RecentCreditActivity(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": activity})
}
