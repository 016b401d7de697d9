package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LedgerDrift lists every account whose cached balance disagrees with its
// ledger sum. An empty list means the ledger replays cleanly.
func (s *Server) LedgerDrift(c *gin.Context) {
	drift, err := s.creditSvc.Reconcile(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": drift})
}
