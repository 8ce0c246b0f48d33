package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetLedgerTable(c *gin.Context) {
	accountManager := strings.TrimSpace(c.Param("accountManager"))

	month, year, err := parsePeriod(c.Query("month"), c.Query("year"), s.clock.Now())
	if err != nil {
		AbortWithError(c, newValidationError("month", "invalid_period", "invalid month/year"))
		return
	}

	resp, err := s.ledgerSvc.Get(c.Request.Context(), accountManager, month, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLedgerTables(c *gin.Context) {
	month, year, err := parsePeriod(c.Query("month"), c.Query("year"), s.clock.Now())
	if err != nil {
		AbortWithError(c, newValidationError("month", "invalid_period", "invalid month/year"))
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), month, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
