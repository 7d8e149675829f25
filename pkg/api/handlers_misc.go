package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/tools"
	"github.com/finsight-ai/finsight/pkg/trade"
	"github.com/finsight-ai/finsight/pkg/version"
)

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "healthy", "version": version.Version}

	if s.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(ctx, s.pool)
		resp["database"] = dbHealth
		if err != nil {
			resp["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) toolContracts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contracts": tools.Contracts()})
}

func (s *Server) toolContract(c *gin.Context) {
	contract, err := tools.Lookup(c.Param("tool"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (s *Server) submitOrder(c *gin.Context) {
	if s.gate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade controls unavailable"})
		return
	}
	var req trade.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	receipt, err := s.gate.Submit(c.Request.Context(), req, c.GetHeader(tradeSecretHeader))
	switch {
	case errors.Is(err, trade.ErrBadSecret):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, trade.ErrLiveTradingDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, trade.ErrApprovalIncomplete):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Error("trade submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trade submission failed"})
	default:
		c.JSON(http.StatusOK, receipt)
	}
}

// providerStatus exposes the last failed provider call per app along with the
// recent event window.
func (s *Server) providerStatus(c *gin.Context) {
	if s.ring == nil {
		c.JSON(http.StatusOK, gin.H{"last_errors": gin.H{}, "events": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"last_errors": s.ring.LastErrors(),
		"events":      s.ring.Snapshot(),
	})
}
