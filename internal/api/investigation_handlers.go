package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/orchestrator"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Investigation handlers. Each POST runs the workflow synchronously and
// returns the finished (possibly partial) investigation; the orchestrator
// retains it for later GET by ID.

// POST /api/v1/investigations/address
func (s *Server) handleInvestigateAddress(c *gin.Context) {
	var req struct {
		Chain   string `json:"chain" binding:"required"`
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	inv, err := s.orch.InvestigateAddress(c.Request.Context(), req.Chain, req.Address)
	if err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// POST /api/v1/investigations/transaction
func (s *Server) handleInvestigateTransaction(c *gin.Context) {
	var tx models.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	inv, err := s.orch.InvestigateTransaction(c.Request.Context(), tx)
	if err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// POST /api/v1/investigations/flow
func (s *Server) handleTraceFlow(c *gin.Context) {
	var req struct {
		Seed     models.Transaction `json:"seed" binding:"required"`
		MaxDepth int                `json:"maxDepth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	inv, err := s.orch.TraceFundFlow(c.Request.Context(), req.Seed, req.MaxDepth)
	if err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// POST /api/v1/investigations/batch
func (s *Server) handleBatchAttribution(c *gin.Context) {
	var req struct {
		Addresses []models.Address `json:"addresses" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	inv, err := s.orch.BatchAttribution(c.Request.Context(), req.Addresses)
	if err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GET /api/v1/investigations/:id
func (s *Server) handleGetInvestigation(c *gin.Context) {
	inv, err := s.orch.Get(c.Param("id"))
	if err != nil {
		s.writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GET /api/v1/investigations?limit=50
func (s *Server) handleListInvestigations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list := s.orch.List(limit)
	c.JSON(http.StatusOK, gin.H{"investigations": list, "total": len(list)})
}

// writeWorkflowError maps the orchestrator's sentinel errors onto HTTP
// status codes.
func (s *Server) writeWorkflowError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("workflow failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "at": time.Now().UTC()})
}
