package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tradegate/internal/health"
	"github.com/mbd888/tradegate/internal/logging"
	"github.com/mbd888/tradegate/internal/pipeline"
	"github.com/mbd888/tradegate/internal/realtime"
)

// assessHandler handles POST /api/v1/trades/assess.
//
// A completed assessment always returns 200, approved or not: the verdict
// is the payload, not the transport status. Only malformed input maps to
// an HTTP error.
func (s *Server) assessHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req pipeline.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	result := s.validator.AssessTrade(ctx, req)
	if result.FinalDecision == pipeline.DecisionError {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "assessment_error",
			"message": result.Error,
			"result":  result,
		})
		return
	}

	s.broadcastAssessment(result)
	c.JSON(http.StatusOK, result)
}

// assessBatchHandler handles POST /api/v1/trades/assess/batch.
func (s *Server) assessBatchHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Trades []pipeline.TradeRequest `json:"trades" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	if len(req.Trades) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "empty_batch",
			"message": "Batch must contain at least one trade",
		})
		return
	}
	if len(req.Trades) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": "Batch size exceeds the maximum",
			"max":     MaxBatchSize,
		})
		return
	}

	batch := s.validator.AssessBatch(ctx, req.Trades)
	for _, result := range batch.Results {
		if result.FinalDecision != pipeline.DecisionError {
			s.broadcastAssessment(result)
		}
	}
	if batch.Insights.HumanReviewRequired {
		s.realtimeHub.Broadcast(&realtime.Event{
			Type:      realtime.EventHumanReview,
			Timestamp: time.Now(),
			Data:      batch.Insights,
		})
	}

	c.JSON(http.StatusOK, batch)
}

// memoryHandler handles GET /api/v1/memory: the learning store snapshot.
func (s *Server) memoryHandler(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := s.validator.Memory(ctx)
	if err != nil {
		logging.L(ctx).Error("memory snapshot failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read learning state",
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// statsHandler handles GET /api/v1/stats: classifier counters plus
// streaming hub stats.
func (s *Server) statsHandler(c *gin.Context) {
	out := gin.H{
		"realtime": s.realtimeHub.Stats(),
	}
	if stats, ok := s.validator.DetectionStats(); ok {
		out["fraud_detection"] = stats
	} else {
		out["fraud_detection"] = gin.H{"enabled": false}
	}
	c.JSON(http.StatusOK, out)
}

// resetHandler handles POST /api/v1/memory/reset (admin only).
func (s *Server) resetHandler(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.validator.ResetLearning(ctx); err != nil {
		logging.L(ctx).Error("learning reset failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to reset learning state",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) broadcastAssessment(result *pipeline.TradeAssessment) {
	s.realtimeHub.BroadcastAssessment(
		[]string{result.TradeDetails.CashPartyID, result.TradeDetails.SecuritiesPartyID},
		string(result.FinalDecision),
		result.TradeDetails.RequiredCash,
		result.MLFraudDetection.FraudDetected,
		result,
	)
}

// -----------------------------------------------------------------------------
// Health & info
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Validator any             `json:"validator"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	vh := s.validator.Health(ctx)
	if vh.Status != "healthy" {
		healthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Validator: vh,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Tradegate",
		"description": "Trade validation pipeline for tokenized securities settlement",
		"version":     "0.1.0",
	})
}
