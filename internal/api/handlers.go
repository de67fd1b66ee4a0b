package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signal-council/internal/adaptive"
	"signal-council/internal/auth"
	"signal-council/internal/events"
	"signal-council/internal/registry"
	"signal-council/internal/store"
	"signal-council/internal/tuner"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.authService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	resp, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetWeights(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"detector_weights":  s.registry.DetectorWeights(),
		"timeframe_weights": s.registry.TimeframeWeights(),
		"limits":            s.registry.Limits(),
		"metadata":          s.registry.Metadata(),
	})
}

func (s *Server) handleProposeAmendment(c *gin.Context) {
	var amendment registry.Amendment
	if err := c.ShouldBindJSON(&amendment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amendment payload"})
		return
	}
	if amendment.Authority == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authority is required"})
		return
	}

	result := s.registry.EnactAmendment(amendment)
	s.bus.PublishAmendment(result.Success, string(amendment.Authority), amendment.Reason,
		result.Version, result.Errors)
	s.recordAmendment(c.Request.Context(), amendment, result)

	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) recordAmendment(ctx context.Context, a registry.Amendment, r registry.Result) {
	if s.archive == nil {
		return
	}
	rec := store.AmendmentRecord{
		Version:          r.Version,
		Authority:        string(a.Authority),
		Reason:           a.Reason,
		Success:          r.Success,
		Errors:           r.Errors,
		DetectorWeights:  a.DetectorWeights,
		TimeframeWeights: a.TimeframeWeights,
		EnactedAt:        time.Now().UTC(),
	}
	if err := s.archive.SaveAmendment(ctx, rec); err != nil {
		s.log.WithError(err).Warn("amendment audit write failed")
	}
}

func (s *Server) handleResetWeights(c *gin.Context) {
	s.registry.ResetToDefaults()
	s.bus.Publish(events.Event{
		Type: events.EventRegistryReset,
		Data: map[string]interface{}{"version": s.registry.Metadata().Version},
	})
	c.JSON(http.StatusOK, gin.H{
		"detector_weights":  s.registry.DetectorWeights(),
		"timeframe_weights": s.registry.TimeframeWeights(),
		"metadata":          s.registry.Metadata(),
	})
}

func (s *Server) handleAmendmentHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	resp := gin.H{"history": s.registry.AmendmentHistory(limit)}
	if s.archive != nil {
		audit, err := s.archive.ListAmendments(c.Request.Context(), limit)
		if err != nil {
			s.log.WithError(err).Warn("amendment audit read failed")
		} else {
			// The persisted trail includes rejections and survives restarts,
			// unlike the registry's bounded in-memory history.
			resp["audit"] = audit
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetVerdict(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	verdict, err := s.engine.EvaluateSymbol(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (s *Server) handleGetDecision(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	timeframe := c.DefaultQuery("timeframe", "1h")

	decision, err := s.engine.CategoryDecision(c.Request.Context(), symbol, timeframe)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

type startTuningRequest struct {
	Weights map[string]float64 `json:"weights"`
}

func (s *Server) handleStartTuningRun(c *gin.Context) {
	if s.tuning == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tuning is disabled"})
		return
	}

	var req startTuningRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	weights := req.Weights
	if len(weights) == 0 {
		weights = adaptive.DefaultCategoryWeights()
	}

	id, err := s.tuning.StartRun(context.Background(), weights)
	if err != nil {
		if errors.Is(err, tuner.ErrTuningDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tuning is disabled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

// handleGetTuningRun serves the in-memory run when the manager still holds
// it, then falls back to the persisted row so runs stay pollable across
// restarts.
func (s *Server) handleGetTuningRun(c *gin.Context) {
	if s.tuning == nil && s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tuning is disabled"})
		return
	}

	id := c.Param("id")
	if s.tuning != nil {
		if run, ok := s.tuning.GetRun(id); ok {
			c.JSON(http.StatusOK, run)
			return
		}
	}
	if s.archive != nil {
		run, err := s.archive.GetTuningRun(c.Request.Context(), id)
		if err == nil && run != nil {
			c.JSON(http.StatusOK, run)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown run id"})
}

func (s *Server) handleListTuningRuns(c *gin.Context) {
	if s.tuning == nil && s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tuning is disabled"})
		return
	}

	var runs []tuner.RunResult
	seen := make(map[string]bool)
	if s.tuning != nil {
		for _, run := range s.tuning.ListRuns() {
			runs = append(runs, run)
			seen[run.ID] = true
		}
	}
	if s.archive != nil {
		persisted, err := s.archive.ListTuningRuns(c.Request.Context(), 50)
		if err != nil {
			s.log.WithError(err).Warn("tuning run archive read failed")
		} else {
			// In-memory entries win: they are fresher for still-running ids.
			for _, run := range persisted {
				if !seen[run.ID] {
					runs = append(runs, run)
				}
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleConfigReload(c *gin.Context) {
	if s.reloader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "config reload unavailable"})
		return
	}
	if err := s.reloader.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.Publish(events.Event{Type: events.EventConfigReloaded, Data: map[string]interface{}{}})
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}
