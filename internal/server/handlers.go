package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/signals"
)

const (
	defaultTrendLimit   = 100
	maxTrendLimit       = 1000
	defaultHistoryLimit = 10
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listTrends(c *gin.Context) {
	phase := signals.Phase(c.Query("phase"))
	if phase != "" && !phase.IsValid() {
		respondError(c, http.StatusBadRequest, "unknown phase")
		return
	}
	limit, ok := queryLimit(c, defaultTrendLimit, maxTrendLimit)
	if !ok {
		return
	}

	trends, err := s.deps.Reader.ListTrends(c.Request.Context(), phase, limit)
	if err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Msg("failed to list trends")
		respondError(c, statusFor(err), "failed to list trends")
		return
	}
	if trends == nil {
		trends = []signals.TrendRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends, "count": len(trends)})
}

func (s *Server) plattParams(c *gin.Context) {
	limit, ok := queryLimit(c, defaultHistoryLimit, maxTrendLimit)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	latest, err := s.deps.Reader.LatestPlattParameters(ctx)
	if err != nil {
		respondError(c, statusFor(err), "failed to read platt parameters")
		return
	}
	history, err := s.deps.Reader.PlattParameterHistory(ctx, limit)
	if err != nil {
		respondError(c, statusFor(err), "failed to read platt history")
		return
	}
	if history == nil {
		history = []signals.PlattParameters{}
	}
	c.JSON(http.StatusOK, gin.H{"latest": latest, "history": history})
}

func (s *Server) calibrationReport(c *gin.Context) {
	now := s.deps.Now().UTC()
	cfg := s.deps.Report

	pairs, err := s.deps.Reader.FetchOutcomePairs(c.Request.Context(), now.Add(-cfg.Lookback), now)
	if err != nil {
		respondError(c, statusFor(err), "failed to read outcomes")
		return
	}

	report := calibration.GenerateReport(pairs, cfg.Bins, now)
	sufficient := report.Sufficient(cfg.MinSamples)
	c.JSON(http.StatusOK, gin.H{
		"report":         report,
		"sufficient":     sufficient,
		"drift_detected": sufficient && report.ECE > cfg.DriftThreshold,
	})
}

func (s *Server) correct(c *gin.Context) {
	score, err := strconv.ParseFloat(c.Query("score"), 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "score must be a number")
		return
	}

	correction, err := s.deps.Corrector.Correct(c.Request.Context(), score)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, correction)
}

func (s *Server) runTrends(c *gin.Context) {
	result, err := s.deps.Trends.Run(c.Request.Context(), s.deps.Now())
	if err != nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) runCalibration(c *gin.Context) {
	result, err := s.deps.Calibration.Run(c.Request.Context(), s.deps.Now())
	if err != nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryLimit parses ?limit=, writing a 400 and returning false on bad input.
func queryLimit(c *gin.Context, def, upper int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respondError(c, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > upper {
		n = upper
	}
	return n, true
}
