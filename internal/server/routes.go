package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quotescout/internal/archive"
	"github.com/zulandar/quotescout/internal/logger"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/orchestrator"
)

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	api.POST("/search/start", s.handleStart)
	api.GET("/search/:jobId/stream", s.handleStream)
	api.GET("/search/:jobId", s.handleSnapshot)
	api.GET("/history", s.handleHistoryList)
	api.GET("/history/:jobId", s.handleHistoryDetail)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "activeSessions": s.registry.Len()})
}

type startResponse struct {
	Success        bool   `json:"success"`
	JobID          string `json:"jobId,omitempty"`
	AlreadyRunning bool   `json:"alreadyRunning,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, startResponse{Error: "invalid JSON body"})
		return
	}

	res, err := s.searcher.StartSearch(c.Request.Context(), req)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, startResponse{Error: err.Error()})
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, startResponse{Error: err.Error()})
		return
	case err != nil:
		logger.Error(c.Request.Context(), "start search failed", "job_id", req.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, startResponse{Error: "failed to start search"})
		return
	}
	c.JSON(http.StatusOK, startResponse{Success: true, JobID: res.JobID, AlreadyRunning: res.AlreadyRunning})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	sess, err := s.registry.Get(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

type historyItem struct {
	JobID            string    `json:"jobId"`
	ZipCode          string    `json:"zipCode"`
	City             string    `json:"city"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory,omitempty"`
	Outcome          string    `json:"outcome"`
	Error            string    `json:"error,omitempty"`
	TotalContractors int       `json:"totalContractors"`
	CreatedAt        time.Time `json:"createdAt"`
	CompletedAt      time.Time `json:"completedAt"`
}

type historyWorker struct {
	Platform    string          `json:"platform"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	LiveViewURL string          `json:"liveViewUrl,omitempty"`
	Logs        json.RawMessage `json:"logs"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
}

type historyDetail struct {
	historyItem
	ProblemSummary string              `json:"problemSummary,omitempty"`
	ScopeOfWork    string              `json:"scopeOfWork,omitempty"`
	Workers        []historyWorker     `json:"workers"`
	Contractors    []models.Contractor `json:"contractors"`
}

func toHistoryItem(r models.SearchRecord) historyItem {
	return historyItem{
		JobID:            r.JobID,
		ZipCode:          r.ZipCode,
		City:             r.City,
		Category:         r.Category,
		Subcategory:      r.Subcategory,
		Outcome:          r.Outcome,
		Error:            r.ErrorMsg,
		TotalContractors: r.TotalContractors,
		CreatedAt:        r.CreatedAt,
		CompletedAt:      r.CompletedAt,
	}
}

func (s *Server) handleHistoryList(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	recs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error(c.Request.Context(), "list history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list history"})
		return
	}
	items := make([]historyItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, toHistoryItem(r))
	}
	c.JSON(http.StatusOK, gin.H{"searches": items})
}

func (s *Server) handleHistoryDetail(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	rec, err := s.history.Get(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, archive.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "search not found"})
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "get history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load search"})
		return
	}
	contractors, err := archive.Contractors(rec)
	if err != nil {
		logger.Error(c.Request.Context(), "decode history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load search"})
		return
	}

	detail := historyDetail{
		historyItem:    toHistoryItem(*rec),
		ProblemSummary: rec.ProblemSummary,
		ScopeOfWork:    rec.ScopeOfWork,
		Workers:        make([]historyWorker, 0, len(rec.Workers)),
		Contractors:    contractors,
	}
	for _, w := range rec.Workers {
		logs := json.RawMessage(w.Logs)
		if !json.Valid(logs) {
			logs = json.RawMessage("[]")
		}
		detail.Workers = append(detail.Workers, historyWorker{
			Platform:    w.Platform,
			Status:      w.Status,
			Error:       w.ErrorMsg,
			LiveViewURL: w.LiveViewURL,
			Logs:        logs,
			StartedAt:   w.StartedAt,
			EndedAt:     w.EndedAt,
		})
	}
	c.JSON(http.StatusOK, detail)
}
