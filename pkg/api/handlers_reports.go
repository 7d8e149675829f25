package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/reports"
)

type runReportRequest struct {
	Payload          reports.Payload `json:"payload"`
	OwnerKey         string          `json:"owner_key,omitempty"`
	PromptOverride   string          `json:"prompt_override,omitempty"`
	ThreadID         string          `json:"thread_id,omitempty"`
	FollowUpQuestion string          `json:"follow_up_question,omitempty"`
	RefreshData      bool            `json:"refresh_data,omitempty"`
}

func (s *Server) runReport(c *gin.Context) {
	var req runReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := s.runner.Run(c.Request.Context(), c.Param("type"), req.Payload, reports.RunOptions{
		OwnerKey:         req.OwnerKey,
		PromptOverride:   req.PromptOverride,
		ThreadID:         req.ThreadID,
		FollowUpQuestion: req.FollowUpQuestion,
		RefreshData:      req.RefreshData,
	})
	if err != nil {
		s.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type followupRequest struct {
	OwnerKey    string `json:"owner_key"`
	ThreadID    string `json:"thread_id"`
	Question    string `json:"question"`
	RefreshData bool   `json:"refresh_data,omitempty"`
}

func (s *Server) reportFollowup(c *gin.Context) {
	var req followupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := s.runner.Followup(c.Request.Context(),
		c.Param("type"), req.OwnerKey, req.ThreadID, req.Question, req.RefreshData)
	if err != nil {
		s.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) reportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reports.ErrThreadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reports.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("report request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report generation failed"})
	}
}

func (s *Server) reportTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": reports.AllTypes()})
}

// reportPrompt returns the default prompt for a type; with ?owner_key= it
// returns the effective prompt after any saved override.
func (s *Server) reportPrompt(c *gin.Context) {
	reportType := c.Param("type")
	if !reports.ValidType(reportType) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown report type"})
		return
	}

	prompt := reports.DefaultPrompt(reportType)
	if owner := c.Query("owner_key"); owner != "" && s.store != nil {
		saved, err := s.store.GetOverride(c.Request.Context(), owner, reportType)
		if err != nil {
			s.logger.Warn("failed to load prompt override", "error", err)
		}
		prompt = reports.EffectivePrompt("", saved, reportType)
	}
	c.JSON(http.StatusOK, gin.H{"report_type": reportType, "prompt": prompt})
}

func (s *Server) listTemplates(c *gin.Context) {
	owner := c.Query("owner_key")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_key is required"})
		return
	}
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "template store unavailable"})
		return
	}
	overrides, err := s.store.ListOverrides(c.Request.Context(), owner)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list templates"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": overrides})
}

func (s *Server) getTemplate(c *gin.Context) {
	owner := c.Query("owner_key")
	reportType := c.Param("type")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_key is required"})
		return
	}
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "template store unavailable"})
		return
	}
	prompt, err := s.store.GetOverride(c.Request.Context(), owner, reportType)
	if err != nil {
		s.logger.Error("failed to load template", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load template"})
		return
	}
	if prompt == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no template for this owner and type"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_type": reportType, "prompt": prompt})
}

type putTemplateRequest struct {
	OwnerKey   string `json:"owner_key"`
	PromptText string `json:"prompt_text"`
}

func (s *Server) putTemplate(c *gin.Context) {
	var req putTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	reportType := c.Param("type")
	switch {
	case req.OwnerKey == "" || req.PromptText == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_key and prompt_text are required"})
		return
	case !reports.ValidType(reportType):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown report type"})
		return
	case s.store == nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "template store unavailable"})
		return
	}
	if err := s.store.SetOverride(c.Request.Context(), req.OwnerKey, reportType, req.PromptText); err != nil {
		s.logger.Error("failed to save template", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save template"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report_type": reportType, "saved": true})
}

func (s *Server) deleteTemplate(c *gin.Context) {
	owner := c.Query("owner_key")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_key is required"})
		return
	}
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "template store unavailable"})
		return
	}
	if err := s.store.DeleteOverride(c.Request.Context(), owner, c.Param("type")); err != nil {
		s.logger.Error("failed to delete template", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete template"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
