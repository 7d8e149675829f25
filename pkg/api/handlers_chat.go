package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/reports"
	"github.com/finsight-ai/finsight/pkg/stream"
)

// reportGeneratorAgent is the synthetic agent name the report streaming path
// closes with. The sub-agent fan-out never opens a matching agent_start.
const reportGeneratorAgent = "report_generator"

// chat accepts one conversation turn and streams events until the final
// frame. Report-shaped turns run the report pipeline instead of the agent
// graph but share the same wire protocol.
func (s *Server) chat(c *gin.Context) {
	var req stream.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.Messages) == 0 && req.ReportFollowup == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	sink, err := stream.NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cls := stream.Classify(req)
	switch cls.Kind {
	case stream.RouteReport:
		s.streamReport(c, req, cls, sink)
	case stream.RouteReportFollowup:
		s.streamFollowup(c, req, cls, sink)
	default:
		state := &models.ConversationState{
			Messages:       req.Messages,
			UserID:         req.UserID,
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			AgentResults:   map[models.AgentName]models.AgentResult{},
		}
		s.driver.RunChat(c.Request.Context(), state, sink)
	}
}

// streamReport runs a classified report request and emits the report markdown
// as the final frame, preceded by the report_generator agent_end.
func (s *Server) streamReport(c *gin.Context, req stream.ChatRequest, cls stream.Classification, sink stream.Sink) {
	emitter := stream.NewEmitter(sink, s.logger)

	payload := reports.Payload{Ticker: cls.Ticker, Sector: cls.Sector}
	result, err := s.runner.Run(c.Request.Context(), cls.ReportType, payload, reports.RunOptions{
		OwnerKey: ownerKeyFor(req),
	})
	if err != nil {
		s.logger.Error("report turn failed", "report_type", cls.ReportType, "error", err)
		emitter.Error(err.Error())
		emitter.AgentEnd(reportGeneratorAgent)
		emitter.Final("I couldn't generate that report. Please try again.")
		return
	}

	emitter.AgentEnd(reportGeneratorAgent)
	emitter.FinalReport(result.Report.Markdown, result.ThreadID)
}

// streamFollowup answers a report follow-up over the stream.
func (s *Server) streamFollowup(c *gin.Context, req stream.ChatRequest, cls stream.Classification, sink stream.Sink) {
	emitter := stream.NewEmitter(sink, s.logger)

	question := latestUserText(req.Messages)
	result, err := s.runner.Followup(c.Request.Context(),
		cls.Followup.ReportType, ownerKeyFor(req), cls.Followup.ThreadID,
		question, cls.Followup.RefreshData)
	if err != nil {
		s.logger.Error("report follow-up failed", "thread_id", cls.Followup.ThreadID, "error", err)
		emitter.Error(err.Error())
		emitter.AgentEnd(reportGeneratorAgent)
		emitter.Final("I couldn't answer that follow-up. Please try again.")
		return
	}

	emitter.AgentEnd(reportGeneratorAgent)
	emitter.FinalReport(result.Report.Markdown, result.ThreadID)
}

// ownerKeyFor scopes report threads to the calling user, falling back to the
// tenant for anonymous sessions.
func ownerKeyFor(req stream.ChatRequest) string {
	if req.UserID != "" {
		return req.UserID
	}
	return req.TenantID
}

func latestUserText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
