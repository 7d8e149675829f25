package scheduler

import (
	"context"
	"strings"

	"github.com/finsight-ai/finsight/pkg/memory"
	"github.com/finsight-ai/finsight/pkg/models"
)

// sectionOrder fixes the multi-agent summary layout when no advisor content
// exists.
var sectionOrder = []models.AgentName{
	models.AgentMarketData,
	models.AgentFundamentals,
	models.AgentTechnicalAnalysis,
	models.AgentSentiment,
	models.AgentMacro,
	models.AgentAdvisor,
}

var sectionLabels = map[models.AgentName]string{
	models.AgentMarketData:        "Market Data",
	models.AgentFundamentals:      "Fundamentals",
	models.AgentTechnicalAnalysis: "Technical Analysis",
	models.AgentSentiment:         "Sentiment",
	models.AgentMacro:             "Macro",
	models.AgentAdvisor:           "Advisor",
}

// aggregate sets the final response and persists the turn. Memory failures
// are warnings, never turn failures.
func (s *Scheduler) aggregate(ctx context.Context, state *models.ConversationState) {
	state.FinalResponse = Compose(state.AgentResults)

	if s.memory == nil {
		return
	}
	err := s.memory.Save(ctx, state.LatestUserMessage(), state.FinalResponse, memory.Metadata{
		TenantID:       state.TenantID,
		UserID:         state.UserID,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		s.logger.Warn("failed to persist turn to memory", "error", err)
	}
}

// Compose builds the final response text. A non-empty advisor result wins
// outright; otherwise each non-empty section renders in fixed order.
func Compose(results map[models.AgentName]models.AgentResult) string {
	if adv, ok := results[models.AgentAdvisor]; ok && adv.Content != "" {
		return adv.Content
	}

	var b strings.Builder
	for _, agent := range sectionOrder {
		res, ok := results[agent]
		if !ok || res.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("### " + sectionLabels[agent] + "\n" + res.Content)
	}
	if b.Len() == 0 {
		return "I wasn't able to gather the research needed to answer that. Please try rephrasing or asking again."
	}
	return b.String()
}
