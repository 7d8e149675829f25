package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// FundamentalsAgent answers valuation and financial-health questions. Every
// ticker the user mentioned gets a company_overview fetch, whether or not
// the LLM would have asked for it.
type FundamentalsAgent struct {
	tools  ToolCaller
	llm    llm.Client
	logger *slog.Logger
}

// NewFundamentalsAgent creates the fundamentals specialist.
func NewFundamentalsAgent(toolCaller ToolCaller, client llm.Client, logger *slog.Logger) *FundamentalsAgent {
	return &FundamentalsAgent{tools: toolCaller, llm: client, logger: logger.With("agent", models.AgentFundamentals)}
}

// Name implements Specialist.
func (a *FundamentalsAgent) Name() models.AgentName { return models.AgentFundamentals }

// Execute implements Specialist.
func (a *FundamentalsAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}
	query := compositeQuery(tasks)

	symbols := ExtractSymbols(query)
	if len(symbols) == 0 {
		symbols = ExtractSymbols(state.LatestUserMessage())
	}
	if len(symbols) == 0 {
		return update(a.Name(), tasks, models.AgentResult{Error: "no ticker found for fundamentals analysis"})
	}

	data := toolData{}
	var evidence []string
	var fetched []string

	// Overview back-fill: every mentioned ticker gets one, unconditionally.
	for _, sym := range symbols {
		payload, err := callTool(ctx, a.tools, events, tools.ToolCompanyOverview, map[string]any{"symbol": sym})
		if err != nil {
			a.logger.Warn("overview fetch failed", "symbol", sym, "error", err)
			continue
		}
		data[tools.ToolCompanyOverview+":"+sym] = payload.Output
		evidence = append(evidence, sym+": "+tools.Render(tools.ToolCompanyOverview, payload.Output))
		fetched = append(fetched, sym)
	}

	lower := strings.ToLower(query)
	if strings.Contains(lower, "analyst") || strings.Contains(lower, "rating") || strings.Contains(lower, "target") {
		if payload, err := callTool(ctx, a.tools, events, tools.ToolAnalystRatings, map[string]any{"symbol": symbols[0]}); err == nil {
			data[tools.ToolAnalystRatings] = payload.Output
			evidence = append(evidence, "Analyst actions:\n"+tools.Render(tools.ToolAnalystRatings, payload.Output))
		}
	}
	if strings.Contains(lower, "insider") {
		if payload, err := callTool(ctx, a.tools, events, tools.ToolInsiderTrades, map[string]any{"symbol": symbols[0]}); err == nil {
			data[tools.ToolInsiderTrades] = payload.Output
			evidence = append(evidence, "Insider activity:\n"+tools.Render(tools.ToolInsiderTrades, payload.Output))
		}
	}

	if len(fetched) == 0 {
		return update(a.Name(), tasks, models.AgentResult{Symbols: symbols, Error: "fundamentals data unavailable for " + strings.Join(symbols, ", ")})
	}

	content := strings.Join(evidence, "\n\n")
	if a.llm != nil {
		prompt := fmt.Sprintf("Fundamentals data:\n%s\n\nAnswer using only this data: %s", content, query)
		if answer, err := a.llm.Generate(ctx, "You are an equity fundamentals analyst. Cite the figures you use.", []models.Message{{Role: models.RoleUser, Content: prompt}}); err == nil && answer != "" {
			content = answer
		} else if err != nil {
			a.logger.Warn("llm phrasing failed, returning rendered evidence", "error", err)
		}
	}

	return update(a.Name(), tasks, models.AgentResult{Content: content, Symbols: fetched, Data: data.encode()})
}
