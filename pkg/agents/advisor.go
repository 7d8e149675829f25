package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// AdvisorAgent is the synthesis pass: it reads every research result and
// produces the user-facing answer. One deterministic subpath exists — the
// price-move explainer — for "why did X drop/rally" style questions.
type AdvisorAgent struct {
	tools  ToolCaller
	llm    llm.Client
	logger *slog.Logger
}

// NewAdvisorAgent creates the advisor specialist.
func NewAdvisorAgent(toolCaller ToolCaller, client llm.Client, logger *slog.Logger) *AdvisorAgent {
	return &AdvisorAgent{tools: toolCaller, llm: client, logger: logger.With("agent", models.AgentAdvisor)}
}

// Name implements Specialist.
func (a *AdvisorAgent) Name() models.AgentName { return models.AgentAdvisor }

// Execute implements Specialist.
func (a *AdvisorAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}

	userMsg := state.LatestUserMessage()
	if isPriceMoveQuestion(userMsg) {
		result := a.explainPriceMove(ctx, userMsg, state, events)
		return update(a.Name(), tasks, result)
	}

	result := a.synthesize(ctx, compositeQuery(tasks), state)
	return update(a.Name(), tasks, result)
}

var (
	motionRe  = regexp.MustCompile(`(?i)\b(drop|dropped|fell|fall|down|crash|crashed|plunge|plunged|tank|tanked|sink|sank|up|rally|rallied|surge|surged|rise|rose|jump|jumped|gain|gained|spike|spiked)\b`)
	intentRe  = regexp.MustCompile(`(?i)\b(why|what happened|explain|reason|cause)\b`)
	horizonRe = regexp.MustCompile(`(?i)\b(past|last|this)\s+(week|month|day|few days)\b`)
	upwardRe  = regexp.MustCompile(`(?i)\b(up|rally|rallied|surge|surged|rise|rose|jump|jumped|gain|gained)\b`)
)

// isPriceMoveQuestion triggers on motion+intent or motion+horizon.
func isPriceMoveQuestion(text string) bool {
	if !motionRe.MatchString(text) {
		return false
	}
	return intentRe.MatchString(text) || horizonRe.MatchString(text)
}

// horizonDays derives the lookback window from the question text.
func horizonDays(text string) int {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "past month"), strings.Contains(lower, "last month"), strings.Contains(lower, "this month"):
		return 30
	case strings.Contains(lower, "past week"), strings.Contains(lower, "last week"), strings.Contains(lower, "this week"):
		return 7
	default:
		return 7
	}
}

// resolveSymbol finds the subject ticker: explicit forms in the question
// first, then the first symbol any peer result reported.
func resolveSymbol(text string, state *models.ConversationState) string {
	if syms := ExtractSymbols(text); len(syms) > 0 {
		return syms[0]
	}
	for _, agent := range models.AllAgents() {
		if res, ok := state.AgentResults[agent]; ok && len(res.Symbols) > 0 {
			return res.Symbols[0]
		}
	}
	return ""
}

// explainPriceMove is the deterministic price-move explainer.
func (a *AdvisorAgent) explainPriceMove(ctx context.Context, question string, state *models.ConversationState, events Events) models.AgentResult {
	symbol := resolveSymbol(question, state)
	if symbol == "" {
		return models.AgentResult{Error: "could not resolve a ticker from the question"}
	}
	days := horizonDays(question)

	candles := a.historyFor(ctx, symbol, days, state, events)
	if len(candles) < 2 {
		return models.AgentResult{Symbols: []string{symbol}, Error: fmt.Sprintf("not enough price history for %s to explain the move", symbol)}
	}
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}

	start := candles[0].Close
	end := candles[len(candles)-1].Close
	peak, peakDate := start, candles[0].Date
	for _, c := range candles {
		if c.Close > peak {
			peak, peakDate = c.Close, c.Date
		}
	}
	netPct := 0.0
	if start != 0 {
		netPct = (end - start) / start * 100
	}

	direction := "rose"
	if netPct < 0 {
		direction = "dropped"
	}

	// Sub-intent: the user said "up" but the net move is negative (or the
	// move peaked and reversed inside the window).
	reversed := peak > start && peak > end && peakDate != candles[0].Date && peakDate != candles[len(candles)-1].Date
	askedUp := upwardRe.MatchString(question)
	mismatch := askedUp && netPct < 0

	var b strings.Builder

	// Part 1: direct answer.
	fmt.Fprintf(&b, "%s %s %.2f%% over the past %d days (%.2f -> %.2f).",
		symbol, direction, abs(netPct), len(candles), start, end)
	if mismatch {
		fmt.Fprintf(&b, " It did trade up intra-window (peak %.2f on %s) before reversing.", peak, peakDate)
	} else if reversed {
		fmt.Fprintf(&b, " The move peaked at %.2f on %s before fading.", peak, peakDate)
	}
	b.WriteString("\n\n")

	// Part 2: price action table.
	b.WriteString("**Price Action**\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Window | %s to %s (%d trading days) |\n", candles[0].Date, candles[len(candles)-1].Date, len(candles))
	fmt.Fprintf(&b, "| Net move | %+.2f%% (%.2f -> %.2f) |\n", netPct, start, end)
	fmt.Fprintf(&b, "| Peak | %.2f on %s |\n", peak, peakDate)
	b.WriteString("\n")

	// Part 3: likely drivers + risk & confidence.
	b.WriteString("**Likely Drivers**\n\n")
	drivers := a.collectDrivers(ctx, symbol, state, events)
	if len(drivers) == 0 {
		drivers = []string{"No specific catalyst surfaced in news or sentiment; the move may reflect broader market or sector rotation."}
	}
	for _, d := range drivers {
		b.WriteString("- " + d + "\n")
	}
	b.WriteString("\n**Risk & Confidence**: drivers are inferred from headlines and sentiment, not primary filings; confidence is moderate. Verify against upcoming earnings or disclosures before acting.\n")

	return models.AgentResult{Content: b.String(), Symbols: []string{symbol}}
}

// historyFor prefers history already fetched by market_data this turn.
func (a *AdvisorAgent) historyFor(ctx context.Context, symbol string, days int, state *models.ConversationState, events Events) []models.Candle {
	if prior, ok := state.AgentResults[models.AgentMarketData]; ok {
		data := decodeToolData(prior.Data)
		for _, key := range []string{tools.ToolHistoricalPrices + ":" + symbol, tools.ToolHistoricalPrices} {
			if raw, ok := data[key]; ok {
				var rows []models.Candle
				if err := json.Unmarshal(raw, &rows); err == nil && len(rows) > 0 && rows[0].Symbol == symbol {
					return rows
				}
			}
		}
	}
	payload, err := callTool(ctx, a.tools, events, tools.ToolHistoricalPrices, map[string]any{"symbol": symbol, "days": days * 3})
	if err != nil {
		a.logger.Warn("history fetch failed", "symbol", symbol, "error", err)
		return nil
	}
	var rows []models.Candle
	if err := json.Unmarshal(payload.Output, &rows); err != nil {
		return nil
	}
	return rows
}

// collectDrivers gathers headline and sentiment evidence for the move.
func (a *AdvisorAgent) collectDrivers(ctx context.Context, symbol string, state *models.ConversationState, events Events) []string {
	var drivers []string

	if payload, err := callTool(ctx, a.tools, events, tools.ToolCompanyNews, map[string]any{"symbol": symbol, "limit": 5}); err == nil {
		var items []struct {
			Title  string `json:"title"`
			Source string `json:"source"`
		}
		if json.Unmarshal(payload.Output, &items) == nil {
			for _, item := range items {
				if item.Title == "" {
					continue
				}
				line := item.Title
				if item.Source != "" {
					line += " (" + item.Source + ")"
				}
				drivers = append(drivers, line)
				if len(drivers) == 3 {
					break
				}
			}
		}
	}

	if sent, ok := state.AgentResults[models.AgentSentiment]; ok && sent.Content != "" {
		first := strings.SplitN(strings.TrimSpace(sent.Content), "\n", 2)[0]
		drivers = append(drivers, "Sentiment read: "+first)
	}
	return drivers
}

// synthesize is the default advisory path: phrase a recommendation over the
// full set of research results.
func (a *AdvisorAgent) synthesize(ctx context.Context, query string, state *models.ConversationState) models.AgentResult {
	var sections []string
	var symbols []string
	for _, agent := range models.AllAgents() {
		if agent == models.AgentAdvisor {
			continue
		}
		res, ok := state.AgentResults[agent]
		if !ok || res.Content == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("[%s]\n%s", agent, res.Content))
		symbols = append(symbols, res.Symbols...)
	}

	if len(sections) == 0 {
		return models.AgentResult{Error: "no research results to synthesize"}
	}

	evidence := strings.Join(sections, "\n\n")
	content := evidence
	if a.llm != nil {
		prompt := fmt.Sprintf("Research findings:\n%s\n\nUser question: %s\n\nGive a clear, balanced answer with the key numbers, the risks, and a bottom line.", evidence, query)
		if answer, err := a.llm.Generate(ctx, "You are a financial advisor. Ground every claim in the research provided. Note uncertainty.", []models.Message{{Role: models.RoleUser, Content: prompt}}); err == nil && answer != "" {
			content = answer
		} else if err != nil {
			a.logger.Warn("llm synthesis failed, returning raw sections", "error", err)
		}
	}

	return models.AgentResult{Content: content, Symbols: dedupe(symbols)}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
