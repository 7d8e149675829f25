package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// MarketDataAgent fetches quotes, history, movers, and market hours. Plain
// data questions go through the LLM for phrasing; multi-symbol history
// comparisons take a fully deterministic path.
type MarketDataAgent struct {
	tools  ToolCaller
	llm    llm.Client
	logger *slog.Logger
}

// NewMarketDataAgent creates the market_data specialist.
func NewMarketDataAgent(toolCaller ToolCaller, client llm.Client, logger *slog.Logger) *MarketDataAgent {
	return &MarketDataAgent{tools: toolCaller, llm: client, logger: logger.With("agent", models.AgentMarketData)}
}

// Name implements Specialist.
func (a *MarketDataAgent) Name() models.AgentName { return models.AgentMarketData }

// Execute implements Specialist.
func (a *MarketDataAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}
	query := compositeQuery(tasks)

	if symbols, days, ok := detectHistoryCompare(query); ok {
		result := a.compareHistories(ctx, symbols, days, events)
		return update(a.Name(), tasks, result)
	}

	result := a.generalQuery(ctx, query, events)
	return update(a.Name(), tasks, result)
}

var dayCountRe = regexp.MustCompile(`(?i)(?:last|past)\s+(\d+)\s+(?:trading\s+)?days?`)

// detectHistoryCompare recognizes multi-symbol comparison requests: at least
// two tickers plus a comparison cue. The day count defaults to 5.
func detectHistoryCompare(query string) (symbols []string, days int, ok bool) {
	lower := strings.ToLower(query)
	if !strings.Contains(lower, "compare") && !strings.Contains(lower, " vs ") && !strings.Contains(lower, "versus") {
		return nil, 0, false
	}
	symbols = ExtractSymbols(query)
	if len(symbols) < 2 {
		return nil, 0, false
	}
	days = 5
	if m := dayCountRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			days = n
		}
	}
	return symbols, days, true
}

// compareHistories builds a merged markdown table of closes plus per-symbol
// deltas over the window. Deterministic: no LLM involved.
func (a *MarketDataAgent) compareHistories(ctx context.Context, symbols []string, days int, events Events) models.AgentResult {
	data := toolData{}
	histories := map[string][]models.Candle{}

	for _, sym := range symbols {
		payload, err := callTool(ctx, a.tools, events, tools.ToolHistoricalPrices, map[string]any{"symbol": sym, "days": days * 3})
		if err != nil {
			return models.AgentResult{Symbols: symbols, Error: fmt.Sprintf("history for %s: %v", sym, err)}
		}
		var rows []models.Candle
		if err := json.Unmarshal(payload.Output, &rows); err != nil || len(rows) == 0 {
			return models.AgentResult{Symbols: symbols, Error: fmt.Sprintf("no usable history for %s", sym)}
		}
		if len(rows) > days {
			rows = rows[len(rows)-days:]
		}
		histories[sym] = rows
		data[tools.ToolHistoricalPrices+":"+sym] = payload.Output
	}

	// Dates come from the first symbol's window; rows missing for another
	// symbol render as "-".
	dates := make([]string, 0, days)
	for _, row := range histories[symbols[0]] {
		dates = append(dates, row.Date)
	}
	closeFor := func(sym, date string) string {
		for _, row := range histories[sym] {
			if row.Date == date {
				return fmt.Sprintf("%.2f", row.Close)
			}
		}
		return "-"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Closing prices, last %d trading days:\n\n", days)
	b.WriteString("| Date |")
	for _, sym := range symbols {
		b.WriteString(" " + sym + " |")
	}
	b.WriteString("\n|------|")
	for range symbols {
		b.WriteString("------|")
	}
	b.WriteString("\n")
	for _, date := range dates {
		b.WriteString("| " + date + " |")
		for _, sym := range symbols {
			b.WriteString(" " + closeFor(sym, date) + " |")
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	for _, sym := range symbols {
		rows := histories[sym]
		first, last := rows[0].Close, rows[len(rows)-1].Close
		pct := 0.0
		if first != 0 {
			pct = (last - first) / first * 100
		}
		fmt.Fprintf(&b, "- %s: %.2f -> %.2f (%+.2f%%) over %d days\n", sym, first, last, pct, len(rows))
	}

	return models.AgentResult{Content: b.String(), Symbols: symbols, Data: data.encode()}
}

// generalQuery fetches quote and history evidence for the mentioned symbols
// and asks the LLM to phrase an answer; on LLM failure the rendered evidence
// is the answer.
func (a *MarketDataAgent) generalQuery(ctx context.Context, query string, events Events) models.AgentResult {
	symbols := ExtractSymbols(query)
	data := toolData{}
	var evidence []string

	lower := strings.ToLower(query)
	if strings.Contains(lower, "mover") || strings.Contains(lower, "gainer") || strings.Contains(lower, "loser") {
		if payload, err := callTool(ctx, a.tools, events, tools.ToolMarketMovers, map[string]any{}); err == nil {
			data[tools.ToolMarketMovers] = payload.Output
			evidence = append(evidence, tools.Render(tools.ToolMarketMovers, payload.Output))
		}
	}
	if strings.Contains(lower, "hour") || strings.Contains(lower, "open") && strings.Contains(lower, "market") {
		if payload, err := callTool(ctx, a.tools, events, tools.ToolMarketHours, map[string]any{"markets": "equity"}); err == nil {
			data[tools.ToolMarketHours] = payload.Output
			evidence = append(evidence, tools.Render(tools.ToolMarketHours, payload.Output))
		}
	}

	if len(symbols) > 0 {
		payload, err := callTool(ctx, a.tools, events, tools.ToolQuote, map[string]any{"symbols": strings.Join(symbols, ",")})
		if err != nil {
			return models.AgentResult{Symbols: symbols, Error: err.Error()}
		}
		data[tools.ToolQuote] = payload.Output
		evidence = append(evidence, tools.Render(tools.ToolQuote, payload.Output))

		if histPayload, err := callTool(ctx, a.tools, events, tools.ToolHistoricalPrices, map[string]any{"symbol": symbols[0], "days": 30}); err == nil {
			data[tools.ToolHistoricalPrices] = histPayload.Output
			evidence = append(evidence, tools.Render(tools.ToolHistoricalPrices, histPayload.Output))
		}
	}

	if len(evidence) == 0 {
		return models.AgentResult{Error: "no market data available for this query"}
	}

	content := strings.Join(evidence, "\n\n")
	if a.llm != nil {
		prompt := fmt.Sprintf("Market data:\n%s\n\nAnswer the question concisely using only this data: %s", content, query)
		if answer, err := a.llm.Generate(ctx, "You are a market data assistant. Be factual and brief.", []models.Message{{Role: models.RoleUser, Content: prompt}}); err == nil && answer != "" {
			content = answer
		} else if err != nil {
			a.logger.Warn("llm phrasing failed, returning rendered evidence", "error", err)
		}
	}

	return models.AgentResult{Content: content, Symbols: symbols, Data: data.encode()}
}

