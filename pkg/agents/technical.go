package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/marketdata"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/ta"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// TechnicalAgent computes indicators over price history. It reads the
// projected history from the prior market_data result; when none is present
// it is allowed exactly one history tool call of its own.
type TechnicalAgent struct {
	tools  ToolCaller
	logger *slog.Logger
}

// NewTechnicalAgent creates the technical_analysis specialist.
func NewTechnicalAgent(toolCaller ToolCaller, logger *slog.Logger) *TechnicalAgent {
	return &TechnicalAgent{tools: toolCaller, logger: logger.With("agent", models.AgentTechnicalAnalysis)}
}

// Name implements Specialist.
func (a *TechnicalAgent) Name() models.AgentName { return models.AgentTechnicalAnalysis }

// Execute implements Specialist.
func (a *TechnicalAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}
	query := compositeQuery(tasks)

	symbol, candles := priorHistory(state, query)
	if len(candles) == 0 {
		// One re-invocation with our own tool call is allowed.
		if symbol == "" {
			if syms := ExtractSymbols(query); len(syms) > 0 {
				symbol = syms[0]
			} else if syms := ExtractSymbols(state.LatestUserMessage()); len(syms) > 0 {
				symbol = syms[0]
			}
		}
		if symbol == "" {
			return update(a.Name(), tasks, models.AgentResult{Error: "no symbol or price data available for technical analysis"})
		}
		payload, err := callTool(ctx, a.tools, events, tools.ToolHistoricalPrices, map[string]any{"symbol": symbol, "days": 365})
		if err != nil {
			if errors.Is(err, marketdata.ErrStaleHistory) {
				// Proceed with a qualified answer rather than failing the task.
				return update(a.Name(), tasks, models.AgentResult{
					Symbols: []string{symbol},
					Content: fmt.Sprintf("Price history for %s may be stale; every provider's freshest candle is past the freshness window, so indicators were not computed.", symbol),
				})
			}
			return update(a.Name(), tasks, models.AgentResult{Symbols: []string{symbol}, Error: fmt.Sprintf("price data fetch failed: %v", err)})
		}
		if err := json.Unmarshal(payload.Output, &candles); err != nil || len(candles) == 0 {
			return update(a.Name(), tasks, models.AgentResult{Symbols: []string{symbol}, Error: "price data payload is empty or malformed"})
		}
	}
	if symbol == "" {
		symbol = candles[0].Symbol
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	result := a.analyze(symbol, closes, query)
	return update(a.Name(), tasks, result)
}

// priorHistory pulls projected history rows out of the prior market_data
// result. When the query names a symbol, only that symbol's rows qualify.
func priorHistory(state *models.ConversationState, query string) (string, []models.Candle) {
	prior, ok := state.AgentResults[models.AgentMarketData]
	if !ok {
		return "", nil
	}
	data := decodeToolData(prior.Data)
	if data == nil {
		return "", nil
	}

	wanted := ""
	if syms := ExtractSymbols(query); len(syms) > 0 {
		wanted = syms[0]
	}

	var fallbackRows []models.Candle
	fallbackSym := ""
	for key, raw := range data {
		if key != tools.ToolHistoricalPrices && !strings.HasPrefix(key, tools.ToolHistoricalPrices+":") {
			continue
		}
		var rows []models.Candle
		if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
			continue
		}
		sym := rows[0].Symbol
		if wanted != "" && sym == wanted {
			return sym, rows
		}
		if fallbackRows == nil {
			fallbackRows, fallbackSym = rows, sym
		}
	}
	if wanted != "" && fallbackSym != wanted && fallbackRows != nil {
		// Query names a symbol the prior result does not carry.
		return wanted, nil
	}
	return fallbackSym, fallbackRows
}

// analyze picks indicator depth from the data available: the full composite
// snapshot when 200+ closes exist, RSI/SMA partials otherwise, and an
// explicit insufficient-data message at the floor.
func (a *TechnicalAgent) analyze(symbol string, closes []float64, query string) models.AgentResult {
	if snap, err := ta.ComputeSnapshot(symbol, closes); err == nil {
		data, _ := json.Marshal(snap)
		return models.AgentResult{
			Content: formatSnapshot(snap),
			Symbols: []string{symbol},
			Data:    data,
		}
	}

	// Partial read: not enough closes for the composite, maybe enough for RSI.
	rsi, rsiErr := ta.RSI(closes, 14)
	if rsiErr != nil {
		return models.AgentResult{
			Symbols: []string{symbol},
			Content: fmt.Sprintf("Insufficient price data for %s: have %d closes, technical indicators need at least 15 (and 200 for the full snapshot).", symbol, len(closes)),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s technicals** (partial, %d closes):\n", symbol, len(closes))
	fmt.Fprintf(&b, "- RSI(14): %.1f\n", rsi)
	if sma20, err := ta.SMA(closes, 20); err == nil {
		fmt.Fprintf(&b, "- SMA(20): %.2f\n", sma20)
	}
	if macd, err := ta.MACD(closes); err == nil {
		fmt.Fprintf(&b, "- MACD: %.3f (signal %.3f, histogram %.3f)\n", macd.MACD, macd.Signal, macd.Histogram)
	}
	b.WriteString("Longer-window indicators (SMA 50/200, trend) need more history.")

	data, _ := json.Marshal(map[string]any{"symbol": symbol, "rsi_14": rsi})
	return models.AgentResult{Content: b.String(), Symbols: []string{symbol}, Data: data}
}

func formatSnapshot(snap *ta.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s technical snapshot** (trend: %s)\n", snap.Symbol, snap.Trend)
	fmt.Fprintf(&b, "- Close: %.2f\n", snap.Close)
	fmt.Fprintf(&b, "- SMA 20/50/200: %.2f / %.2f / %.2f\n", snap.SMA20, snap.SMA50, snap.SMA200)
	fmt.Fprintf(&b, "- RSI(14): %.1f\n", snap.RSI14)
	fmt.Fprintf(&b, "- MACD: %.3f (signal %.3f, histogram %.3f)\n", snap.MACD.MACD, snap.MACD.Signal, snap.MACD.Histogram)
	fmt.Fprintf(&b, "- Support/resistance (20d): %.2f / %.2f\n", snap.Support, snap.Resistance)
	return b.String()
}
