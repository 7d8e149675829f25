package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/marketdata"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/fred"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// fakeTools returns canned ToolCallPayloads keyed by tool name and records
// every call.
type fakeTools struct {
	outputs map[string]any // tool -> value marshaled into Output
	errs    map[string]error
	calls   []string
}

func (f *fakeTools) Call(_ context.Context, tool string, input map[string]any) (*models.ToolCallPayload, error) {
	key := tool
	if sym, ok := input["symbol"].(string); ok && sym != "" {
		key = tool + ":" + sym
	}
	f.calls = append(f.calls, key)

	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if err, ok := f.errs[tool]; ok {
		return nil, err
	}

	value, ok := f.outputs[key]
	if !ok {
		value, ok = f.outputs[tool]
	}
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", key)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &models.ToolCallPayload{Tool: tool, Output: out}, nil
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Generate(_ context.Context, _ string, _ []models.Message) (string, error) {
	return f.reply, f.err
}

func (f *fakeLLM) GenerateStream(_ context.Context, _ string, _ []models.Message, onToken func(string)) (string, error) {
	if f.err == nil && onToken != nil {
		onToken(f.reply)
	}
	return f.reply, f.err
}

func candleRamp(symbol string, n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Symbol: symbol,
			Date:   fmt.Sprintf("2026-07-%02d", i+1),
			Close:  start + float64(i)*step,
		}
	}
	return out
}

func stateWithPlan(userMsg string, steps ...models.AgentTask) *models.ConversationState {
	status := map[string]models.TaskStatus{}
	for _, s := range steps {
		status[s.TaskID] = models.TaskPending
	}
	return &models.ConversationState{
		Messages:     []models.Message{{Role: models.RoleUser, Content: userMsg}},
		Plan:         &models.ExecutionPlan{Steps: steps},
		TaskStatus:   status,
		AgentResults: map[models.AgentName]models.AgentResult{},
	}
}

func TestReadyTasks(t *testing.T) {
	state := stateWithPlan("q",
		models.AgentTask{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "quote AAPL"},
		models.AgentTask{TaskID: "t2_technical_analysis", Agent: models.AgentTechnicalAnalysis, DependsOn: []string{"t1_market_data"}},
	)

	ready := ReadyTasks(state, models.AgentMarketData)
	require.Len(t, ready, 1)
	assert.Equal(t, "t1_market_data", ready[0].TaskID)

	// Dependency not yet completed: technical has no ready tasks.
	assert.Empty(t, ReadyTasks(state, models.AgentTechnicalAnalysis))

	state.TaskStatus["t1_market_data"] = models.TaskCompleted
	assert.Len(t, ReadyTasks(state, models.AgentTechnicalAnalysis), 1)

	// Failed dependency never makes a task ready.
	state.TaskStatus["t1_market_data"] = models.TaskFailed
	assert.Empty(t, ReadyTasks(state, models.AgentTechnicalAnalysis))
}

func TestExtractSymbols(t *testing.T) {
	assert.Equal(t, []string{"TSLA"}, ExtractSymbols("Why did $TSLA drop?"))
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, ExtractSymbols("Compare AAPL vs MSFT vs NVDA last 5 trading days"))
	assert.Equal(t, []string{"AAPL"}, ExtractSymbols("what about apple earnings"))
	assert.Empty(t, ExtractSymbols("why is the market down"))
	// Indicator names are not tickers.
	assert.NotContains(t, ExtractSymbols("RSI for the market"), "RSI")
}

func TestMarketData_DeterministicCompare(t *testing.T) {
	ft := &fakeTools{outputs: map[string]any{
		tools.ToolHistoricalPrices + ":AAPL": candleRamp("AAPL", 10, 100, 1),
		tools.ToolHistoricalPrices + ":MSFT": candleRamp("MSFT", 10, 500, -2),
		tools.ToolHistoricalPrices + ":NVDA": candleRamp("NVDA", 10, 900, 5),
	}}
	agent := NewMarketDataAgent(ft, &fakeLLM{reply: "should not be used"}, slog.Default())

	state := stateWithPlan("Compare AAPL vs MSFT vs NVDA last 5 trading days",
		models.AgentTask{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "Compare AAPL vs MSFT vs NVDA last 5 trading days"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t1_market_data"])
	res := upd.AgentResults[models.AgentMarketData]
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, res.Symbols)

	// Markdown table with a header cell per symbol and 5 date rows.
	assert.Contains(t, res.Content, "| Date | AAPL | MSFT | NVDA |")
	assert.Contains(t, res.Content, "2026-07-06") // first of the last 5 rows
	assert.Contains(t, res.Content, "2026-07-10")
	assert.NotContains(t, res.Content, "2026-07-05")
	// Per-symbol delta lines.
	assert.Contains(t, res.Content, "- AAPL:")
	assert.Contains(t, res.Content, "- MSFT:")
	// The LLM was bypassed.
	assert.NotContains(t, res.Content, "should not be used")
}

func TestMarketData_FailureMarksTasksFailed(t *testing.T) {
	ft := &fakeTools{errs: map[string]error{tools.ToolQuote: fmt.Errorf("provider down")}}
	agent := NewMarketDataAgent(ft, nil, slog.Default())

	state := stateWithPlan("quote for AAPL",
		models.AgentTask{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "quote for AAPL"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	assert.Equal(t, models.TaskFailed, upd.TaskStatus["t1_market_data"])
	assert.NotEmpty(t, upd.AgentResults[models.AgentMarketData].Error)
}

func TestFundamentals_BackfillsEveryMentionedTicker(t *testing.T) {
	ft := &fakeTools{outputs: map[string]any{
		tools.ToolCompanyOverview + ":AAPL": map[string]any{"symbol": "AAPL", "pe_ratio": 30.0},
		tools.ToolCompanyOverview + ":MSFT": map[string]any{"symbol": "MSFT", "pe_ratio": 35.0},
	}}
	agent := NewFundamentalsAgent(ft, nil, slog.Default())

	state := stateWithPlan("Is AAPL or MSFT a better value?",
		models.AgentTask{TaskID: "t1_fundamentals", Agent: models.AgentFundamentals, Query: "Is AAPL or MSFT a better value?"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t1_fundamentals"])
	res := upd.AgentResults[models.AgentFundamentals]
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, res.Symbols)
	assert.Contains(t, ft.calls, tools.ToolCompanyOverview+":AAPL")
	assert.Contains(t, ft.calls, tools.ToolCompanyOverview+":MSFT")
}

func TestTechnical_ReadsPriorMarketDataHistory(t *testing.T) {
	// Prior market_data result carries 250 candles; technical must not
	// re-fetch.
	histJSON, err := json.Marshal(candleRamp("MSFT", 250, 300, 0.5))
	require.NoError(t, err)
	priorData, err := json.Marshal(map[string]json.RawMessage{
		tools.ToolHistoricalPrices: histJSON,
	})
	require.NoError(t, err)

	ft := &fakeTools{}
	agent := NewTechnicalAgent(ft, slog.Default())

	state := stateWithPlan("RSI for MSFT",
		models.AgentTask{TaskID: "t2_technical_analysis", Agent: models.AgentTechnicalAnalysis, Query: "RSI for MSFT"},
	)
	state.AgentResults[models.AgentMarketData] = models.AgentResult{
		Agent: models.AgentMarketData, Symbols: []string{"MSFT"}, Data: priorData,
	}

	upd := agent.Execute(context.Background(), state, nil)
	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t2_technical_analysis"])
	res := upd.AgentResults[models.AgentTechnicalAnalysis]
	assert.Contains(t, res.Content, "RSI(14)")
	assert.Empty(t, ft.calls)
}

func TestTechnical_InsufficientDataMessage(t *testing.T) {
	histJSON, err := json.Marshal(candleRamp("MSFT", 5, 300, 1))
	require.NoError(t, err)
	priorData, err := json.Marshal(map[string]json.RawMessage{tools.ToolHistoricalPrices: histJSON})
	require.NoError(t, err)

	agent := NewTechnicalAgent(&fakeTools{}, slog.Default())
	state := stateWithPlan("RSI for MSFT",
		models.AgentTask{TaskID: "t2_technical_analysis", Agent: models.AgentTechnicalAnalysis, Query: "RSI for MSFT"},
	)
	state.AgentResults[models.AgentMarketData] = models.AgentResult{Agent: models.AgentMarketData, Data: priorData}

	upd := agent.Execute(context.Background(), state, nil)
	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t2_technical_analysis"])
	assert.Contains(t, upd.AgentResults[models.AgentTechnicalAnalysis].Content, "Insufficient price data")
}

func TestTechnical_StaleHistoryQualifiesAnswer(t *testing.T) {
	ft := &fakeTools{errs: map[string]error{
		tools.ToolHistoricalPrices + ":MSFT": fmt.Errorf("history for MSFT: %w", marketdata.ErrStaleHistory),
	}}
	agent := NewTechnicalAgent(ft, slog.Default())

	state := stateWithPlan("RSI for MSFT",
		models.AgentTask{TaskID: "t2_technical_analysis", Agent: models.AgentTechnicalAnalysis, Query: "RSI for MSFT"},
	)

	upd := agent.Execute(context.Background(), state, nil)
	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t2_technical_analysis"])
	res := upd.AgentResults[models.AgentTechnicalAnalysis]
	assert.Empty(t, res.Error, "stale history must not fail the task")
	assert.Contains(t, res.Content, "may be stale")
}

func TestTechnical_SingleRefetchWhenNoPriorData(t *testing.T) {
	ft := &fakeTools{outputs: map[string]any{
		tools.ToolHistoricalPrices + ":MSFT": candleRamp("MSFT", 250, 300, 0.5),
	}}
	agent := NewTechnicalAgent(ft, slog.Default())

	state := stateWithPlan("RSI for MSFT",
		models.AgentTask{TaskID: "t2_technical_analysis", Agent: models.AgentTechnicalAnalysis, Query: "RSI for MSFT"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t2_technical_analysis"])
	assert.Len(t, ft.calls, 1)
	assert.Contains(t, upd.AgentResults[models.AgentTechnicalAnalysis].Content, "RSI(14)")
}

func TestAdvisor_PriceMoveExplainer(t *testing.T) {
	// TSLA slides over the window with a mid-window peak.
	candles := []models.Candle{
		{Symbol: "TSLA", Date: "2026-08-17", Close: 250},
		{Symbol: "TSLA", Date: "2026-08-18", Close: 258},
		{Symbol: "TSLA", Date: "2026-08-19", Close: 262},
		{Symbol: "TSLA", Date: "2026-08-20", Close: 244},
		{Symbol: "TSLA", Date: "2026-08-21", Close: 238},
	}
	ft := &fakeTools{outputs: map[string]any{
		tools.ToolHistoricalPrices + ":TSLA": candles,
		tools.ToolCompanyNews + ":TSLA": []map[string]any{
			{"title": "Deliveries miss estimates", "source": "wire"},
		},
	}}
	agent := NewAdvisorAgent(ft, &fakeLLM{reply: "unused"}, slog.Default())

	state := stateWithPlan("Why did TSLA drop this past week?",
		models.AgentTask{TaskID: "t2_advisor", Agent: models.AgentAdvisor, Query: "Why did TSLA drop this past week?"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t2_advisor"])
	res := upd.AgentResults[models.AgentAdvisor]
	assert.Equal(t, []string{"TSLA"}, res.Symbols)

	// Three-part markdown: direct answer, Price Action table, drivers.
	assert.Contains(t, res.Content, "TSLA dropped")
	assert.Contains(t, res.Content, "**Price Action**")
	assert.Contains(t, res.Content, "| Window |")
	assert.Contains(t, res.Content, "| Net move |")
	assert.Contains(t, res.Content, "**Likely Drivers**")
	assert.Contains(t, res.Content, "Deliveries miss estimates")
	assert.Contains(t, res.Content, "Risk & Confidence")
}

func TestAdvisor_SymbolFromPeerResults(t *testing.T) {
	candles := candleRamp("NVDA", 10, 900, -3)
	ft := &fakeTools{outputs: map[string]any{
		tools.ToolHistoricalPrices + ":NVDA": candles,
		tools.ToolCompanyNews + ":NVDA":      []map[string]any{},
	}}
	agent := NewAdvisorAgent(ft, nil, slog.Default())

	state := stateWithPlan("Why did it fall this past week?",
		models.AgentTask{TaskID: "t2_advisor", Agent: models.AgentAdvisor, Query: "Why did it fall this past week?"},
	)
	state.AgentResults[models.AgentMarketData] = models.AgentResult{
		Agent: models.AgentMarketData, Symbols: []string{"NVDA"},
	}

	upd := agent.Execute(context.Background(), state, nil)
	assert.Equal(t, []string{"NVDA"}, upd.AgentResults[models.AgentAdvisor].Symbols)
}

func TestAdvisor_SynthesisUsesAllResearch(t *testing.T) {
	agent := NewAdvisorAgent(&fakeTools{}, &fakeLLM{reply: "Balanced view: hold."}, slog.Default())

	state := stateWithPlan("Should I buy AAPL?",
		models.AgentTask{TaskID: "t3_advisor", Agent: models.AgentAdvisor, Query: "Should I buy AAPL?"},
	)
	state.AgentResults[models.AgentMarketData] = models.AgentResult{Agent: models.AgentMarketData, Content: "AAPL 231.50", Symbols: []string{"AAPL"}}
	state.AgentResults[models.AgentFundamentals] = models.AgentResult{Agent: models.AgentFundamentals, Content: "PE 30"}

	upd := agent.Execute(context.Background(), state, nil)
	res := upd.AgentResults[models.AgentAdvisor]
	assert.Equal(t, "Balanced view: hold.", res.Content)
	assert.Equal(t, models.TaskCompleted, upd.TaskStatus["t3_advisor"])
}

func TestMacro_SpecificSeries(t *testing.T) {
	econ := &fakeEconomic{series: map[string]*models.EconomicSeries{
		"UNRATE": {SeriesID: "UNRATE", Observations: []models.EconomicReading{
			{Date: "2026-06-01", Value: 4.1},
			{Date: "2026-07-01", Value: 4.3},
		}},
	}}
	agent := NewMacroAgent(econ, nil, slog.Default())

	state := stateWithPlan("What is the unemployment rate doing?",
		models.AgentTask{TaskID: "t1_macro", Agent: models.AgentMacro, Query: "What is the unemployment rate doing?"},
	)
	upd := agent.Execute(context.Background(), state, nil)

	require.Equal(t, models.TaskCompleted, upd.TaskStatus["t1_macro"])
	content := upd.AgentResults[models.AgentMacro].Content
	assert.Contains(t, content, "UNRATE")
	assert.Contains(t, content, "4.30")
	assert.Equal(t, []string{"UNRATE"}, econ.requested)
}

type fakeEconomic struct {
	series    map[string]*models.EconomicSeries
	requested []string
}

func (f *fakeEconomic) Observations(_ context.Context, seriesID string, _ int) (*models.EconomicSeries, error) {
	f.requested = append(f.requested, seriesID)
	if s, ok := f.series[seriesID]; ok {
		return s, nil
	}
	return &models.EconomicSeries{SeriesID: seriesID}, nil
}

func (f *fakeEconomic) Search(_ context.Context, _ string, _ int) ([]fred.SeriesInfo, error) {
	return nil, nil
}
