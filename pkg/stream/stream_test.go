package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/planner"
	"github.com/finsight-ai/finsight/pkg/reports"
	"github.com/finsight-ai/finsight/pkg/scheduler"
)

func userTurn(text string) ChatRequest {
	return ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: text}}}
}

func TestClassify_ExplicitFollowup(t *testing.T) {
	req := userTurn("anything at all")
	req.ReportFollowup = &FollowupRef{ReportType: reports.TypeGoldmanScreener, ThreadID: "th-1", RefreshData: true}

	c := Classify(req)
	assert.Equal(t, RouteReportFollowup, c.Kind)
	assert.Equal(t, reports.TypeGoldmanScreener, c.ReportType)
	require.NotNil(t, c.Followup)
	assert.True(t, c.Followup.RefreshData)
}

func TestClassify_ImplicitReports(t *testing.T) {
	tests := []struct {
		text       string
		reportType string
		ticker     string
		sector     string
	}{
		{"Citadel technical report for [PLTR]", reports.TypeCitadelTechnical, "PLTR", ""},
		{"run a goldman screener report on the energy sector", reports.TypeGoldmanScreener, "", "energy"},
		{"JP Morgan fundamental report, analyze: nvda", reports.TypeJPMFundamental, "NVDA", ""},
		{"bridgewater macro report please", reports.TypeBridgewaterMacro, "", ""},
		{"blackrock risk report for my portfolio", reports.TypeBlackrockRisk, "", ""},
		{"vanguard dividend report for KO", reports.TypeVanguardDividend, "KO", ""},
		{"renaissance quant report on AAPL", reports.TypeRenaissanceQuant, "AAPL", ""},
		{"morgan stanley earnings report for MSFT", reports.TypeMorganStanleyEarning, "MSFT", ""},
		{"berkshire moat analysis of COST", reports.TypeBerkshireMoat, "COST", ""},
		{"citron short thesis on HOOD", reports.TypeCitronShort, "HOOD", ""},
		// Generic phrasing, no institution named.
		{"give me a technical report for [AMD]", reports.TypeCitadelTechnical, "AMD", ""},
		{"earnings preview report for TSLA", reports.TypeMorganStanleyEarning, "TSLA", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := Classify(userTurn(tt.text))
			assert.Equal(t, RouteReport, c.Kind)
			assert.Equal(t, tt.reportType, c.ReportType)
			assert.Equal(t, tt.ticker, c.Ticker)
			assert.Equal(t, tt.sector, c.Sector)
		})
	}
}

func TestClassify_ChatDefault(t *testing.T) {
	chats := []string{
		"why did TSLA drop this week?",
		"compare AAPL vs MSFT last 5 trading days",
		"what's the RSI for NVDA",
		"", // empty turn
	}
	for _, text := range chats {
		c := Classify(userTurn(text))
		assert.Equal(t, RouteChat, c.Kind, text)
	}
}

func TestSSEWriter_FramesAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(Event{Type: EventAgentStart, Agent: "market_data"}))
	require.NoError(t, w.Send(Event{Type: EventFinal, Content: "done"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"type":"agent_start","agent":"market_data"}`+"\n\n")
	assert.Contains(t, body, `data: {"type":"final","content":"done"}`+"\n\n")
}

// recordSink captures events in order.
type recordSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (r *recordSink) Send(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("client gone")
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestEmitter_ExactlyOneFinal(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, slog.Default())

	e.Final("first")
	e.Final("second")

	require.Len(t, sink.events, 1)
	assert.Equal(t, "first", sink.events[0].Content)
}

func TestEmitter_FinalReportCarriesThreadID(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter(sink, slog.Default())

	e.FinalReport("# Report", "thread-42")
	e.Final("second")

	require.Len(t, sink.events, 1)
	assert.Equal(t, EventFinal, sink.events[0].Type)
	assert.Equal(t, "thread-42", sink.events[0].ThreadID)
}

func TestEmitter_DropsAfterSendFailure(t *testing.T) {
	sink := &recordSink{fail: true}
	e := NewEmitter(sink, slog.Default())

	e.AgentStart(models.AgentMarketData)
	sink.fail = false
	e.AgentEnd(models.AgentMarketData)

	assert.Empty(t, sink.events, "stream stays closed after the first failure")
}

type fakePlanner struct{ result *planner.Result }

func (f *fakePlanner) Plan(context.Context, *models.ConversationState) *planner.Result {
	return f.result
}

type fakeRunner struct {
	err   error
	final string
}

func (f *fakeRunner) Run(_ context.Context, state *models.ConversationState, events scheduler.Events) error {
	if events != nil {
		events.AgentStart(models.AgentMarketData)
		events.ToolStart("quote")
		events.ToolEnd("quote")
		events.AgentEnd(models.AgentMarketData)
		events.TaskUpdate("t1_market_data", models.TaskCompleted)
	}
	state.FinalResponse = f.final
	return f.err
}

func chatState(text string) *models.ConversationState {
	return &models.ConversationState{
		Messages: []models.Message{{Role: models.RoleUser, Content: text}},
	}
}

func TestDriver_RunChatEventOrder(t *testing.T) {
	plan := &models.ExecutionPlan{
		Reasoning: "one quote task",
		Steps:     []models.AgentTask{{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "AAPL"}},
	}
	d := NewDriver(
		&fakePlanner{result: &planner.Result{Plan: plan, TaskStatus: map[string]models.TaskStatus{"t1_market_data": models.TaskPending}}},
		&fakeRunner{final: "AAPL is at 231.50"},
		slog.Default(),
	)

	sink := &recordSink{}
	d.RunChat(context.Background(), chatState("price of AAPL"), sink)

	want := []EventType{
		EventDecision, EventAgentStart, EventToolStart, EventToolEnd,
		EventAgentEnd, EventTaskUpdate, EventFinal,
	}
	assert.Equal(t, want, sink.types())

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, "AAPL is at 231.50", last.Content)
	assert.Equal(t, "one quote task", sink.events[0].Reasoning)
}

func TestDriver_FatalErrorEmitsErrorThenFinal(t *testing.T) {
	plan := &models.ExecutionPlan{Steps: []models.AgentTask{{TaskID: "t1_market_data", Agent: models.AgentMarketData}}}
	d := NewDriver(
		&fakePlanner{result: &planner.Result{Plan: plan, TaskStatus: map[string]models.TaskStatus{}}},
		&fakeRunner{err: scheduler.ErrRecursionLimit, final: "Something went wrong while coordinating the research agents. Please try again."},
		slog.Default(),
	)

	sink := &recordSink{}
	d.RunChat(context.Background(), chatState("hi"), sink)

	types := sink.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, EventError, types[len(types)-2])
	assert.Equal(t, EventFinal, types[len(types)-1])

	finals := 0
	for _, e := range sink.events {
		if e.Type == EventFinal {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}
