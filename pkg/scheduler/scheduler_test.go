package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/agents"
	"github.com/finsight-ai/finsight/pkg/memory"
	"github.com/finsight-ai/finsight/pkg/models"
)

// execLog records specialist executions across goroutines.
type execLog struct {
	mu    sync.Mutex
	order []models.AgentName
	// depViolation is set when a specialist observes a ready task whose
	// dependency is not completed.
	depViolation bool
}

func (l *execLog) record(agent models.AgentName, state *models.ConversationState, tasks []models.AgentTask) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, agent)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if state.TaskStatus[dep] != models.TaskCompleted {
				l.depViolation = true
			}
		}
	}
}

type fakeSpecialist struct {
	name    models.AgentName
	fail    bool
	content string
	log     *execLog
}

func (f *fakeSpecialist) Name() models.AgentName { return f.name }

func (f *fakeSpecialist) Execute(_ context.Context, state *models.ConversationState, _ agents.Events) *models.StateUpdate {
	tasks := agents.ReadyTasks(state, f.name)
	if f.log != nil {
		f.log.record(f.name, state, tasks)
	}

	status := models.TaskCompleted
	result := models.AgentResult{Agent: f.name, Content: f.content}
	if f.fail {
		status = models.TaskFailed
		result = models.AgentResult{Agent: f.name, Error: "provider unavailable"}
	}
	statuses := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		statuses[t.TaskID] = status
	}
	return &models.StateUpdate{
		AgentResults: map[models.AgentName]models.AgentResult{f.name: result},
		TaskStatus:   statuses,
	}
}

type fakeSaver struct {
	mu     sync.Mutex
	calls  int
	user   string
	agent  string
	meta   memory.Metadata
	failed bool
}

func (f *fakeSaver) Save(_ context.Context, userInput, agentOutput string, meta memory.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.user, f.agent, f.meta = userInput, agentOutput, meta
	if f.failed {
		return fmt.Errorf("db down")
	}
	return nil
}

type recordedEvents struct {
	mu        sync.Mutex
	updates   map[string]models.TaskStatus
	decisions []string
	starts    []models.AgentName
}

func (r *recordedEvents) ToolStart(string) {}
func (r *recordedEvents) ToolEnd(string)   {}
func (r *recordedEvents) AgentStart(agent models.AgentName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, agent)
}
func (r *recordedEvents) AgentEnd(models.AgentName) {}
func (r *recordedEvents) Decision(node, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, node)
}
func (r *recordedEvents) TaskUpdate(taskID string, status models.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = map[string]models.TaskStatus{}
	}
	r.updates[taskID] = status
}

func fullPlan() *models.ExecutionPlan {
	return &models.ExecutionPlan{
		Steps: []models.AgentTask{
			{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "AAPL history"},
			{TaskID: "t2_sentiment", Agent: models.AgentSentiment, Query: "AAPL sentiment"},
			{TaskID: "t3_technical_analysis", Agent: models.AgentTechnicalAnalysis, Query: "AAPL rsi", DependsOn: []string{"t1_market_data"}},
			{TaskID: "t4_advisor", Agent: models.AgentAdvisor, Query: "should I buy", DependsOn: []string{"t1_market_data", "t2_sentiment", "t3_technical_analysis"}},
		},
	}
}

func stateFor(plan *models.ExecutionPlan) *models.ConversationState {
	status := make(map[string]models.TaskStatus, len(plan.Steps))
	for _, s := range plan.Steps {
		status[s.TaskID] = models.TaskPending
	}
	return &models.ConversationState{
		Messages:       []models.Message{{Role: models.RoleUser, Content: "should I buy AAPL?"}},
		TenantID:       "t1",
		UserID:         "u1",
		ConversationID: "c1",
		Plan:           plan,
		TaskStatus:     status,
		AgentResults:   map[models.AgentName]models.AgentResult{},
	}
}

func specialistsFor(log *execLog, failing map[models.AgentName]bool) []agents.Specialist {
	var out []agents.Specialist
	for _, name := range models.AllAgents() {
		out = append(out, &fakeSpecialist{
			name:    name,
			fail:    failing[name],
			content: string(name) + " findings",
			log:     log,
		})
	}
	return out
}

func TestRun_FullPlanTierOrdering(t *testing.T) {
	log := &execLog{}
	saver := &fakeSaver{}
	s := New(specialistsFor(log, nil), saver, slog.Default())

	state := stateFor(fullPlan())
	require.NoError(t, s.Run(context.Background(), state, nil))

	for id, status := range state.TaskStatus {
		assert.Equal(t, models.TaskCompleted, status, id)
	}
	assert.False(t, log.depViolation)

	// Research executions strictly precede synthesis executions.
	sawSynthesis := false
	for _, agent := range log.order {
		if models.SynthesisAgents[agent] {
			sawSynthesis = true
		} else {
			assert.False(t, sawSynthesis, "research agent %s ran after synthesis started", agent)
		}
	}

	// Advisor content wins the final response.
	assert.Equal(t, "advisor findings", state.FinalResponse)

	require.Equal(t, 1, saver.calls)
	assert.Equal(t, "should I buy AAPL?", saver.user)
	assert.Equal(t, "advisor findings", saver.agent)
	assert.Equal(t, "t1", saver.meta.TenantID)
	assert.Equal(t, "c1", saver.meta.ConversationID)
}

func TestRun_FailedResearchSkipsSynthesis(t *testing.T) {
	log := &execLog{}
	s := New(specialistsFor(log, map[models.AgentName]bool{models.AgentMarketData: true}), nil, slog.Default())

	state := stateFor(fullPlan())
	require.NoError(t, s.Run(context.Background(), state, nil))

	assert.Equal(t, models.TaskFailed, state.TaskStatus["t1_market_data"])
	assert.Equal(t, models.TaskCompleted, state.TaskStatus["t2_sentiment"])
	assert.Equal(t, models.TaskSkipped, state.TaskStatus["t3_technical_analysis"])
	assert.Equal(t, models.TaskSkipped, state.TaskStatus["t4_advisor"])

	// Skipped agents never ran.
	for _, agent := range log.order {
		assert.NotEqual(t, models.AgentTechnicalAnalysis, agent)
		assert.NotEqual(t, models.AgentAdvisor, agent)
	}

	// A final response still ships from the surviving research.
	assert.Contains(t, state.FinalResponse, "### Sentiment")
	assert.Contains(t, state.FinalResponse, "sentiment findings")
}

func TestRun_EmitsTaskAndDecisionEvents(t *testing.T) {
	events := &recordedEvents{}
	s := New(specialistsFor(nil, map[models.AgentName]bool{models.AgentMarketData: true}), nil, slog.Default())

	state := stateFor(fullPlan())
	require.NoError(t, s.Run(context.Background(), state, events))

	assert.Equal(t, models.TaskFailed, events.updates["t1_market_data"])
	assert.Equal(t, models.TaskSkipped, events.updates["t3_technical_analysis"])
	assert.Contains(t, events.decisions, "router")
	assert.Contains(t, events.starts, models.AgentSentiment)
}

// misbehavingSpecialist returns without updating any task status.
type misbehavingSpecialist struct{ name models.AgentName }

func (m *misbehavingSpecialist) Name() models.AgentName { return m.name }
func (m *misbehavingSpecialist) Execute(context.Context, *models.ConversationState, agents.Events) *models.StateUpdate {
	return &models.StateUpdate{}
}

func TestRun_SpecialistLeavingTasksPendingGetsFailed(t *testing.T) {
	s := New([]agents.Specialist{&misbehavingSpecialist{name: models.AgentMarketData}}, nil, slog.Default())

	plan := &models.ExecutionPlan{Steps: []models.AgentTask{
		{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "AAPL"},
	}}
	state := stateFor(plan)
	require.NoError(t, s.Run(context.Background(), state, nil))
	assert.Equal(t, models.TaskFailed, state.TaskStatus["t1_market_data"])
}

type panickingSpecialist struct{ name models.AgentName }

func (p *panickingSpecialist) Name() models.AgentName { return p.name }
func (p *panickingSpecialist) Execute(context.Context, *models.ConversationState, agents.Events) *models.StateUpdate {
	panic("nil map write")
}

func TestRun_PanicMarksTasksFailed(t *testing.T) {
	s := New([]agents.Specialist{&panickingSpecialist{name: models.AgentMarketData}}, nil, slog.Default())

	plan := &models.ExecutionPlan{Steps: []models.AgentTask{
		{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: "AAPL"},
	}}
	state := stateFor(plan)
	require.NoError(t, s.Run(context.Background(), state, nil))

	assert.Equal(t, models.TaskFailed, state.TaskStatus["t1_market_data"])
	assert.Contains(t, state.AgentResults[models.AgentMarketData].Error, "internal error")
}

func TestRun_RecursionLimit(t *testing.T) {
	s := New(specialistsFor(nil, nil), nil, slog.Default())

	// A dependency chain longer than the limit forces one transition per task.
	var steps []models.AgentTask
	for i := 0; i < RecursionLimit+5; i++ {
		task := models.AgentTask{TaskID: fmt.Sprintf("t%d_market_data", i), Agent: models.AgentMarketData, Query: "q"}
		if i > 0 {
			task.DependsOn = []string{fmt.Sprintf("t%d_market_data", i-1)}
		}
		steps = append(steps, task)
	}
	state := stateFor(&models.ExecutionPlan{Steps: steps})

	err := s.Run(context.Background(), state, nil)
	require.ErrorIs(t, err, ErrRecursionLimit)
	assert.Contains(t, state.FinalResponse, "went wrong")
}

func TestRun_MemorySaveFailureIsNonFatal(t *testing.T) {
	saver := &fakeSaver{failed: true}
	s := New(specialistsFor(nil, nil), saver, slog.Default())

	state := stateFor(fullPlan())
	require.NoError(t, s.Run(context.Background(), state, nil))
	assert.Equal(t, 1, saver.calls)
	assert.NotEmpty(t, state.FinalResponse)
}

func TestCompose_AdvisorPreferred(t *testing.T) {
	results := map[models.AgentName]models.AgentResult{
		models.AgentMarketData: {Content: "quotes"},
		models.AgentAdvisor:    {Content: "buy the dip"},
	}
	assert.Equal(t, "buy the dip", Compose(results))
}

func TestCompose_FixedOrderSections(t *testing.T) {
	results := map[models.AgentName]models.AgentResult{
		models.AgentMacro:        {Content: "rates steady"},
		models.AgentMarketData:   {Content: "quotes"},
		models.AgentFundamentals: {Content: "solid margins"},
		models.AgentAdvisor:      {Error: "llm down"},
	}
	got := Compose(results)

	want := "### Market Data\nquotes\n\n### Fundamentals\nsolid margins\n\n### Macro\nrates steady"
	assert.Equal(t, want, got)
}

func TestCompose_EmptyResults(t *testing.T) {
	got := Compose(map[models.AgentName]models.AgentResult{})
	assert.Contains(t, got, "wasn't able to gather")
}
