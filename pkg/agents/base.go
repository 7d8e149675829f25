// Package agents implements the six specialist agents. Each specialist takes
// the live conversation state, claims its ready tasks, runs its tools through
// the contracts layer, and returns a partial state update covering every task
// it owned.
package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/models"
)

// ToolCaller is the tool-execution surface specialists use. Every call
// returns the contract projection alongside the raw payload.
type ToolCaller interface {
	Call(ctx context.Context, tool string, input map[string]any) (*models.ToolCallPayload, error)
}

// Events receives tool lifecycle notifications for the streaming layer. A
// nil Events is valid and drops everything.
type Events interface {
	ToolStart(tool string)
	ToolEnd(tool string)
}

// Specialist is one agent in the closed set.
type Specialist interface {
	Name() models.AgentName

	// Execute runs every ready task owned by this agent as one merged call
	// and returns the statuses plus the merged result. Execute never returns
	// an error for tool or LLM failures — those are captured in the result's
	// Error field and the tasks are marked failed.
	Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate
}

// callTool runs one tool call bracketed by stream events.
func callTool(ctx context.Context, caller ToolCaller, events Events, tool string, input map[string]any) (*models.ToolCallPayload, error) {
	if events != nil {
		events.ToolStart(tool)
		defer events.ToolEnd(tool)
	}
	return caller.Call(ctx, tool, input)
}

// ReadyTasks returns the agent's runnable tasks: agent match, currently
// pending, and every dependency completed.
func ReadyTasks(state *models.ConversationState, agent models.AgentName) []models.AgentTask {
	if state.Plan == nil {
		return nil
	}
	var out []models.AgentTask
	for _, task := range state.Plan.Steps {
		if task.Agent != agent || state.TaskStatus[task.TaskID] != models.TaskPending {
			continue
		}
		ready := true
		for _, dep := range task.DependsOn {
			if state.TaskStatus[dep] != models.TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, task)
		}
	}
	return out
}

// compositeQuery merges the queries of several ready tasks into one prompt.
func compositeQuery(tasks []models.AgentTask) string {
	if len(tasks) == 1 {
		return tasks[0].Query
	}
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if q := strings.TrimSpace(t.Query); q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, "; ")
}

// statusForAll applies one outcome to every owned task.
func statusForAll(tasks []models.AgentTask, status models.TaskStatus) map[string]models.TaskStatus {
	out := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		out[t.TaskID] = status
	}
	return out
}

// update builds the StateUpdate for one specialist outcome. A non-empty
// result.Error marks every owned task failed.
func update(agent models.AgentName, tasks []models.AgentTask, result models.AgentResult) *models.StateUpdate {
	result.Agent = agent
	status := models.TaskCompleted
	if result.Error != "" {
		status = models.TaskFailed
	}
	return &models.StateUpdate{
		AgentResults: map[models.AgentName]models.AgentResult{agent: result},
		TaskStatus:   statusForAll(tasks, status),
	}
}

// toolData encodes a tool-name → projected-output map into an AgentResult
// Data payload. Downstream agents read projections from here.
type toolData map[string]json.RawMessage

func (d toolData) encode() json.RawMessage {
	if len(d) == 0 {
		return nil
	}
	out, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return out
}

// decodeToolData is the inverse of toolData.encode.
func decodeToolData(raw json.RawMessage) toolData {
	if len(raw) == 0 {
		return nil
	}
	var out toolData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

var (
	dollarTicker = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	bareTicker   = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

// tickerStopwords are uppercase tokens that look like tickers but are not.
var tickerStopwords = map[string]bool{
	"A": true, "I": true, "VS": true, "AND": true, "OR": true, "THE": true,
	"FOR": true, "RSI": true, "MACD": true, "SMA": true, "EMA": true,
	"ETF": true, "IPO": true, "CEO": true, "CFO": true, "DCF": true,
	"USA": true, "US": true, "AI": true, "GDP": true, "CPI": true,
	"YOY": true, "EPS": true, "PE": true, "LAST": true, "WHY": true,
}

// companyAliases maps common company spellings to tickers.
var companyAliases = map[string]string{
	"apple":     "AAPL",
	"microsoft": "MSFT",
	"google":    "GOOGL",
	"alphabet":  "GOOGL",
	"amazon":    "AMZN",
	"tesla":     "TSLA",
	"nvidia":    "NVDA",
	"meta":      "META",
	"netflix":   "NFLX",
	"amd":       "AMD",
	"intel":     "INTC",
	"palantir":  "PLTR",
}

// ExtractSymbols pulls ticker candidates from free text: explicit $TICKER
// forms first, then bare uppercase tokens, then company-name aliases.
func ExtractSymbols(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(sym string) {
		sym = strings.ToUpper(sym)
		if sym == "" || seen[sym] || tickerStopwords[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}

	for _, m := range dollarTicker.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range bareTicker.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	lower := strings.ToLower(text)
	for name, sym := range companyAliases {
		if strings.Contains(lower, name) {
			add(sym)
		}
	}
	return out
}
