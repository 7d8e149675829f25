// Package models defines the shared data structures exchanged between the
// planner, scheduler, specialist agents, and the API layer.
package models

import "encoding/json"

// AgentName identifies a specialist agent. The set is closed — planner
// normalization canonicalizes free-form names (including aliases) into one of
// these values, and nothing downstream ever stores an alias.
type AgentName string

const (
	AgentMarketData        AgentName = "market_data"
	AgentFundamentals      AgentName = "fundamentals"
	AgentSentiment         AgentName = "sentiment"
	AgentMacro             AgentName = "macro"
	AgentTechnicalAnalysis AgentName = "technical_analysis"
	AgentAdvisor           AgentName = "advisor"
)

// agentAliases maps accepted planner spellings to canonical agent names.
var agentAliases = map[string]AgentName{
	"market_data":        AgentMarketData,
	"fundamentals":       AgentFundamentals,
	"sentiment":          AgentSentiment,
	"macro":              AgentMacro,
	"technical_analysis": AgentTechnicalAnalysis,
	"technicals":         AgentTechnicalAnalysis,
	"advisor":            AgentAdvisor,
	"portfolio":          AgentAdvisor,
}

// CanonicalAgentName resolves a raw agent name (possibly an alias) to its
// canonical form. Returns false if the name is unknown.
func CanonicalAgentName(raw string) (AgentName, bool) {
	name, ok := agentAliases[raw]
	return name, ok
}

// AllAgents lists every canonical agent name.
func AllAgents() []AgentName {
	return []AgentName{
		AgentMarketData, AgentFundamentals, AgentSentiment,
		AgentMacro, AgentTechnicalAnalysis, AgentAdvisor,
	}
}

// ResearchAgents are independent data producers — they may run concurrently
// as soon as their dependencies complete.
var ResearchAgents = map[AgentName]bool{
	AgentMarketData:   true,
	AgentFundamentals: true,
	AgentSentiment:    true,
	AgentMacro:        true,
}

// SynthesisAgents consume research output and only run after the research
// tier has drained.
var SynthesisAgents = map[AgentName]bool{
	AgentTechnicalAnalysis: true,
	AgentAdvisor:           true,
}

// TaskStatus is the lifecycle state of a planned task. Terminal states
// (completed, failed, skipped) never transition.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// AgentTask is one node of an execution plan DAG.
type AgentTask struct {
	TaskID    string    `json:"task_id"`
	Agent     AgentName `json:"agent"`
	Query     string    `json:"query"`
	DependsOn []string  `json:"depends_on,omitempty"`
}

// ExecutionPlan is the planner's output: an acyclic set of agent tasks plus
// the reasoning behind the decomposition. Plans are never mutated after
// normalization.
type ExecutionPlan struct {
	Reasoning      string        `json:"reasoning"`
	Steps          []AgentTask   `json:"steps"`
	ParallelGroups [][]AgentName `json:"parallel_groups,omitempty"`
}

// Step returns the task with the given id, or nil.
func (p *ExecutionPlan) Step(taskID string) *AgentTask {
	for i := range p.Steps {
		if p.Steps[i].TaskID == taskID {
			return &p.Steps[i]
		}
	}
	return nil
}

// AgentResult is one specialist's contribution to a turn.
// Data carries heterogeneous tool output (projected payloads keyed by tool
// name); cross-agent reads must go through these projections, never raw
// provider responses.
type AgentResult struct {
	Agent   AgentName       `json:"agent"`
	Content string          `json:"content"`
	Symbols []string        `json:"symbols,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is a single chat message in a conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationState is the per-turn working state owned by the scheduler.
// It is created by the planner, threaded through specialist invocations, and
// destroyed after aggregation.
type ConversationState struct {
	Messages       []Message                 `json:"messages"`
	UserID         string                    `json:"user_id"`
	TenantID       string                    `json:"tenant_id"`
	ConversationID string                    `json:"conversation_id"`
	Plan           *ExecutionPlan            `json:"plan,omitempty"`
	TaskStatus     map[string]TaskStatus     `json:"task_status"`
	AgentResults   map[AgentName]AgentResult `json:"agent_results"`
	MemoryContext  string                    `json:"memory_context,omitempty"`
	FinalResponse  string                    `json:"final_response,omitempty"`
}

// LatestUserMessage returns the content of the most recent user message,
// or "" when none exists.
func (s *ConversationState) LatestUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// PreviousAssistantMessage returns the most recent assistant message before
// the latest user message, or "" when none exists.
func (s *ConversationState) PreviousAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// StateUpdate is a partial update returned by a specialist: the statuses of
// the tasks it owned this dispatch plus its merged result.
type StateUpdate struct {
	AgentResults map[AgentName]AgentResult
	TaskStatus   map[string]TaskStatus
}
