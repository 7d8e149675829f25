package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/memory"
	"github.com/finsight-ai/finsight/pkg/models"
)

const maxMemorySnippets = 4

const systemPrompt = `You are a planning module for a financial research assistant.
Decompose the user's request into tasks for these agents:
  market_data        - quotes, price history, movers, market hours
  fundamentals       - valuation, financials, analyst ratings, insiders
  sentiment          - reddit, news, and political-trade sentiment
  macro              - economic indicators (FRED series)
  technical_analysis - indicators over price history (depends on market_data)
  advisor            - final synthesis and recommendations

Respond with ONLY a JSON object:
{"reasoning": "...", "steps": [{"task_id": "t1_market_data", "agent": "market_data", "query": "...", "depends_on": []}]}

Keep plans minimal: only the agents the request needs.`

// MemorySource is the slice of the memory manager the planner uses.
type MemorySource interface {
	GetRelevantContext(ctx context.Context, query string, k int, meta memory.Metadata) ([]string, error)
}

// Result is a planner invocation's output: the normalized plan, the initial
// task statuses (all pending), and the memory context that informed it.
type Result struct {
	Plan          *models.ExecutionPlan
	TaskStatus    map[string]models.TaskStatus
	MemoryContext string
}

// Planner builds execution plans. LLM and memory failures never propagate:
// the deterministic fallback plan always ships.
type Planner struct {
	llm    llm.Client
	memory MemorySource
	logger *slog.Logger
}

// New creates a planner. memory may be nil.
func New(client llm.Client, memorySource MemorySource, logger *slog.Logger) *Planner {
	return &Planner{llm: client, memory: memorySource, logger: logger.With("component", "planner")}
}

// Plan produces the turn's execution plan from the conversation state.
func (p *Planner) Plan(ctx context.Context, state *models.ConversationState) *Result {
	latest := state.LatestUserMessage()
	resolved := ResolveFollowup(latest, state.PreviousAssistantMessage())

	memoryContext := p.fetchMemory(ctx, resolved, state)

	plan := p.llmPlan(ctx, resolved, memoryContext, state.Messages)
	if plan == nil || len(plan.Steps) == 0 {
		plan = Fallback(resolved)
	}

	status := make(map[string]models.TaskStatus, len(plan.Steps))
	for _, step := range plan.Steps {
		status[step.TaskID] = models.TaskPending
	}
	return &Result{Plan: plan, TaskStatus: status, MemoryContext: memoryContext}
}

func (p *Planner) fetchMemory(ctx context.Context, query string, state *models.ConversationState) string {
	if p.memory == nil {
		return ""
	}
	snippets, err := p.memory.GetRelevantContext(ctx, query, maxMemorySnippets, memory.Metadata{
		TenantID:       state.TenantID,
		UserID:         state.UserID,
		ConversationID: state.ConversationID,
	})
	if err != nil {
		p.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	if len(snippets) > maxMemorySnippets {
		snippets = snippets[:maxMemorySnippets]
	}
	return strings.Join(snippets, "\n---\n")
}

func (p *Planner) llmPlan(ctx context.Context, resolved, memoryContext string, history []models.Message) *models.ExecutionPlan {
	if p.llm == nil {
		return nil
	}

	prompt := "User request: " + resolved
	if memoryContext != "" {
		prompt = "Relevant prior context:\n" + memoryContext + "\n\n" + prompt
	}

	reply, err := p.llm.Generate(ctx, systemPrompt, append(trimHistory(history), models.Message{Role: models.RoleUser, Content: prompt}))
	if err != nil {
		p.logger.Warn("planner llm call failed, using fallback", "error", err)
		return nil
	}

	raw, err := parsePlanJSON(reply)
	if err != nil {
		p.logger.Warn("planner json parse failed, using fallback", "error", err)
		return nil
	}
	return Normalize(raw, resolved)
}

// trimHistory keeps the last few turns so the planner sees recent context
// without unbounded prompts.
func trimHistory(history []models.Message) []models.Message {
	const keep = 6
	if len(history) <= keep {
		// The latest user message is re-sent in the prompt.
		if len(history) > 0 {
			return history[:len(history)-1]
		}
		return nil
	}
	return history[len(history)-keep : len(history)-1]
}

var (
	codeFenceRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	outerObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// parsePlanJSON parses the LLM reply defensively: code fences are stripped
// first, then the outermost JSON object is regex-extracted before decoding.
func parsePlanJSON(reply string) (*rawPlan, error) {
	text := strings.TrimSpace(reply)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if m := outerObjectRe.FindString(text); m != "" {
		text = m
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("parse plan: no steps")
	}
	return &raw, nil
}
