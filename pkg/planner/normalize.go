package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/models"
)

// rawPlan is the loose shape the LLM emits before normalization.
type rawPlan struct {
	Reasoning string    `json:"reasoning"`
	Steps     []rawStep `json:"steps"`
}

type rawStep struct {
	TaskID    string   `json:"task_id"`
	Agent     string   `json:"agent"`
	Query     string   `json:"query"`
	DependsOn []string `json:"depends_on"`
}

var advisoryTriggerRe = regexp.MustCompile(`(?i)\b(why|explain|compare|recommend|recommendation|advice|risk|valuation|dcf|should i|buy|sell|hold|worth|better)\b`)

var technicalTriggerRe = regexp.MustCompile(`(?i)\b(rsi|macd|sma|ema|moving average|technical|support|resistance|trend|momentum)\b`)

var fundamentalsTriggerRe = regexp.MustCompile(`(?i)\b(fundamental|valuation|earnings|revenue|profit|margin|balance sheet|cash flow|pe ratio|p/e|eps|dividend)\b`)

// Normalize canonicalizes a raw plan into a sound DAG. Unknown agents are
// dropped; ids are made stable and unique; dependency references by agent
// name are rewritten to the latest matching task id; defaults wire advisor
// and technical_analysis to the research they consume.
func Normalize(raw *rawPlan, userMessage string) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{Reasoning: raw.Reasoning}

	// Pass 1: canonical agents, stable unique ids.
	usedIDs := map[string]bool{}
	idByOldID := map[string]string{}
	for _, step := range raw.Steps {
		agent, ok := models.CanonicalAgentName(strings.ToLower(strings.TrimSpace(step.Agent)))
		if !ok {
			continue
		}
		id := strings.TrimSpace(step.TaskID)
		if id == "" || usedIDs[id] {
			id = fmt.Sprintf("t%d_%s", len(plan.Steps)+1, agent)
			for usedIDs[id] {
				id = "x" + id
			}
		}
		usedIDs[id] = true
		if step.TaskID != "" {
			idByOldID[step.TaskID] = id
		}
		plan.Steps = append(plan.Steps, models.AgentTask{
			TaskID:    id,
			Agent:     agent,
			Query:     strings.TrimSpace(step.Query),
			DependsOn: step.DependsOn,
		})
	}

	// A technical task with no market_data producer anywhere gets one
	// prepended carrying the same query.
	hasMarket := false
	needsMarket := false
	for _, t := range plan.Steps {
		if t.Agent == models.AgentMarketData {
			hasMarket = true
		}
		if t.Agent == models.AgentTechnicalAnalysis {
			needsMarket = true
		}
	}
	if needsMarket && !hasMarket {
		seed := models.AgentTask{
			TaskID: "t0_market_data",
			Agent:  models.AgentMarketData,
			Query:  userMessage,
		}
		plan.Steps = append([]models.AgentTask{seed}, plan.Steps...)
		usedIDs[seed.TaskID] = true
	}

	// Pass 2: resolve dependencies. A dep naming an agent (or alias) becomes
	// the latest earlier task of that agent; self-deps and dangling ids drop.
	latestByAgent := map[models.AgentName]string{}
	for i := range plan.Steps {
		task := &plan.Steps[i]
		var deps []string
		seen := map[string]bool{}
		for _, dep := range task.DependsOn {
			dep = strings.TrimSpace(dep)
			if mapped, ok := idByOldID[dep]; ok {
				dep = mapped
			}
			if agent, ok := models.CanonicalAgentName(strings.ToLower(dep)); ok {
				dep = latestByAgent[agent]
			}
			if dep == "" || dep == task.TaskID || seen[dep] || !usedIDs[dep] {
				continue
			}
			// Only earlier tasks qualify; forward references would cycle.
			if !earlier(plan.Steps[:i], dep) {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
		task.DependsOn = deps
		latestByAgent[task.Agent] = task.TaskID
	}

	// Pass 3: default dependencies.
	for i := range plan.Steps {
		task := &plan.Steps[i]
		if len(task.DependsOn) > 0 {
			continue
		}
		switch task.Agent {
		case models.AgentAdvisor:
			task.DependsOn = allEarlierIDs(plan.Steps[:i])
		case models.AgentTechnicalAnalysis:
			for _, prior := range plan.Steps[:i] {
				if prior.Agent == models.AgentMarketData {
					task.DependsOn = append(task.DependsOn, prior.TaskID)
				}
			}
		}
	}

	// Pass 4: collapse repeated advisors into a single trailing step.
	plan.Steps = collapseAdvisors(plan.Steps)

	// Pass 5: intent upgrade — advisory language with no advisor step.
	if advisoryTriggerRe.MatchString(userMessage) && !hasAgent(plan.Steps, models.AgentAdvisor) && len(plan.Steps) > 0 {
		plan.Steps = append(plan.Steps, models.AgentTask{
			TaskID:    fmt.Sprintf("t%d_advisor", len(plan.Steps)+1),
			Agent:     models.AgentAdvisor,
			Query:     userMessage,
			DependsOn: allEarlierIDs(plan.Steps),
		})
	}

	plan.ParallelGroups = parallelGroups(plan.Steps)
	return plan
}

func earlier(prior []models.AgentTask, id string) bool {
	for _, t := range prior {
		if t.TaskID == id {
			return true
		}
	}
	return false
}

func allEarlierIDs(prior []models.AgentTask) []string {
	out := make([]string, 0, len(prior))
	for _, t := range prior {
		out = append(out, t.TaskID)
	}
	return out
}

func hasAgent(steps []models.AgentTask, agent models.AgentName) bool {
	for _, t := range steps {
		if t.Agent == agent {
			return true
		}
	}
	return false
}

// collapseAdvisors keeps a single trailing advisor whose query merges every
// advisor step and whose deps cover every non-advisor task.
func collapseAdvisors(steps []models.AgentTask) []models.AgentTask {
	var advisors []models.AgentTask
	var rest []models.AgentTask
	for _, t := range steps {
		if t.Agent == models.AgentAdvisor {
			advisors = append(advisors, t)
		} else {
			rest = append(rest, t)
		}
	}
	if len(advisors) <= 1 {
		return steps
	}

	var queries []string
	for _, a := range advisors {
		if q := strings.TrimSpace(a.Query); q != "" {
			queries = append(queries, q)
		}
	}
	merged := models.AgentTask{
		TaskID:    advisors[len(advisors)-1].TaskID,
		Agent:     models.AgentAdvisor,
		Query:     strings.Join(queries, "; "),
		DependsOn: allEarlierIDs(rest),
	}
	return append(rest, merged)
}

// parallelGroups derives the research fan-out groups: agents whose tasks
// share no ordering constraint between them.
func parallelGroups(steps []models.AgentTask) [][]models.AgentName {
	var research, synthesis []models.AgentName
	seen := map[models.AgentName]bool{}
	for _, t := range steps {
		if seen[t.Agent] {
			continue
		}
		seen[t.Agent] = true
		if models.ResearchAgents[t.Agent] {
			research = append(research, t.Agent)
		} else {
			synthesis = append(synthesis, t.Agent)
		}
	}
	var out [][]models.AgentName
	if len(research) > 0 {
		out = append(out, research)
	}
	for _, a := range synthesis {
		out = append(out, []models.AgentName{a})
	}
	return out
}

// Fallback builds the deterministic plan used when the LLM fails: always
// market_data, plus fundamentals and technical_analysis when the message
// triggers their lexicons, plus a trailing advisor on advisory language.
func Fallback(userMessage string) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{
		Reasoning: "deterministic fallback plan",
		Steps: []models.AgentTask{
			{TaskID: "t1_market_data", Agent: models.AgentMarketData, Query: userMessage},
		},
	}
	if fundamentalsTriggerRe.MatchString(userMessage) {
		plan.Steps = append(plan.Steps, models.AgentTask{
			TaskID: fmt.Sprintf("t%d_fundamentals", len(plan.Steps)+1),
			Agent:  models.AgentFundamentals,
			Query:  userMessage,
		})
	}
	if technicalTriggerRe.MatchString(userMessage) {
		plan.Steps = append(plan.Steps, models.AgentTask{
			TaskID:    fmt.Sprintf("t%d_technical_analysis", len(plan.Steps)+1),
			Agent:     models.AgentTechnicalAnalysis,
			Query:     userMessage,
			DependsOn: []string{"t1_market_data"},
		})
	}
	if advisoryTriggerRe.MatchString(userMessage) {
		plan.Steps = append(plan.Steps, models.AgentTask{
			TaskID:    fmt.Sprintf("t%d_advisor", len(plan.Steps)+1),
			Agent:     models.AgentAdvisor,
			Query:     userMessage,
			DependsOn: allEarlierIDs(plan.Steps),
		})
	}
	plan.ParallelGroups = parallelGroups(plan.Steps)
	return plan
}
