// Package scheduler executes an execution plan over the specialist agents. It
// runs a two-tier state machine: the research tier fans out in parallel, a
// gate holds synthesis agents until no research task remains pending, and the
// aggregator composes the final response and persists the turn to memory.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/finsight-ai/finsight/pkg/agents"
	"github.com/finsight-ai/finsight/pkg/memory"
	"github.com/finsight-ai/finsight/pkg/models"
)

// RecursionLimit bounds routing transitions per turn. Plans normalize into
// small DAGs, so hitting this means a routing bug, not a big plan.
const RecursionLimit = 25

// ErrRecursionLimit is returned when a turn exceeds RecursionLimit routing
// transitions.
var ErrRecursionLimit = errors.New("scheduler: recursion limit exceeded")

// Saver persists a finished turn. The memory manager satisfies this.
type Saver interface {
	Save(ctx context.Context, userInput, agentOutput string, meta memory.Metadata) error
}

// Events extends the tool-level events with scheduler lifecycle
// notifications. A nil Events is valid and drops everything.
type Events interface {
	agents.Events
	AgentStart(agent models.AgentName)
	AgentEnd(agent models.AgentName)
	Decision(node, detail string)
	TaskUpdate(taskID string, status models.TaskStatus)
}

// Scheduler drives one conversation turn through the specialist DAG.
type Scheduler struct {
	specialists map[models.AgentName]agents.Specialist
	memory      Saver
	logger      *slog.Logger
}

// New builds a scheduler over the given specialists. memorySaver may be nil.
func New(specialists []agents.Specialist, memorySaver Saver, logger *slog.Logger) *Scheduler {
	byName := make(map[models.AgentName]agents.Specialist, len(specialists))
	for _, sp := range specialists {
		byName[sp.Name()] = sp
	}
	return &Scheduler{specialists: byName, memory: memorySaver, logger: logger.With("component", "scheduler")}
}

// Run executes the plan held by state until every task is terminal, then
// aggregates. On ErrRecursionLimit the state carries a generic apology as the
// final response and the error is returned for the event layer.
func (s *Scheduler) Run(ctx context.Context, state *models.ConversationState, events Events) error {
	if state.TaskStatus == nil {
		state.TaskStatus = map[string]models.TaskStatus{}
	}
	if state.AgentResults == nil {
		state.AgentResults = map[models.AgentName]models.AgentResult{}
	}

	transitions := 0
	for {
		transitions++
		if transitions > RecursionLimit {
			state.FinalResponse = "Something went wrong while coordinating the research agents. Please try again."
			s.logger.Error("recursion limit exceeded", "transitions", transitions)
			return ErrRecursionLimit
		}

		s.applySkips(state, events)

		if allTerminal(state) {
			emitDecision(events, "router", "all tasks terminal, aggregating")
			break
		}

		if research := s.readyAgents(state, models.ResearchAgents); len(research) > 0 {
			emitDecision(events, "router", fmt.Sprintf("dispatching %d research agent(s)", len(research)))
			s.dispatch(ctx, state, research, events)
			continue
		}

		if !anyPending(state, models.ResearchAgents) {
			synthesis := s.readyAgents(state, models.SynthesisAgents)
			if len(synthesis) == 0 {
				emitDecision(events, "research_gate", "no synthesis tasks ready, aggregating")
				break
			}
			emitDecision(events, "research_gate", fmt.Sprintf("dispatching %d synthesis agent(s)", len(synthesis)))
			s.dispatch(ctx, state, synthesis, events)
			continue
		}

		// Pending research with nothing ready and nothing skippable should be
		// unreachable for a normalized plan.
		s.logger.Warn("no runnable tasks with pending research remaining, aggregating")
		break
	}

	s.aggregate(ctx, state)
	return nil
}

// applySkips marks every pending task with a failed or skipped dependency as
// skipped, repeating until a fixed point so skips propagate transitively.
func (s *Scheduler) applySkips(state *models.ConversationState, events Events) {
	if state.Plan == nil {
		return
	}
	for changed := true; changed; {
		changed = false
		for _, task := range state.Plan.Steps {
			if state.TaskStatus[task.TaskID] != models.TaskPending {
				continue
			}
			for _, dep := range task.DependsOn {
				if st := state.TaskStatus[dep]; st == models.TaskFailed || st == models.TaskSkipped {
					state.TaskStatus[task.TaskID] = models.TaskSkipped
					if events != nil {
						events.TaskUpdate(task.TaskID, models.TaskSkipped)
					}
					s.logger.Info("task skipped", "task", task.TaskID, "blocked_by", dep)
					changed = true
					break
				}
			}
		}
	}
}

// readyAgents returns the registered agents from the tier that have at least
// one ready task.
func (s *Scheduler) readyAgents(state *models.ConversationState, tier map[models.AgentName]bool) []agents.Specialist {
	var out []agents.Specialist
	for _, name := range models.AllAgents() {
		if !tier[name] {
			continue
		}
		sp, registered := s.specialists[name]
		if !registered {
			continue
		}
		if len(agents.ReadyTasks(state, name)) > 0 {
			out = append(out, sp)
		}
	}
	return out
}

// dispatch runs the given specialists concurrently and merges their updates.
// A specialist that leaves its ready tasks pending (or panics) gets those
// tasks marked failed so the turn always terminates.
func (s *Scheduler) dispatch(ctx context.Context, state *models.ConversationState, specialists []agents.Specialist, events Events) {
	type outcome struct {
		agent  models.AgentName
		owned  []models.AgentTask
		update *models.StateUpdate
	}

	outcomes := make([]outcome, len(specialists))
	var wg sync.WaitGroup
	for i, sp := range specialists {
		owned := agents.ReadyTasks(state, sp.Name())
		outcomes[i] = outcome{agent: sp.Name(), owned: owned}
		wg.Add(1)
		go func(i int, sp agents.Specialist) {
			defer wg.Done()
			if events != nil {
				events.AgentStart(sp.Name())
				defer events.AgentEnd(sp.Name())
			}
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("specialist panicked", "agent", sp.Name(), "panic", r)
					outcomes[i].update = failedUpdate(sp.Name(), outcomes[i].owned, fmt.Sprintf("internal error in %s", sp.Name()))
				}
			}()
			outcomes[i].update = sp.Execute(ctx, state, events)
		}(i, sp)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.update == nil {
			o.update = &models.StateUpdate{}
		}
		for _, task := range o.owned {
			if _, covered := o.update.TaskStatus[task.TaskID]; !covered {
				s.logger.Error("specialist left owned task pending", "agent", o.agent, "task", task.TaskID)
				if o.update.TaskStatus == nil {
					o.update.TaskStatus = map[string]models.TaskStatus{}
				}
				o.update.TaskStatus[task.TaskID] = models.TaskFailed
			}
		}
		s.merge(state, o.update, events)
	}
}

// merge folds a specialist's partial update into the turn state.
func (s *Scheduler) merge(state *models.ConversationState, update *models.StateUpdate, events Events) {
	for id, status := range update.TaskStatus {
		if state.TaskStatus[id].Terminal() {
			continue
		}
		state.TaskStatus[id] = status
		if events != nil {
			events.TaskUpdate(id, status)
		}
	}
	for agent, result := range update.AgentResults {
		state.AgentResults[agent] = result
	}
}

func failedUpdate(agent models.AgentName, owned []models.AgentTask, msg string) *models.StateUpdate {
	status := make(map[string]models.TaskStatus, len(owned))
	for _, t := range owned {
		status[t.TaskID] = models.TaskFailed
	}
	return &models.StateUpdate{
		AgentResults: map[models.AgentName]models.AgentResult{agent: {Agent: agent, Error: msg}},
		TaskStatus:   status,
	}
}

func allTerminal(state *models.ConversationState) bool {
	if state.Plan == nil {
		return true
	}
	for _, task := range state.Plan.Steps {
		if !state.TaskStatus[task.TaskID].Terminal() {
			return false
		}
	}
	return true
}

// anyPending reports whether any task of the tier is still pending.
func anyPending(state *models.ConversationState, tier map[models.AgentName]bool) bool {
	if state.Plan == nil {
		return false
	}
	for _, task := range state.Plan.Steps {
		if tier[task.Agent] && state.TaskStatus[task.TaskID] == models.TaskPending {
			return true
		}
	}
	return false
}

func emitDecision(events Events, node, detail string) {
	if events != nil {
		events.Decision(node, detail)
	}
}
