package stream

import (
	"log/slog"
	"sync"

	"github.com/finsight-ai/finsight/pkg/models"
)

// Emitter adapts a Sink to the scheduler's event callbacks and enforces the
// exactly-one-final guarantee. Send failures (client disconnect) are logged
// once and subsequent events are dropped silently.
type Emitter struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	finalSent bool
	dead      bool
}

// NewEmitter wraps a sink.
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	return &Emitter{sink: sink, logger: logger.With("component", "stream")}
}

func (e *Emitter) send(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	if err := e.sink.Send(event); err != nil {
		e.logger.Warn("event send failed, dropping remainder of stream", "error", err)
		e.dead = true
	}
}

// AgentStart implements scheduler.Events.
func (e *Emitter) AgentStart(agent models.AgentName) {
	e.send(Event{Type: EventAgentStart, Agent: string(agent)})
}

// AgentEnd implements scheduler.Events.
func (e *Emitter) AgentEnd(agent models.AgentName) {
	e.send(Event{Type: EventAgentEnd, Agent: string(agent)})
}

// Decision implements scheduler.Events. Router decisions are internal; the
// wire-level decision event carries the plan and is emitted by the driver.
func (e *Emitter) Decision(node, detail string) {
	e.logger.Debug("router decision", "node", node, "detail", detail)
}

// TaskUpdate implements scheduler.Events.
func (e *Emitter) TaskUpdate(taskID string, status models.TaskStatus) {
	e.send(Event{Type: EventTaskUpdate, TaskID: taskID, Status: string(status)})
}

// ToolStart implements agents.Events.
func (e *Emitter) ToolStart(tool string) {
	e.send(Event{Type: EventToolStart, Tool: tool})
}

// ToolEnd implements agents.Events.
func (e *Emitter) ToolEnd(tool string) {
	e.send(Event{Type: EventToolEnd, Tool: tool})
}

// Token forwards one streamed completion delta.
func (e *Emitter) Token(content string) {
	e.send(Event{Type: EventToken, Content: content})
}

// Plan emits the wire-level decision event for a planned turn.
func (e *Emitter) Plan(plan *models.ExecutionPlan) {
	if plan == nil {
		return
	}
	e.send(Event{Type: EventDecision, Reasoning: plan.Reasoning, Steps: plan.Steps})
}

// Error emits an error frame.
func (e *Emitter) Error(message string) {
	e.send(Event{Type: EventError, Message: message})
}

// Final emits the final frame at most once per turn.
func (e *Emitter) Final(content string) {
	e.mu.Lock()
	if e.finalSent {
		e.mu.Unlock()
		e.logger.Warn("duplicate final suppressed")
		return
	}
	e.finalSent = true
	e.mu.Unlock()
	e.send(Event{Type: EventFinal, Content: content})
}

// FinalReport emits a final frame carrying the report thread id, so clients
// can issue explicit thread follow-ups. Same at-most-once guarantee as Final.
func (e *Emitter) FinalReport(content, threadID string) {
	e.mu.Lock()
	if e.finalSent {
		e.mu.Unlock()
		e.logger.Warn("duplicate final suppressed")
		return
	}
	e.finalSent = true
	e.mu.Unlock()
	e.send(Event{Type: EventFinal, Content: content, ThreadID: threadID})
}

// TraceRun emits an observability trace record frame.
func (e *Emitter) TraceRun(provider, runID string) {
	e.send(Event{Type: EventTraceRun, Provider: provider, RunID: runID})
}

// TraceLink emits a trace URL frame.
func (e *Emitter) TraceLink(url string) {
	e.send(Event{Type: EventTraceLink, URL: url})
}
