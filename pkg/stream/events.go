// Package stream implements the chat wire protocol: SSE event encoding, the
// turn classifier that routes between chat and report generation, and the
// graph driver that forwards scheduler callbacks as events.
package stream

import (
	"github.com/finsight-ai/finsight/pkg/models"
)

// EventType enumerates the wire event types.
type EventType string

const (
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"
	EventDecision   EventType = "decision"
	EventTaskUpdate EventType = "task_update"
	EventToolStart  EventType = "tool_start"
	EventToolEnd    EventType = "tool_end"
	EventToken      EventType = "token"
	EventFinal      EventType = "final"
	EventError      EventType = "error"
	EventTraceRun   EventType = "trace_run"
	EventTraceLink  EventType = "trace_link"
)

// Event is one JSON-encoded frame on the SSE stream. Fields are sparse; only
// the ones relevant to the event type are set.
type Event struct {
	Type      EventType          `json:"type"`
	Agent     string             `json:"agent,omitempty"`
	TaskID    string             `json:"task_id,omitempty"`
	Status    string             `json:"status,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Content   string             `json:"content,omitempty"`
	Message   string             `json:"message,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	Steps     []models.AgentTask `json:"steps,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	ThreadID  string             `json:"thread_id,omitempty"`
	URL       string             `json:"url,omitempty"`
}

// Sink consumes events. The SSE writer is the production sink; tests use an
// in-memory recorder.
type Sink interface {
	Send(event Event) error
}
