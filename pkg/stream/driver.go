package stream

import (
	"context"
	"log/slog"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/planner"
	"github.com/finsight-ai/finsight/pkg/scheduler"
)

// TurnPlanner is the planner surface the driver needs.
type TurnPlanner interface {
	Plan(ctx context.Context, state *models.ConversationState) *planner.Result
}

// TurnRunner is the scheduler surface the driver needs.
type TurnRunner interface {
	Run(ctx context.Context, state *models.ConversationState, events scheduler.Events) error
}

// Driver executes the chat path of a turn: plan, run the agent graph, and
// forward every lifecycle callback as a wire event. It emits exactly one
// final frame per turn.
type Driver struct {
	planner   TurnPlanner
	scheduler TurnRunner
	logger    *slog.Logger
}

// NewDriver creates a chat graph driver.
func NewDriver(turnPlanner TurnPlanner, turnRunner TurnRunner, logger *slog.Logger) *Driver {
	return &Driver{planner: turnPlanner, scheduler: turnRunner, logger: logger.With("component", "driver")}
}

// RunChat drives one conversation turn, streaming events to sink.
func (d *Driver) RunChat(ctx context.Context, state *models.ConversationState, sink Sink) {
	emitter := NewEmitter(sink, d.logger)

	res := d.planner.Plan(ctx, state)
	state.Plan = res.Plan
	state.TaskStatus = res.TaskStatus
	state.MemoryContext = res.MemoryContext
	emitter.Plan(res.Plan)

	if err := d.scheduler.Run(ctx, state, emitter); err != nil {
		d.logger.Error("turn failed", "error", err)
		emitter.Error(err.Error())
	}

	final := state.FinalResponse
	if final == "" {
		final = "I wasn't able to complete that request. Please try again."
	}
	emitter.Final(final)
}
