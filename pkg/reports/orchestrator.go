package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/obs"
)

// followupWindow is how many recent thread messages feed a follow-up answer.
const followupWindow = 40

// RunOptions carries the optional knobs of one orchestration run.
type RunOptions struct {
	OwnerKey         string
	PromptOverride   string
	ThreadID         string
	FollowUpQuestion string
	RefreshData      bool
}

// RunResult is the orchestrator output for a run.
type RunResult struct {
	Report   *Report `json:"report"`
	ThreadID string  `json:"thread_id"`
	RunID    string  `json:"run_id"`
}

// Orchestrator drives the report pipeline: prompt resolution, build,
// synthesis, quality gate with repair, thread lifecycle, and tracing.
type Orchestrator struct {
	builder *Builder
	store   ThreadStore
	llm     llm.Client
	logger  *slog.Logger
}

// NewOrchestrator wires the orchestrator. llmClient may be nil; follow-ups
// then answer deterministically from the latest report.
func NewOrchestrator(builder *Builder, store ThreadStore, llmClient llm.Client, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{builder: builder, store: store, llm: llmClient, logger: logger.With("component", "report_orchestrator")}
}

// Run executes a new report run end to end.
func (o *Orchestrator) Run(ctx context.Context, reportType string, payload Payload, opts RunOptions) (*RunResult, error) {
	if !ValidType(reportType) {
		return nil, fmt.Errorf("%w: unknown report type %q", ErrInvalidPayload, reportType)
	}

	ctx, span, runID := obs.StartReportSpan(ctx, reportType, uuid.NewString())
	defer span.End()

	prompt := o.effectivePrompt(ctx, reportType, opts)

	report, err := o.builder.Build(ctx, reportType, payload)
	if err != nil {
		return nil, err
	}

	Synthesize(report, opts.FollowUpQuestion)
	o.gate(report, payload)

	threadID, err := o.ensureThread(ctx, reportType, payload, prompt, report, opts)
	if err != nil {
		return nil, err
	}
	if err := o.store.AppendMessage(ctx, threadID, models.RoleAssistant, report.Markdown); err != nil {
		o.logger.Warn("failed to append report message", "thread_id", threadID, "error", err)
	}

	savedRunID, err := o.store.SaveRun(ctx, reportType, payload, report)
	if err != nil {
		o.logger.Warn("failed to persist report run", "error", err)
	} else {
		runID = savedRunID
	}

	o.logger.Info("report generated",
		"report_type", reportType, "thread_id", threadID, "run_id", runID,
		"quality_score", report.Quality.Score, "passed", report.Quality.Passed)
	return &RunResult{Report: report, ThreadID: threadID, RunID: runID}, nil
}

// Followup answers a question on an existing thread, optionally refreshing
// the underlying data first. Exactly two messages are appended: the question
// and the reply.
func (o *Orchestrator) Followup(ctx context.Context, reportType, ownerKey, threadID, question string, refreshData bool) (*RunResult, error) {
	question = strings.TrimSpace(question)
	switch {
	case ownerKey == "":
		return nil, fmt.Errorf("%w: owner_key is required", ErrInvalidPayload)
	case threadID == "":
		return nil, fmt.Errorf("%w: thread_id is required", ErrInvalidPayload)
	case question == "":
		return nil, fmt.Errorf("%w: question is required", ErrInvalidPayload)
	}

	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.OwnerKey != ownerKey {
		return nil, fmt.Errorf("%w: thread does not belong to this owner", ErrInvalidPayload)
	}
	if thread.ReportType != reportType {
		return nil, fmt.Errorf("%w: thread is for report type %q", ErrInvalidPayload, thread.ReportType)
	}

	ctx, span, _ := obs.StartReportSpan(ctx, reportType+".followup", uuid.NewString())
	defer span.End()

	if err := o.store.AppendMessage(ctx, threadID, models.RoleUser, question); err != nil {
		return nil, fmt.Errorf("append question: %w", err)
	}

	report := thread.LatestReport
	if refreshData {
		rebuilt, err := o.builder.Build(ctx, reportType, thread.BasePayload)
		if err != nil {
			o.logger.Warn("follow-up refresh failed, answering from prior report", "error", err)
		} else {
			Synthesize(rebuilt, question)
			o.gate(rebuilt, thread.BasePayload)
			if err := o.store.UpdateThreadReport(ctx, threadID, rebuilt); err != nil {
				o.logger.Warn("failed to store refreshed report", "error", err)
			}
			report = rebuilt
		}
	}
	if report == nil {
		return nil, fmt.Errorf("%w: thread has no report to answer from", ErrInvalidPayload)
	}

	history, err := o.store.Messages(ctx, threadID, followupWindow)
	if err != nil {
		o.logger.Warn("failed to load thread history", "error", err)
	}

	answer := o.answer(ctx, thread, report, question, history)
	if err := o.store.AppendMessage(ctx, threadID, models.RoleAssistant, answer); err != nil {
		return nil, fmt.Errorf("append answer: %w", err)
	}

	answered := *report
	answered.Markdown = answer
	return &RunResult{Report: &answered, ThreadID: threadID}, nil
}

// gate scores the report and repairs it when it misses the threshold.
func (o *Orchestrator) gate(report *Report, payload Payload) {
	result := Score(report, payload)
	if !result.Passed {
		o.logger.Warn("report failed quality gate, repairing",
			"report_type", report.ReportType, "score", result.Score)
		result = Repair(report, payload, result)
	}
	report.Quality = result
}

func (o *Orchestrator) effectivePrompt(ctx context.Context, reportType string, opts RunOptions) string {
	saved := ""
	if opts.OwnerKey != "" {
		var err error
		saved, err = o.store.GetOverride(ctx, opts.OwnerKey, reportType)
		if err != nil {
			o.logger.Warn("failed to load prompt override", "error", err)
		}
	}
	return EffectivePrompt(opts.PromptOverride, saved, reportType)
}

// ensureThread reuses the referenced thread when it matches the owner, else
// creates a fresh one.
func (o *Orchestrator) ensureThread(ctx context.Context, reportType string, payload Payload, prompt string, report *Report, opts RunOptions) (string, error) {
	if opts.ThreadID != "" {
		thread, err := o.store.GetThread(ctx, opts.ThreadID)
		if err == nil && thread.OwnerKey == opts.OwnerKey && thread.ReportType == reportType {
			if err := o.store.UpdateThreadReport(ctx, thread.ID, report); err != nil {
				o.logger.Warn("failed to update thread report", "error", err)
			}
			return thread.ID, nil
		}
		if err != nil && err != ErrThreadNotFound {
			return "", err
		}
	}
	thread, err := o.store.CreateThread(ctx, opts.OwnerKey, reportType, payload, prompt, report)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// answer produces the follow-up reply: LLM over the latest report and recent
// messages when available, else the report itself under a follow-up label.
func (o *Orchestrator) answer(ctx context.Context, thread *Thread, report *Report, question string, history []ThreadMessage) string {
	if o.llm == nil {
		return "**Follow-up**: " + question + "\n\n" + report.Markdown
	}

	var transcript strings.Builder
	for _, m := range history {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf("Latest report:\n%s\n\nThread so far:\n%s\nQuestion: %s",
		report.Markdown, transcript.String(), question)

	reply, err := o.llm.Generate(ctx, thread.EffectivePrompt, []models.Message{{Role: models.RoleUser, Content: prompt}})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			o.logger.Warn("follow-up llm call failed, answering from report", "error", err)
		}
		return "**Follow-up**: " + question + "\n\n" + report.Markdown
	}
	return reply
}
