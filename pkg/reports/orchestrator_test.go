package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/models"
)

// memStore is an in-memory ThreadStore for orchestrator tests.
type memStore struct {
	runs      []string
	threads   map[string]*Thread
	messages  map[string][]ThreadMessage
	overrides map[string]string

	saveRunErr error
	appendErr  error
}

func newMemStore() *memStore {
	return &memStore{
		threads:   map[string]*Thread{},
		messages:  map[string][]ThreadMessage{},
		overrides: map[string]string{},
	}
}

func (m *memStore) SaveRun(_ context.Context, reportType string, _ Payload, _ *Report) (string, error) {
	if m.saveRunErr != nil {
		return "", m.saveRunErr
	}
	id := uuid.NewString()
	m.runs = append(m.runs, reportType)
	return id, nil
}

func (m *memStore) CreateThread(_ context.Context, ownerKey, reportType string, base Payload, effectivePrompt string, latest *Report) (*Thread, error) {
	now := time.Now().UTC()
	t := &Thread{
		ID: uuid.NewString(), OwnerKey: ownerKey, ReportType: reportType,
		BasePayload: base, EffectivePrompt: effectivePrompt, LatestReport: latest,
		CreatedAt: now, UpdatedAt: now,
	}
	m.threads[t.ID] = t
	return t, nil
}

func (m *memStore) GetThread(_ context.Context, threadID string) (*Thread, error) {
	t, ok := m.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *memStore) UpdateThreadReport(_ context.Context, threadID string, latest *Report) error {
	t, ok := m.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	t.LatestReport = latest
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, threadID, role, content string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.messages[threadID] = append(m.messages[threadID], ThreadMessage{Role: role, Content: content, CreatedAt: time.Now().UTC()})
	return nil
}

func (m *memStore) Messages(_ context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	msgs := m.messages[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *memStore) GetOverride(_ context.Context, ownerKey, reportType string) (string, error) {
	return m.overrides[ownerKey+"/"+reportType], nil
}

func (m *memStore) SetOverride(_ context.Context, ownerKey, reportType, prompt string) error {
	m.overrides[ownerKey+"/"+reportType] = prompt
	return nil
}

func (m *memStore) DeleteOverride(_ context.Context, ownerKey, reportType string) error {
	delete(m.overrides, ownerKey+"/"+reportType)
	return nil
}

func (m *memStore) ListOverrides(_ context.Context, ownerKey string) (map[string]string, error) {
	out := map[string]string{}
	for key, prompt := range m.overrides {
		if len(key) > len(ownerKey) && key[:len(ownerKey)+1] == ownerKey+"/" {
			out[key[len(ownerKey)+1:]] = prompt
		}
	}
	return out, nil
}

// followupLLM records the system prompt it was invoked with.
type followupLLM struct {
	reply      string
	err        error
	lastSystem string
}

func (f *followupLLM) Generate(_ context.Context, system string, _ []models.Message) (string, error) {
	f.lastSystem = system
	return f.reply, f.err
}

func (f *followupLLM) GenerateStream(_ context.Context, system string, _ []models.Message, onToken func(string)) (string, error) {
	f.lastSystem = system
	if f.err != nil {
		return "", f.err
	}
	onToken(f.reply)
	return f.reply, nil
}

func testOrchestrator(store ThreadStore, llmClient *followupLLM) *Orchestrator {
	market, research := tickerFixture()
	builder := testBuilder(market, research, &fakeWeb{}, nil)
	if llmClient == nil {
		return NewOrchestrator(builder, store, nil, slog.Default())
	}
	return NewOrchestrator(builder, store, llmClient, slog.Default())
}

func TestOrchestratorRun_CreatesThreadAndPersists(t *testing.T) {
	store := newMemStore()
	o := testOrchestrator(store, nil)

	result, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Report)

	assert.NotEmpty(t, result.ThreadID)
	assert.NotEmpty(t, result.RunID)
	require.NotNil(t, result.Report.Quality)
	assert.True(t, result.Report.Quality.Passed)

	thread := store.threads[result.ThreadID]
	require.NotNil(t, thread)
	assert.Equal(t, "acct-1", thread.OwnerKey)
	assert.Equal(t, TypeCitadelTechnical, thread.ReportType)
	assert.Equal(t, "AAPL", thread.BasePayload.Ticker)
	assert.Equal(t, DefaultPrompt(TypeCitadelTechnical), thread.EffectivePrompt)

	msgs := store.messages[result.ThreadID]
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, result.Report.Markdown, msgs[0].Content)
	assert.Equal(t, []string{TypeCitadelTechnical}, store.runs)
}

func TestOrchestratorRun_ReusesMatchingThread(t *testing.T) {
	store := newMemStore()
	o := testOrchestrator(store, nil)

	first, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)

	second, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"},
		RunOptions{OwnerKey: "acct-1", ThreadID: first.ThreadID})
	require.NoError(t, err)

	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Len(t, store.threads, 1)
}

func TestOrchestratorRun_MismatchedThreadGetsFreshOne(t *testing.T) {
	store := newMemStore()
	o := testOrchestrator(store, nil)

	first, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)

	// Different owner: the referenced thread must not be reused.
	second, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"},
		RunOptions{OwnerKey: "acct-2", ThreadID: first.ThreadID})
	require.NoError(t, err)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)

	// Different report type on the same thread: fresh thread too.
	third, err := o.Run(context.Background(), TypeVanguardDividend, Payload{Ticker: "AAPL"},
		RunOptions{OwnerKey: "acct-1", ThreadID: first.ThreadID})
	require.NoError(t, err)
	assert.NotEqual(t, first.ThreadID, third.ThreadID)
}

func TestOrchestratorRun_PromptPrecedence(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetOverride(context.Background(), "acct-1", TypeCitadelTechnical, "saved override"))
	o := testOrchestrator(store, nil)

	result, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"},
		RunOptions{OwnerKey: "acct-1", PromptOverride: "inline override"})
	require.NoError(t, err)
	assert.Equal(t, "inline override", store.threads[result.ThreadID].EffectivePrompt)

	result, err = o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"},
		RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, "saved override", store.threads[result.ThreadID].EffectivePrompt)
}

func TestOrchestratorRun_UnknownType(t *testing.T) {
	o := testOrchestrator(newMemStore(), nil)
	_, err := o.Run(context.Background(), "enron_special", Payload{Ticker: "AAPL"}, RunOptions{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestOrchestratorRun_SurvivesPersistenceFailures(t *testing.T) {
	store := newMemStore()
	store.saveRunErr = errors.New("db down")
	store.appendErr = errors.New("db down")
	o := testOrchestrator(store, nil)

	result, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)
	assert.NotNil(t, result.Report)
	assert.NotEmpty(t, result.ThreadID)
}

func TestFollowup_Validation(t *testing.T) {
	o := testOrchestrator(newMemStore(), nil)
	ctx := context.Background()

	_, err := o.Followup(ctx, TypeCitadelTechnical, "", "th-1", "q", false)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = o.Followup(ctx, TypeCitadelTechnical, "acct-1", "", "q", false)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = o.Followup(ctx, TypeCitadelTechnical, "acct-1", "th-1", "   ", false)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = o.Followup(ctx, TypeCitadelTechnical, "acct-1", "th-1", "q", false)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestFollowup_OwnerAndTypeMismatch(t *testing.T) {
	store := newMemStore()
	o := testOrchestrator(store, nil)

	run, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)

	_, err = o.Followup(context.Background(), TypeCitadelTechnical, "acct-2", run.ThreadID, "q", false)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = o.Followup(context.Background(), TypeVanguardDividend, "acct-1", run.ThreadID, "q", false)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestFollowup_AppendsExactlyTwoMessages(t *testing.T) {
	store := newMemStore()
	llmClient := &followupLLM{reply: "The trend is still bullish."}
	o := testOrchestrator(store, llmClient)

	run, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)
	before := len(store.messages[run.ThreadID])

	result, err := o.Followup(context.Background(), TypeCitadelTechnical, "acct-1", run.ThreadID, "is the trend intact?", false)
	require.NoError(t, err)

	msgs := store.messages[run.ThreadID]
	require.Len(t, msgs, before+2)
	assert.Equal(t, models.RoleUser, msgs[before].Role)
	assert.Equal(t, "is the trend intact?", msgs[before].Content)
	assert.Equal(t, models.RoleAssistant, msgs[before+1].Role)
	assert.Equal(t, "The trend is still bullish.", msgs[before+1].Content)

	assert.Equal(t, "The trend is still bullish.", result.Report.Markdown)
	assert.Equal(t, store.threads[run.ThreadID].EffectivePrompt, llmClient.lastSystem)
}

func TestFollowup_RefreshRebuildsFromBasePayload(t *testing.T) {
	store := newMemStore()
	o := testOrchestrator(store, nil)

	run, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)

	staleGeneratedAt := store.threads[run.ThreadID].LatestReport.GeneratedAt

	result, err := o.Followup(context.Background(), TypeCitadelTechnical, "acct-1", run.ThreadID, "refresh and recheck", true)
	require.NoError(t, err)

	refreshed := store.threads[run.ThreadID].LatestReport
	require.NotNil(t, refreshed)
	assert.Contains(t, refreshed.Markdown, "AAPL")
	assert.Contains(t, refreshed.Markdown, "**Follow-up**: refresh and recheck")
	assert.False(t, refreshed.GeneratedAt.Before(staleGeneratedAt))
	require.NotNil(t, refreshed.Quality)

	// No LLM wired: the answer is the refreshed report under a follow-up label.
	assert.Contains(t, result.Report.Markdown, "**Follow-up**: refresh and recheck")
}

func TestFollowup_LLMFailureFallsBackToReport(t *testing.T) {
	store := newMemStore()
	llmClient := &followupLLM{err: fmt.Errorf("provider unavailable")}
	o := testOrchestrator(store, llmClient)

	run, err := o.Run(context.Background(), TypeCitadelTechnical, Payload{Ticker: "AAPL"}, RunOptions{OwnerKey: "acct-1"})
	require.NoError(t, err)

	result, err := o.Followup(context.Background(), TypeCitadelTechnical, "acct-1", run.ThreadID, "still bullish?", false)
	require.NoError(t, err)
	assert.Contains(t, result.Report.Markdown, "**Follow-up**: still bullish?")
	assert.Contains(t, result.Report.Markdown, run.Report.Markdown)
}
