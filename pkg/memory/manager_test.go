package memory

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return make([]float32, 384), nil
}

type fakeStore struct {
	docs    []Document
	added   []Document
	filters []Filter

	// responses, when set, answers searches in order: the first search
	// returns responses[0], the second responses[1], and so on.
	responses [][]Document
}

func (f *fakeStore) Add(_ context.Context, content string, _ []float32, filter Filter) error {
	f.added = append(f.added, Document{
		PageContent:    content,
		TenantID:       filter.TenantID,
		UserID:         filter.UserID,
		ConversationID: filter.ConversationID,
	})
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, _ int, filter Filter) ([]Document, error) {
	f.filters = append(f.filters, filter)
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}
	return f.docs, nil
}

func TestSave_TruncatesBothSides(t *testing.T) {
	store := &fakeStore{}
	mgr := NewManager(store, &fakeEmbedder{}, slog.Default())

	user := strings.Repeat("u", 600)
	agent := strings.Repeat("a", 2000)
	meta := Metadata{TenantID: "t1", UserID: "u1", ConversationID: "c1"}
	require.NoError(t, mgr.Save(context.Background(), user, agent, meta))

	require.Len(t, store.added, 1)
	doc := store.added[0]
	assert.Contains(t, doc.PageContent, "User: "+strings.Repeat("u", 500)+"\n")
	assert.NotContains(t, doc.PageContent, strings.Repeat("u", 501))
	assert.Contains(t, doc.PageContent, strings.Repeat("a", 1800))
	assert.NotContains(t, doc.PageContent, strings.Repeat("a", 1801))
	assert.Equal(t, "t1", doc.TenantID)
	assert.Equal(t, "c1", doc.ConversationID)
}

func TestGetRelevantContext_StrictestFilterFirst(t *testing.T) {
	store := &fakeStore{docs: []Document{{PageContent: "prior turn"}}}
	mgr := NewManager(store, &fakeEmbedder{}, slog.Default())

	meta := Metadata{TenantID: "t1", UserID: "u1", ConversationID: "c1"}
	snippets, err := mgr.GetRelevantContext(context.Background(), "what about AAPL", 4, meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"prior turn"}, snippets)

	require.Len(t, store.filters, 1)
	assert.Equal(t, Filter{TenantID: "t1", UserID: "u1", ConversationID: "c1"}, store.filters[0])
}

func TestGetRelevantContext_WidensOnceOnZeroHits(t *testing.T) {
	store := &fakeStore{responses: [][]Document{
		nil, // thread-scoped search: empty
		{{PageContent: "older conversation"}},
	}}
	mgr := NewManager(store, &fakeEmbedder{}, slog.Default())

	meta := Metadata{TenantID: "t1", UserID: "u1", ConversationID: "c1"}
	snippets, err := mgr.GetRelevantContext(context.Background(), "query", 4, meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"older conversation"}, snippets)

	require.Len(t, store.filters, 2)
	assert.Equal(t, "c1", store.filters[0].ConversationID)
	assert.Empty(t, store.filters[1].ConversationID)
	// Tenant isolation is never relaxed.
	assert.Equal(t, "t1", store.filters[1].TenantID)
}

func TestGetRelevantContext_NoWidenWithoutConversation(t *testing.T) {
	store := &fakeStore{}
	mgr := NewManager(store, &fakeEmbedder{}, slog.Default())

	meta := Metadata{TenantID: "t1", UserID: "u1"}
	snippets, err := mgr.GetRelevantContext(context.Background(), "query", 4, meta)
	require.NoError(t, err)
	assert.Empty(t, snippets)
	assert.Len(t, store.filters, 1)
}
