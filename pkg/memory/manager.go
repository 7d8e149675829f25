package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
)

// Truncation limits applied on save so one turn can never dominate recall.
const (
	maxUserChars  = 500
	maxAgentChars = 1800
)

// Metadata identifies the scope a memory belongs to.
type Metadata struct {
	TenantID       string
	UserID         string
	ConversationID string
}

// Manager is the conversational memory facade: it embeds text on save and on
// query, and widens the search scope once when a thread-level search comes
// back empty.
type Manager struct {
	store    Store
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewManager creates a memory manager.
func NewManager(store Store, embedder llm.Embedder, logger *slog.Logger) *Manager {
	return &Manager{store: store, embedder: embedder, logger: logger.With("component", "memory")}
}

// Save persists one (user turn, assistant turn) pair as a single document.
// The user text is truncated to 500 chars and the agent text to 1800.
func (m *Manager) Save(ctx context.Context, userInput, agentOutput string, meta Metadata) error {
	doc := fmt.Sprintf("User: %s\nAssistant: %s",
		truncate(userInput, maxUserChars), truncate(agentOutput, maxAgentChars))

	embedding, err := m.embedder.Embed(ctx, doc)
	if err != nil {
		return fmt.Errorf("memory save: %w", err)
	}
	return m.store.Add(ctx, doc, embedding, Filter{
		TenantID:       meta.TenantID,
		UserID:         meta.UserID,
		ConversationID: meta.ConversationID,
	})
}

// GetRelevantContext returns up to k memory snippets for the query, applying
// the strictest available filter. When the conversation-scoped search yields
// zero hits, it retries once with the conversation filter dropped. Tenant
// isolation is never relaxed.
func (m *Manager) GetRelevantContext(ctx context.Context, query string, k int, meta Metadata) ([]string, error) {
	if k <= 0 {
		k = 4
	}
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}

	filter := Filter{TenantID: meta.TenantID, UserID: meta.UserID, ConversationID: meta.ConversationID}
	docs, err := m.store.Search(ctx, embedding, k, filter)
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 && filter.ConversationID != "" {
		filter.ConversationID = ""
		m.logger.Debug("no thread-scoped memories, widening to user scope")
		docs, err = m.store.Search(ctx, embedding, k, filter)
		if err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.PageContent)
	}
	return out, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
