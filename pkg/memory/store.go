// Package memory provides embedding-backed conversational memory: user and
// assistant turns are stored with tenant/user/conversation metadata and
// recalled by cosine similarity with scoped filters.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Document is one stored memory with its similarity score when returned from
// a search.
type Document struct {
	ID             string
	PageContent    string
	TenantID       string
	UserID         string
	ConversationID string
	Score          float32
}

// Filter scopes a similarity search. Empty fields are not applied; TenantID
// is the isolation boundary and is always applied when set.
type Filter struct {
	TenantID       string
	UserID         string
	ConversationID string
}

// Store is the vector store surface the Manager depends on.
type Store interface {
	Add(ctx context.Context, content string, embedding []float32, filter Filter) error
	Search(ctx context.Context, embedding []float32, k int, filter Filter) ([]Document, error)
}

// PGStore implements Store on PostgreSQL with pgvector, cosine distance over
// the conversation_memory table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store using an existing pool. The caller owns the
// pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Add stores one document.
func (s *PGStore) Add(ctx context.Context, content string, embedding []float32, filter Filter) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_memory (id, page_content, tenant_id, user_id, conversation_id, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6::vector)`,
		uuid.NewString(), content, filter.TenantID, filter.UserID, filter.ConversationID, serializeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("memory insert: %w", err)
	}
	return nil
}

// Search returns the top-k documents by cosine similarity that match every
// set filter field. Documents from other tenants are never returned.
func (s *PGStore) Search(ctx context.Context, embedding []float32, k int, filter Filter) ([]Document, error) {
	where := []string{"embedding IS NOT NULL"}
	args := []any{serializeEmbedding(embedding)}

	addClause := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addClause("tenant_id", filter.TenantID)
	addClause("user_id", filter.UserID)
	addClause("conversation_id", filter.ConversationID)

	args = append(args, k)
	query := fmt.Sprintf(
		`SELECT id, page_content, tenant_id, user_id, conversation_id,
		        1 - (embedding <=> $1::vector) AS score
		 FROM conversation_memory
		 WHERE %s
		 ORDER BY embedding <=> $1::vector
		 LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.PageContent, &d.TenantID, &d.UserID, &d.ConversationID, &d.Score); err != nil {
			return nil, fmt.Errorf("memory scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
