package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrThreadNotFound is returned for lookups of unknown thread ids.
var ErrThreadNotFound = errors.New("report thread not found")

// Thread is one persisted report conversation. The base payload is immutable
// after creation.
type Thread struct {
	ID              string    `json:"id"`
	OwnerKey        string    `json:"owner_key"`
	ReportType      string    `json:"report_type"`
	BasePayload     Payload   `json:"base_payload"`
	EffectivePrompt string    `json:"effective_prompt"`
	LatestReport    *Report   `json:"latest_report,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ThreadMessage is one entry of a thread's message log.
type ThreadMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadStore is the persistence surface the orchestrator uses.
type ThreadStore interface {
	SaveRun(ctx context.Context, reportType string, payload Payload, report *Report) (string, error)
	CreateThread(ctx context.Context, ownerKey, reportType string, base Payload, effectivePrompt string, latest *Report) (*Thread, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	UpdateThreadReport(ctx context.Context, threadID string, latest *Report) error
	AppendMessage(ctx context.Context, threadID, role, content string) error
	Messages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
	GetOverride(ctx context.Context, ownerKey, reportType string) (string, error)
	SetOverride(ctx context.Context, ownerKey, reportType, prompt string) error
	DeleteOverride(ctx context.Context, ownerKey, reportType string) error
	ListOverrides(ctx context.Context, ownerKey string) (map[string]string, error)
}

// PGStore implements ThreadStore on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pgx pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// SaveRun records one completed report run and returns its id.
func (s *PGStore) SaveRun(ctx context.Context, reportType string, payload Payload, report *Report) (string, error) {
	id := uuid.NewString()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO report_runs (id, report_type, payload, report, generated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, reportType, payloadJSON, reportJSON, report.GeneratedAt)
	if err != nil {
		return "", fmt.Errorf("insert report run: %w", err)
	}
	return id, nil
}

// CreateThread opens a new thread seeded with the base payload, the prompt
// used, and the first report.
func (s *PGStore) CreateThread(ctx context.Context, ownerKey, reportType string, base Payload, effectivePrompt string, latest *Report) (*Thread, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal base payload: %w", err)
	}
	latestJSON, err := json.Marshal(latest)
	if err != nil {
		return nil, fmt.Errorf("marshal latest report: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO report_threads (id, owner_key, report_type, base_payload, effective_prompt, latest_report, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		id, ownerKey, reportType, baseJSON, effectivePrompt, latestJSON, now)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return &Thread{
		ID: id, OwnerKey: ownerKey, ReportType: reportType,
		BasePayload: base, EffectivePrompt: effectivePrompt, LatestReport: latest,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// GetThread loads a thread by id.
func (s *PGStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_key, report_type, base_payload, effective_prompt, latest_report, created_at, updated_at
		 FROM report_threads WHERE id = $1`, threadID)

	var t Thread
	var baseJSON, latestJSON []byte
	err := row.Scan(&t.ID, &t.OwnerKey, &t.ReportType, &baseJSON, &t.EffectivePrompt, &latestJSON, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if err := json.Unmarshal(baseJSON, &t.BasePayload); err != nil {
		return nil, fmt.Errorf("decode base payload: %w", err)
	}
	if len(latestJSON) > 0 {
		var report Report
		if err := json.Unmarshal(latestJSON, &report); err != nil {
			return nil, fmt.Errorf("decode latest report: %w", err)
		}
		t.LatestReport = &report
	}
	return &t, nil
}

// UpdateThreadReport replaces a thread's latest report.
func (s *PGStore) UpdateThreadReport(ctx context.Context, threadID string, latest *Report) error {
	latestJSON, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("marshal latest report: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE report_threads SET latest_report = $2, updated_at = now() WHERE id = $1`,
		threadID, latestJSON)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// AppendMessage adds one message to a thread's log.
func (s *PGStore) AppendMessage(ctx context.Context, threadID, role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_thread_messages (thread_id, role, content, created_at)
		 VALUES ($1, $2, $3, now())`,
		threadID, role, content)
	if err != nil {
		return fmt.Errorf("append thread message: %w", err)
	}
	return nil
}

// Messages returns the last limit messages in chronological order.
func (s *PGStore) Messages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM (
		   SELECT role, content, created_at FROM report_thread_messages
		   WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("load thread messages: %w", err)
	}
	defer rows.Close()

	var out []ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetOverride returns the saved prompt override, or "" when none exists.
func (s *PGStore) GetOverride(ctx context.Context, ownerKey, reportType string) (string, error) {
	var prompt string
	err := s.pool.QueryRow(ctx,
		`SELECT prompt_text FROM report_prompt_overrides WHERE owner_key = $1 AND report_type = $2`,
		ownerKey, reportType).Scan(&prompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load prompt override: %w", err)
	}
	return prompt, nil
}

// SetOverride upserts a per-owner prompt override.
func (s *PGStore) SetOverride(ctx context.Context, ownerKey, reportType, prompt string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_prompt_overrides (owner_key, report_type, prompt_text, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (owner_key, report_type)
		 DO UPDATE SET prompt_text = EXCLUDED.prompt_text, updated_at = now()`,
		ownerKey, reportType, prompt)
	if err != nil {
		return fmt.Errorf("save prompt override: %w", err)
	}
	return nil
}

// DeleteOverride removes a per-owner prompt override.
func (s *PGStore) DeleteOverride(ctx context.Context, ownerKey, reportType string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM report_prompt_overrides WHERE owner_key = $1 AND report_type = $2`,
		ownerKey, reportType)
	if err != nil {
		return fmt.Errorf("delete prompt override: %w", err)
	}
	return nil
}

// ListOverrides returns every override for an owner keyed by report type.
func (s *PGStore) ListOverrides(ctx context.Context, ownerKey string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT report_type, prompt_text FROM report_prompt_overrides WHERE owner_key = $1`,
		ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list prompt overrides: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var reportType, prompt string
		if err := rows.Scan(&reportType, &prompt); err != nil {
			return nil, fmt.Errorf("scan prompt override: %w", err)
		}
		out[reportType] = prompt
	}
	return out, rows.Err()
}
