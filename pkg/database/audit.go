package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/trade"
)

// AuditStore persists broker API events and trade audit records. It satisfies
// obs.AuditSink and trade.AuditStore.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore wraps a pgx pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// InsertBrokerEvent records one provider API attempt.
func (s *AuditStore) InsertBrokerEvent(ctx context.Context, ev models.BrokerEvent) error {
	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO broker_api_events
		   (ts, provider, app_type, endpoint, method, status_code, attempt, latency_ms, success, error, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ts, ev.Provider, ev.App, ev.Endpoint, ev.Method, ev.Status,
		ev.Attempt, ev.LatencyMS, ev.Success, nullable(ev.Error), ev.RequestID)
	if err != nil {
		return fmt.Errorf("insert broker event: %w", err)
	}
	return nil
}

// InsertTradeAudit records one trade-controls action.
func (s *AuditStore) InsertTradeAudit(ctx context.Context, rec trade.AuditRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO trade_hitl_audit
		   (provider, account_number, action, approved, reviewer, ticket_id, reason, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Provider, rec.AccountNumber, rec.Action, rec.Approved,
		nullable(rec.Reviewer), nullable(rec.TicketID), nullable(rec.Reason),
		payloadJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade audit: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
