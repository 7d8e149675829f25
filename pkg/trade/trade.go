// Package trade is the guarded trade-controls surface. It enforces the
// submission policy (live-trading flag, human approval, shared secret) and
// audits every action with a redacted payload. Order routing itself is a
// stub: no broker order is ever placed.
package trade

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/config"
)

// Sentinel errors for policy rejections.
var (
	ErrLiveTradingDisabled = errors.New("live trading is disabled")
	ErrApprovalIncomplete  = errors.New("approval is missing or incomplete")
	ErrBadSecret           = errors.New("shared secret mismatch")
)

// Audit actions.
const (
	ActionRequest       = "request"
	ActionSubmitAttempt = "submit_attempt"
	ActionSubmitSuccess = "submit_success"
)

// auditAllowList is the only set of order fields that may appear in an
// audit payload. Everything else in the inbound order is dropped.
var auditAllowList = []string{
	"symbol", "side", "quantity", "order_type", "limit_price", "time_in_force",
}

// Approval is the human-in-the-loop sign-off attached to a submission.
type Approval struct {
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}

// Complete reports whether the approval is affirmative with every field set.
func (a *Approval) Complete() bool {
	return a != nil && a.Approved &&
		strings.TrimSpace(a.Reviewer) != "" &&
		strings.TrimSpace(a.TicketID) != "" &&
		strings.TrimSpace(a.Reason) != ""
}

// SubmitRequest is one inbound order submission.
type SubmitRequest struct {
	Provider      string         `json:"provider"`
	AccountNumber string         `json:"account_number"`
	Order         map[string]any `json:"order"`
	Approval      *Approval      `json:"approval,omitempty"`
}

// Receipt acknowledges a submission that passed the controls.
type Receipt struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Note    string `json:"note"`
}

// AuditRecord is one row of the trade audit log.
type AuditRecord struct {
	Provider      string         `json:"provider"`
	AccountNumber string         `json:"account_number"`
	Action        string         `json:"action"`
	Approved      bool           `json:"approved"`
	Reviewer      string         `json:"reviewer"`
	TicketID      string         `json:"ticket_id"`
	Reason        string         `json:"reason"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuditStore persists audit records. Implementations must be safe for
// concurrent use.
type AuditStore interface {
	InsertTradeAudit(ctx context.Context, rec AuditRecord) error
}

// Gate enforces the submission policy. audit may be nil (log-only).
type Gate struct {
	cfg    config.TradingConfig
	audit  AuditStore
	logger *slog.Logger
}

// NewGate builds a gate from the trading config.
func NewGate(cfg config.TradingConfig, audit AuditStore, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, audit: audit, logger: logger.With("component", "trade_gate")}
}

// Submit runs the policy checks in order: shared secret, live-trading flag,
// approval completeness. providedSecret is the inbound shared-secret header
// value. On success it returns a stub receipt; no order leaves the process.
func (g *Gate) Submit(ctx context.Context, req SubmitRequest, providedSecret string) (*Receipt, error) {
	g.record(ctx, req, ActionRequest)

	if g.cfg.SharedSecret != "" {
		if subtle.ConstantTimeCompare([]byte(g.cfg.SharedSecret), []byte(providedSecret)) != 1 {
			g.logger.Warn("trade submission rejected", "provider", req.Provider, "cause", "shared secret mismatch")
			return nil, ErrBadSecret
		}
	}
	if !g.cfg.EnableLiveTrading {
		g.logger.Warn("trade submission rejected", "provider", req.Provider, "cause", "live trading disabled")
		return nil, ErrLiveTradingDisabled
	}
	if g.cfg.RequireHITL && !req.Approval.Complete() {
		g.logger.Warn("trade submission rejected", "provider", req.Provider, "cause", "approval incomplete")
		return nil, fmt.Errorf("%w: approved reviewer, ticket_id and reason are required", ErrApprovalIncomplete)
	}

	g.record(ctx, req, ActionSubmitAttempt)

	receipt := &Receipt{
		OrderID: uuid.NewString(),
		Status:  "accepted",
		Note:    "order passed trade controls; live routing is not implemented",
	}
	g.record(ctx, req, ActionSubmitSuccess)
	g.logger.Info("trade submission accepted",
		"provider", req.Provider, "order_id", receipt.OrderID,
		"account", maskAccount(req.AccountNumber))
	return receipt, nil
}

// record writes one best-effort audit row with the redacted payload.
func (g *Gate) record(ctx context.Context, req SubmitRequest, action string) {
	rec := AuditRecord{
		Provider:      req.Provider,
		AccountNumber: maskAccount(req.AccountNumber),
		Action:        action,
		Payload:       Redact(req.Order),
		CreatedAt:     time.Now().UTC(),
	}
	if req.Approval != nil {
		rec.Approved = req.Approval.Approved
		rec.Reviewer = req.Approval.Reviewer
		rec.TicketID = req.Approval.TicketID
		rec.Reason = req.Approval.Reason
	}
	if g.audit == nil {
		return
	}
	if err := g.audit.InsertTradeAudit(ctx, rec); err != nil {
		g.logger.Warn("trade audit write failed", "action", action, "provider", req.Provider, "error", err)
	}
}

// Redact keeps only the allow-listed order fields.
func Redact(order map[string]any) map[string]any {
	out := map[string]any{}
	for _, key := range auditAllowList {
		if v, ok := order[key]; ok {
			out[key] = v
		}
	}
	return out
}

// maskAccount hides all but the last four characters of an account number.
func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}
