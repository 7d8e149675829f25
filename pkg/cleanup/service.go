// Package cleanup enforces data retention: old broker API events and report
// runs are purged on a fixed interval.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/pkg/config"
)

// Purger deletes rows past their retention cutoff, returning the count.
type Purger interface {
	PurgeBrokerEvents(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeReportRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// Service periodically enforces the retention policy. All operations are
// idempotent and safe to run from multiple replicas.
type Service struct {
	cfg    config.RetentionConfig
	purger Purger
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg config.RetentionConfig, purger Purger, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		purger: purger,
		logger: logger.With("component", "cleanup"),
		now:    time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"broker_event_ttl", s.cfg.BrokerEventTTL,
		"report_run_ttl", s.cfg.ReportRunTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies every retention policy a single time.
func (s *Service) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	count, err := s.purger.PurgeBrokerEvents(ctx, now.Add(-s.cfg.BrokerEventTTL))
	if err != nil {
		s.logger.Error("retention: broker event purge failed", "error", err)
	} else if count > 0 {
		s.logger.Info("retention: purged broker events", "count", count)
	}

	count, err = s.purger.PurgeReportRuns(ctx, now.Add(-s.cfg.ReportRunTTL))
	if err != nil {
		s.logger.Error("retention: report run purge failed", "error", err)
	} else if count > 0 {
		s.logger.Info("retention: purged report runs", "count", count)
	}
}

// PGPurger implements Purger on PostgreSQL.
type PGPurger struct {
	pool *pgxpool.Pool
}

// NewPGPurger wraps a pgx pool.
func NewPGPurger(pool *pgxpool.Pool) *PGPurger {
	return &PGPurger{pool: pool}
}

// PurgeBrokerEvents deletes broker events created before the cutoff.
func (p *PGPurger) PurgeBrokerEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM broker_api_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge broker events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeReportRuns deletes report runs generated before the cutoff.
func (p *PGPurger) PurgeReportRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM report_runs WHERE generated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge report runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
