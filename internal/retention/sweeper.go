// Package retention runs the periodic cleanup of link sessions, refresh
// tokens and limiter state on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/metrics"
)

// DefaultSchedule runs a sweep every ten minutes.
const DefaultSchedule = "@every 10m"

const sweepTimeout = time.Minute

// LinkSweeper expires stale link sessions and deletes old expired ones.
type LinkSweeper interface {
	Sweep(ctx context.Context) (expired, deleted int64, err error)
}

// TokenSweeper deletes refresh tokens expired or revoked longer than retention ago.
type TokenSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditSweeper deletes audit entries older than retention.
type AuditSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// Purger drops expired in-memory limiter entries.
type Purger interface {
	Purge()
}

// Sweeper owns the cron scheduler. Nil sweepers are skipped.
type Sweeper struct {
	links          LinkSweeper
	tokens         TokenSweeper
	tokenRetention time.Duration
	audit          AuditSweeper
	auditRetention time.Duration
	limiters       []Purger
	metrics        *metrics.Metrics
	log            *logrus.Logger
	cron           *cron.Cron
}

// Config configures a Sweeper.
type Config struct {
	Schedule       string
	TokenRetention time.Duration
	AuditRetention time.Duration
}

// NewSweeper schedules RunOnce with cfg.Schedule. It does not start the scheduler.
func NewSweeper(cfg Config, links LinkSweeper, tokens TokenSweeper, audit AuditSweeper, limiters []Purger, m *metrics.Metrics, log *logrus.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Sweeper{
		links:          links,
		tokens:         tokens,
		tokenRetention: cfg.TokenRetention,
		audit:          audit,
		auditRetention: cfg.AuditRetention,
		limiters:       limiters,
		metrics:        m,
		log:            log,
		cron:           cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.log.WithError(err).Error("retention sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule retention sweep %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop stops the scheduler and returns a context done when a running sweep finishes.
func (s *Sweeper) Stop() context.Context { return s.cron.Stop() }

// RunOnce performs one sweep. Every step runs even if an earlier one fails;
// the first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var firstErr error
	fields := logrus.Fields{}

	if s.links != nil {
		expired, deleted, err := s.links.Sweep(ctx)
		if err != nil {
			firstErr = fmt.Errorf("link sessions: %w", err)
		}
		s.metrics.Swept("link_expired", expired)
		s.metrics.Swept("link_deleted", deleted)
		fields["link_expired"], fields["link_deleted"] = expired, deleted
	}
	if s.tokens != nil && s.tokenRetention > 0 {
		n, err := s.tokens.Sweep(ctx, s.tokenRetention)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("refresh tokens: %w", err)
		}
		s.metrics.Swept("refresh_tokens", n)
		fields["refresh_tokens_deleted"] = n
	}
	if s.audit != nil && s.auditRetention > 0 {
		n, err := s.audit.Sweep(ctx, s.auditRetention)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("audit logs: %w", err)
		}
		s.metrics.Swept("audit_logs", n)
		fields["audit_logs_deleted"] = n
	}
	for _, l := range s.limiters {
		l.Purge()
	}

	s.log.WithFields(fields).Debug("retention sweep finished")
	return firstErr
}
