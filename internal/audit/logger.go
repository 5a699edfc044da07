// Package audit records security-relevant pipeline events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/audit/domain"
	auditrepo "distrack/backend/internal/audit/repository"
)

// Entry describes one audit event. IPHash must already be hashed.
type Entry struct {
	Action   string
	Resource string
	UserID   string
	DeviceID string
	IPHash   string
	Metadata map[string]any
}

// AuditLogger writes a single audit event. LogEvent is best-effort: failures
// are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Entry)
}

// Logger implements AuditLogger using the audit repository and a logrus logger.
// Every event is also written as a log line with audit=true.
type Logger struct {
	repo auditrepo.Repository
	log  *logrus.Logger
	now  func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. repo may be nil, in
// which case events are only logged.
func NewLogger(repo auditrepo.Repository, log *logrus.Logger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, log: log, now: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	fields := logrus.Fields{
		"audit":    true,
		"action":   e.Action,
		"resource": e.Resource,
	}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.DeviceID != "" {
		fields["device_id"] = e.DeviceID
	}
	l.log.WithFields(fields).Info("audit event")
	if l.repo == nil {
		return
	}
	var meta string
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			l.log.WithError(err).WithField("action", e.Action).Warn("audit: metadata not serializable")
		} else {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		DeviceID:  e.DeviceID,
		Action:    e.Action,
		Resource:  e.Resource,
		IPHash:    e.IPHash,
		Metadata:  meta,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{"action": e.Action, "resource": e.Resource}).
			Error("audit: failed to log event")
	}
}

// Sweep deletes entries older than retention. Without a repository it is a no-op.
func (l *Logger) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if l == nil || l.repo == nil || retention <= 0 {
		return 0, nil
	}
	n, err := l.repo.DeleteBefore(ctx, l.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete audit logs: %w", err)
	}
	return n, nil
}
