// Package service ingests coding sessions submitted by linked devices.
package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/audit"
	auditdomain "distrack/backend/internal/audit/domain"
	"distrack/backend/internal/codingsession/domain"
	"distrack/backend/internal/codingsession/repository"
	"distrack/backend/internal/metrics"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/platform/textutil"
	"distrack/backend/internal/ratelimit"
	"distrack/backend/internal/security"
	"distrack/backend/internal/telemetry"
	telemetrydomain "distrack/backend/internal/telemetry/domain"
	userdomain "distrack/backend/internal/user/domain"
)

var (
	ErrSessionOwnedByOther = apperr.New(apperr.Conflict, "session_id belongs to another user")
	ErrBurstLimited        = apperr.New(apperr.RateLimited, "too many sessions from this device; slow down")
	ErrDailyLimited        = apperr.New(apperr.RateLimited, "daily session limit reached")
)

// maxFutureSkew bounds how far in the future a session may claim to start.
const maxFutureSkew = 24 * time.Hour

const telemetrySource = "ingest"

// DeviceToucher records device last-seen metadata. It must not block or fail the caller.
type DeviceToucher interface {
	Touch(userID, deviceID, clientIP, userAgent string)
}

// Input is one submission as received from a device. UserID and DeviceID come
// from the verified access token, never from the body.
type Input struct {
	UserID           string
	DeviceID         string
	SessionID        string
	StartedAt        string
	DurationSec      *float64
	Languages        map[string]float64
	Project          string
	Editor           string
	ExtensionVersion string
	FilePaths        []string
	ClientIP         string
	UserAgent        string
}

// Result reports whether the submission created a new record.
type Result struct {
	SessionID string
	Created   bool
}

// Limiters bound ingestion. Nil fields disable the corresponding check.
type Limiters struct {
	// Burst is keyed by device.
	Burst ratelimit.Limiter
	// Daily is keyed by user per UTC day.
	Daily ratelimit.Limiter
}

// Deps holds optional collaborators. Nil fields disable the corresponding side effect.
type Deps struct {
	Devices DeviceToucher
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
	Runner  *async.Runner
	Metrics *metrics.Metrics
	Log     *logrus.Logger
}

// Service records coding sessions exactly once per session id.
type Service struct {
	repo     repository.Repository
	limiters Limiters
	devices  DeviceToucher
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	runner   *async.Runner
	metrics  *metrics.Metrics
	log      *logrus.Logger
	now      func() time.Time
}

// NewService returns an ingestion service.
func NewService(repo repository.Repository, limiters Limiters, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:     repo,
		limiters: limiters,
		devices:  deps.Devices,
		audit:    deps.Audit,
		events:   deps.Events,
		runner:   deps.Runner,
		metrics:  deps.Metrics,
		log:      log,
		now:      time.Now,
	}
}

// Ingest validates and records one session.
//
// A session id already stored for the same user is an idempotent replay
// (Created=false); stored for another user it is a conflict. Rate limits are
// checked only for new ids, so retries of a recorded session always succeed.
func (s *Service) Ingest(ctx context.Context, in Input) (*Result, error) {
	res, outcome, err := s.ingest(ctx, in)
	s.metrics.Ingest(outcome)
	return res, err
}

func (s *Service) ingest(ctx context.Context, in Input) (*Result, string, error) {
	now := s.now().UTC()
	sess, err := s.build(in, now)
	if err != nil {
		return nil, "invalid_input", err
	}

	existing, err := s.repo.GetByID(ctx, sess.SessionID)
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "load session", err)
	}
	if existing != nil {
		return s.replay(sess, existing.UserID)
	}

	if s.limiters.Burst != nil && !s.limiters.Burst.Allow("device:"+sess.DeviceID) {
		s.metrics.RateLimited("ingest_burst")
		return nil, "rate_limited", ErrBurstLimited
	}
	if s.limiters.Daily != nil && !s.limiters.Daily.Allow("user:"+sess.UserID) {
		s.metrics.RateLimited("ingest_daily")
		return nil, "rate_limited", ErrDailyLimited
	}

	rec, err := s.repo.Record(ctx, sess, now)
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "record session", err)
	}
	if !rec.Created {
		// Lost a race with a concurrent submission of the same id.
		return s.replay(sess, rec.OwnerID)
	}

	if s.devices != nil {
		s.devices.Touch(sess.UserID, sess.DeviceID, in.ClientIP, in.UserAgent)
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, audit.Entry{
			Action: auditdomain.ActionSessionIngest, Resource: auditdomain.ResourceSession,
			UserID: sess.UserID, DeviceID: sess.DeviceID, IPHash: sess.IPHash,
			Metadata: map[string]any{"session_id": sess.SessionID, "duration_sec": sess.DurationSeconds},
		})
	}
	event := telemetrydomain.NewEvent(telemetrydomain.EventSessionIngested, telemetrySource, sess.UserID, sess.DeviceID,
		map[string]any{"duration_sec": sess.DurationSeconds, "languages": len(sess.Languages)})
	event.SessionID = sess.SessionID
	telemetry.EmitAsync(s.runner, s.events, event)
	return &Result{SessionID: sess.SessionID, Created: true}, "created", nil
}

func (s *Service) replay(sess *domain.Session, ownerID string) (*Result, string, error) {
	if ownerID != sess.UserID {
		s.log.WithFields(logrus.Fields{"session_id": sess.SessionID, "user_id": sess.UserID}).
			Debug("session id reused across users")
		return nil, "conflict", ErrSessionOwnedByOther
	}
	return &Result{SessionID: sess.SessionID, Created: false}, "replay", nil
}

// build validates in and converts it to a session.
func (s *Service) build(in Input, now time.Time) (*domain.Session, error) {
	if in.UserID == "" || in.DeviceID == "" {
		return nil, apperr.New(apperr.Unauthorized, "missing token identity")
	}
	id := strings.TrimSpace(in.SessionID)
	if id == "" || len(id) > domain.MaxSessionIDLength || strings.IndexByte(id, 0) >= 0 {
		return nil, apperr.New(apperr.InvalidInput, "session_id is required and must be at most 128 characters")
	}
	started, err := time.Parse(time.RFC3339, strings.TrimSpace(in.StartedAt))
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "started_at must be an RFC 3339 timestamp")
	}
	if started.After(now.Add(maxFutureSkew)) {
		return nil, apperr.New(apperr.InvalidInput, "started_at is in the future")
	}
	if in.DurationSec == nil {
		return nil, apperr.New(apperr.InvalidInput, "duration_sec is required")
	}
	dur := *in.DurationSec
	if math.IsNaN(dur) || dur < 0 || dur > domain.MaxDurationSeconds {
		return nil, apperr.New(apperr.InvalidInput, "duration_sec must be between 0 and 86400")
	}
	if len(in.FilePaths) > domain.MaxFilePaths {
		return nil, apperr.New(apperr.InvalidInput, "too many file_paths")
	}
	paths := make([]string, 0, len(in.FilePaths))
	for _, p := range in.FilePaths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, textutil.Clip(p, domain.MaxFilePathLength))
		}
	}
	return &domain.Session{
		SessionID:        id,
		UserID:           in.UserID,
		DeviceID:         in.DeviceID,
		StartedAt:        started.UTC(),
		DurationSeconds:  int64(math.Round(dur)),
		Languages:        userdomain.ParseLanguageDeltas(in.Languages),
		Project:          textutil.Clip(strings.TrimSpace(in.Project), domain.MaxLabelLength),
		Editor:           textutil.Clip(strings.TrimSpace(in.Editor), domain.MaxLabelLength),
		ExtensionVersion: textutil.Clip(strings.TrimSpace(in.ExtensionVersion), domain.MaxLabelLength),
		FilePaths:        paths,
		IPHash:           security.HashIP(in.ClientIP),
		UserAgent:        textutil.Clip(in.UserAgent, 512),
	}, nil
}
