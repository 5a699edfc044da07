// Package service runs the device link flow: a device starts a link and shows
// a code, a signed-in user claims the code, and the device finishes by
// exchanging its poll token for a token pair.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/audit"
	auditdomain "distrack/backend/internal/audit/domain"
	"distrack/backend/internal/link/domain"
	"distrack/backend/internal/link/repository"
	"distrack/backend/internal/metrics"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/ratelimit"
	"distrack/backend/internal/security"
	"distrack/backend/internal/telemetry"
	telemetrydomain "distrack/backend/internal/telemetry/domain"
	tokendomain "distrack/backend/internal/token/domain"
)

var (
	ErrLinkNotFound      = apperr.New(apperr.NotFound, "link code not found")
	ErrLinkExpired       = apperr.New(apperr.Expired, "link code expired")
	ErrLinkAlreadyUsed   = apperr.New(apperr.Conflict, "link code already used")
	ErrLinkClaimed       = apperr.New(apperr.Conflict, "link code already claimed by another user")
	ErrStartRateLimited  = apperr.New(apperr.RateLimited, "too many link requests; try again later")
	ErrClaimLocked       = apperr.New(apperr.RateLimited, "too many failed link attempts; try again later")
	ErrCodeSpaceExceeded = apperr.New(apperr.Internal, "could not allocate a unique link code")
)

// linkRetention is how long expired sessions are kept before the sweeper deletes them.
const linkRetention = 24 * time.Hour

const telemetrySource = "link"

// LockedError is returned by Claim while the caller's IP is locked out.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string { return ErrClaimLocked.Error() }
func (e *LockedError) Unwrap() error { return ErrClaimLocked }

// TokenIssuer mints the token pair handed to a device when its link completes.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID, deviceID string, client tokendomain.ClientInfo) (*tokendomain.Pair, error)
}

// Config holds link-code policy.
type Config struct {
	CodeLength int
	TTL        time.Duration
	// MaxCodeAttempts bounds code regeneration on collision.
	MaxCodeAttempts int
}

// Limiters guards start and claim. Nil fields disable the corresponding check.
type Limiters struct {
	StartByDevice ratelimit.Limiter
	StartByIP     ratelimit.Limiter
	ClaimFailures *ratelimit.Lockout
}

// Deps holds optional collaborators. Nil fields disable the corresponding side effect.
type Deps struct {
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
	Runner  *async.Runner
	Metrics *metrics.Metrics
	Log     *logrus.Logger
}

// StartResult is returned to the device exactly once. Code and PollToken are plaintext.
type StartResult struct {
	Code      string
	PollToken string
	ExpiresIn int64
	ExpiresAt time.Time
}

// FinishResult is either Pending or carries the issued pair.
type FinishResult struct {
	Pending bool
	Pair    *tokendomain.Pair
}

// Service implements the link state machine.
type Service struct {
	repo     repository.Repository
	issuer   TokenIssuer
	cfg      Config
	limiters Limiters
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	runner   *async.Runner
	metrics  *metrics.Metrics
	log      *logrus.Logger
	now      func() time.Time
}

// NewService returns a link service.
func NewService(repo repository.Repository, issuer TokenIssuer, cfg Config, limiters Limiters, deps Deps) *Service {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 5
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:     repo,
		issuer:   issuer,
		cfg:      cfg,
		limiters: limiters,
		audit:    deps.Audit,
		events:   deps.Events,
		runner:   deps.Runner,
		metrics:  deps.Metrics,
		log:      log,
		now:      time.Now,
	}
}

// NormalizeCode uppercases a typed code and drops spaces and dashes.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, strings.ToUpper(code))
}

// Start begins a link attempt for deviceID. Any in-flight session of the
// device is expired first.
func (s *Service) Start(ctx context.Context, deviceID string, client tokendomain.ClientInfo) (*StartResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || len(deviceID) > domain.MaxDeviceIDLength {
		return nil, apperr.New(apperr.InvalidInput, "device_id is required and must be at most 128 characters")
	}
	if s.limiters.StartByDevice != nil && !s.limiters.StartByDevice.Allow("device:"+deviceID) {
		s.metrics.RateLimited("link_start_device")
		s.metrics.LinkStep("start", "rate_limited")
		return nil, ErrStartRateLimited
	}
	if s.limiters.StartByIP != nil && client.IPHash != "" && !s.limiters.StartByIP.Allow("ip:"+client.IPHash) {
		s.metrics.RateLimited("link_start_ip")
		s.metrics.LinkStep("start", "rate_limited")
		return nil, ErrStartRateLimited
	}

	now := s.now().UTC()
	if n, err := s.repo.ExpireActiveForDevice(ctx, deviceID); err != nil {
		s.metrics.LinkStep("start", "error")
		return nil, apperr.Wrap(apperr.Internal, "expire previous link sessions", err)
	} else if n > 0 {
		s.log.WithFields(logrus.Fields{"device_id": deviceID, "expired": n}).Debug("superseded in-flight link sessions")
	}

	res, err := s.create(ctx, deviceID, client, now)
	if err != nil {
		s.metrics.LinkStep("start", "error")
		return nil, err
	}
	s.metrics.LinkStep("start", "ok")
	s.logAudit(ctx, audit.Entry{
		Action: auditdomain.ActionLinkStart, Resource: auditdomain.ResourceLink,
		DeviceID: deviceID, IPHash: client.IPHash,
	})
	telemetry.EmitAsync(s.runner, s.events,
		telemetrydomain.NewEvent(telemetrydomain.EventLinkStarted, telemetrySource, "", deviceID, nil))
	return res, nil
}

func (s *Service) create(ctx context.Context, deviceID string, client tokendomain.ClientInfo, now time.Time) (*StartResult, error) {
	for attempt := 0; attempt < s.cfg.MaxCodeAttempts; attempt++ {
		code, err := security.GenerateCode(s.cfg.CodeLength)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "generate link code", err)
		}
		codeHash := security.HashSecret(code)
		inUse, err := s.repo.CodeHashInUse(ctx, codeHash, now)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "check link code", err)
		}
		if inUse {
			continue
		}
		poll, err := security.GenerateOpaqueToken()
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "generate poll token", err)
		}
		sess := &domain.Session{
			ID:            uuid.NewString(),
			DeviceID:      deviceID,
			CodeHash:      codeHash,
			PollTokenHash: security.HashSecret(poll),
			Status:        domain.StatusPending,
			IPHash:        client.IPHash,
			UserAgent:     client.UserAgent,
			ExpiresAt:     now.Add(s.cfg.TTL),
			CreatedAt:     now,
		}
		err = s.repo.Create(ctx, sess)
		if errors.Is(err, repository.ErrCollision) {
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "store link session", err)
		}
		return &StartResult{
			Code:      code,
			PollToken: poll,
			ExpiresIn: int64(s.cfg.TTL / time.Second),
			ExpiresAt: sess.ExpiresAt,
		}, nil
	}
	s.log.WithField("device_id", deviceID).Error("link code space exhausted after retries")
	return nil, ErrCodeSpaceExceeded
}

// Claim binds the session holding code to userID. Called from an authenticated
// web context. Only unknown codes count towards the caller's lockout.
func (s *Service) Claim(ctx context.Context, code, userID string, client tokendomain.ClientInfo) (string, error) {
	deviceID, outcome, err := s.claim(ctx, code, userID, client)
	s.metrics.LinkStep("claim", outcome)
	return deviceID, err
}

func (s *Service) claim(ctx context.Context, code, userID string, client tokendomain.ClientInfo) (string, string, error) {
	code = NormalizeCode(code)
	if code == "" || userID == "" {
		return "", "invalid_input", apperr.New(apperr.InvalidInput, "code and user_id are required")
	}
	lockKey := "ip:" + client.IPHash
	if s.limiters.ClaimFailures != nil {
		if locked, remaining := s.limiters.ClaimFailures.Locked(lockKey); locked {
			s.metrics.RateLimited("link_claim_lockout")
			return "", "locked", &LockedError{RetryAfter: remaining}
		}
	}

	now := s.now().UTC()
	sess, err := s.repo.GetByCodeHash(ctx, security.HashSecret(code))
	if err != nil {
		return "", "error", apperr.Wrap(apperr.Internal, "load link session", err)
	}
	if sess == nil {
		if s.limiters.ClaimFailures != nil && s.limiters.ClaimFailures.RecordFailure(lockKey) {
			s.log.WithField("ip_hash", client.IPHash).Warn("link claim lockout triggered")
		}
		s.logAudit(ctx, audit.Entry{
			Action: auditdomain.ActionLinkClaimFailure, Resource: auditdomain.ResourceLink,
			UserID: userID, IPHash: client.IPHash, Metadata: map[string]any{"reason": "not_found"},
		})
		return "", "not_found", ErrLinkNotFound
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := s.checkClaimable(ctx, sess, userID, now); err != nil {
			return "", outcomeFor(err), err
		}
		if sess.Status == domain.StatusAuthorized {
			// Same user claiming again.
			return sess.DeviceID, "ok", nil
		}
		won, err := s.repo.Authorize(ctx, sess.ID, userID, client.IPHash, client.UserAgent, now)
		if err != nil {
			return "", "error", apperr.Wrap(apperr.Internal, "authorize link session", err)
		}
		if won {
			s.afterClaim(ctx, sess.DeviceID, userID, client)
			return sess.DeviceID, "ok", nil
		}
		// Lost a race; re-read and evaluate the new state once.
		sess, err = s.repo.GetByCodeHash(ctx, sess.CodeHash)
		if err != nil {
			return "", "error", apperr.Wrap(apperr.Internal, "reload link session", err)
		}
		if sess == nil {
			return "", "not_found", ErrLinkNotFound
		}
	}
	return "", "conflict", ErrLinkClaimed
}

// checkClaimable returns nil for a pending session or one already authorized
// by userID. Expired sessions are flipped to expired.
func (s *Service) checkClaimable(ctx context.Context, sess *domain.Session, userID string, now time.Time) error {
	switch {
	case sess.Status == domain.StatusExpired:
		return ErrLinkExpired
	case sess.Status == domain.StatusCompleted:
		return ErrLinkAlreadyUsed
	case sess.Expired(now):
		s.expire(ctx, sess)
		return ErrLinkExpired
	case sess.Status == domain.StatusAuthorized && sess.UserID != userID:
		return ErrLinkClaimed
	}
	return nil
}

func (s *Service) afterClaim(ctx context.Context, deviceID, userID string, client tokendomain.ClientInfo) {
	s.logAudit(ctx, audit.Entry{
		Action: auditdomain.ActionLinkClaim, Resource: auditdomain.ResourceLink,
		UserID: userID, DeviceID: deviceID, IPHash: client.IPHash,
	})
	telemetry.EmitAsync(s.runner, s.events,
		telemetrydomain.NewEvent(telemetrydomain.EventLinkClaimed, telemetrySource, userID, deviceID, nil))
}

// Finish completes an authorized session and issues the device's token pair.
// An unclaimed session yields a pending result, not an error.
func (s *Service) Finish(ctx context.Context, deviceID, pollToken string, client tokendomain.ClientInfo) (*FinishResult, error) {
	res, outcome, err := s.finish(ctx, deviceID, pollToken, client)
	s.metrics.LinkStep("finish", outcome)
	return res, err
}

func (s *Service) finish(ctx context.Context, deviceID, pollToken string, client tokendomain.ClientInfo) (*FinishResult, string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || pollToken == "" {
		return nil, "invalid_input", apperr.New(apperr.InvalidInput, "device_id and poll_token are required")
	}
	now := s.now().UTC()
	sess, err := s.repo.GetByPoll(ctx, deviceID, security.HashSecret(pollToken))
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "load link session", err)
	}
	if sess == nil {
		return nil, "not_found", ErrLinkNotFound
	}
	switch {
	case sess.Status == domain.StatusExpired:
		return nil, "expired", ErrLinkExpired
	case sess.Status == domain.StatusCompleted:
		return nil, "conflict", ErrLinkAlreadyUsed
	case sess.Expired(now):
		s.expire(ctx, sess)
		return nil, "expired", ErrLinkExpired
	case sess.Status == domain.StatusPending:
		return &FinishResult{Pending: true}, "pending", nil
	}

	won, err := s.repo.Complete(ctx, sess.ID, now)
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "complete link session", err)
	}
	if !won {
		return nil, "conflict", ErrLinkAlreadyUsed
	}
	pair, err := s.issuer.IssuePair(ctx, sess.UserID, sess.DeviceID, client)
	if err != nil {
		// The session is spent; the device has to start over.
		s.log.WithError(err).WithFields(logrus.Fields{"device_id": deviceID, "link_id": sess.ID}).
			Error("issue tokens for completed link failed")
		return nil, "error", apperr.Wrap(apperr.Internal, "issue tokens", err)
	}
	s.logAudit(ctx, audit.Entry{
		Action: auditdomain.ActionLinkFinish, Resource: auditdomain.ResourceLink,
		UserID: sess.UserID, DeviceID: sess.DeviceID, IPHash: client.IPHash,
		Metadata: map[string]any{"refresh_token_id": pair.RefreshTokenID},
	})
	telemetry.EmitAsync(s.runner, s.events,
		telemetrydomain.NewEvent(telemetrydomain.EventLinkCompleted, telemetrySource, sess.UserID, sess.DeviceID, nil))
	return &FinishResult{Pair: pair}, "ok", nil
}

// Sweep expires sessions past their TTL and deletes those expired for longer
// than a day.
func (s *Service) Sweep(ctx context.Context) (expired, deleted int64, err error) {
	now := s.now().UTC()
	expired, err = s.repo.ExpireStale(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire stale link sessions: %w", err)
	}
	deleted, err = s.repo.DeleteExpiredBefore(ctx, now.Add(-linkRetention))
	if err != nil {
		return expired, 0, fmt.Errorf("delete old link sessions: %w", err)
	}
	return expired, deleted, nil
}

func (s *Service) expire(ctx context.Context, sess *domain.Session) {
	if _, err := s.repo.Expire(ctx, sess.ID); err != nil {
		s.log.WithError(err).WithField("link_id", sess.ID).Warn("mark link session expired failed")
	}
}

func (s *Service) logAudit(ctx context.Context, e audit.Entry) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, e)
	}
}

func outcomeFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.Expired:
		return "expired"
	case apperr.Conflict:
		return "conflict"
	case apperr.NotFound:
		return "not_found"
	}
	return "error"
}
