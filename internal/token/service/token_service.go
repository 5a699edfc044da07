// Package service issues, verifies and rotates device credentials.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"distrack/backend/internal/audit"
	auditdomain "distrack/backend/internal/audit/domain"
	"distrack/backend/internal/metrics"
	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/security"
	"distrack/backend/internal/telemetry"
	telemetrydomain "distrack/backend/internal/telemetry/domain"
	"distrack/backend/internal/token/domain"
	"distrack/backend/internal/token/repository"
)

var (
	ErrInvalidRefreshToken = apperr.New(apperr.Unauthorized, "invalid or expired refresh token")
	ErrRefreshTokenReuse   = apperr.New(apperr.Unauthorized, "refresh token reuse detected; device sessions revoked")
	ErrInvalidAccessToken  = apperr.New(apperr.Unauthorized, "invalid or expired access token")
	ErrInsufficientScope   = apperr.New(apperr.Forbidden, "token lacks required scope")
)

const telemetrySource = "token"

// Config holds refresh-token policy.
type Config struct {
	RefreshTTL time.Duration
	// ReuseDetection revokes the device's whole chain when a revoked, unexpired token is presented.
	ReuseDetection bool
}

// Service is the token issuer. Access tokens are verified offline; refresh
// tokens are opaque and stored hashed.
type Service struct {
	repo    repository.Repository
	tokens  *security.TokenProvider
	cfg     Config
	audit   audit.AuditLogger
	events  telemetry.EventEmitter
	runner  *async.Runner
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time
}

// Deps holds optional collaborators. Nil fields disable the corresponding side effect.
type Deps struct {
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
	Runner  *async.Runner
	Metrics *metrics.Metrics
	Log     *logrus.Logger
}

// NewService returns a token service.
func NewService(repo repository.Repository, tokens *security.TokenProvider, cfg Config, deps Deps) *Service {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 60 * 24 * time.Hour
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		repo:    repo,
		tokens:  tokens,
		cfg:     cfg,
		audit:   deps.Audit,
		events:  deps.Events,
		runner:  deps.Runner,
		metrics: deps.Metrics,
		log:     log,
		now:     time.Now,
	}
}

// IssuePair revokes every active refresh token of deviceID, then mints a new
// access token and refresh token. The plaintext pair is returned exactly once.
func (s *Service) IssuePair(ctx context.Context, userID, deviceID string, client domain.ClientInfo) (*domain.Pair, error) {
	if userID == "" || deviceID == "" {
		return nil, apperr.New(apperr.InvalidInput, "user_id and device_id are required")
	}
	pair, err := s.issue(ctx, userID, deviceID, client)
	if err != nil {
		s.metrics.TokenOp("issue", "error")
		return nil, err
	}
	s.metrics.TokenOp("issue", "ok")
	return pair, nil
}

func (s *Service) issue(ctx context.Context, userID, deviceID string, client domain.ClientInfo) (*domain.Pair, error) {
	now := s.now().UTC()
	pair, rt, err := s.mint(userID, deviceID, client, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceForDevice(ctx, rt, now); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "store refresh token", err)
	}
	return pair, nil
}

// mint signs an access token and generates a refresh token row for it. Nothing is stored.
func (s *Service) mint(userID, deviceID string, client domain.ClientInfo, now time.Time) (*domain.Pair, *domain.RefreshToken, error) {
	access, _, _, err := s.tokens.WithClock(func() time.Time { return now }).IssueAccess(userID, deviceID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "sign access token", err)
	}
	refresh, err := security.GenerateOpaqueToken()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "generate refresh token", err)
	}
	rt := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		DeviceID:  deviceID,
		TokenHash: security.HashSecret(refresh),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		IPHash:    client.IPHash,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}
	return &domain.Pair{
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresIn:      int64(s.tokens.AccessTTL() / time.Second),
		RefreshTokenID: rt.ID,
	}, rt, nil
}

// VerifyAccess validates an access token offline and checks that it carries scope.
// An empty scope skips the scope check.
func (s *Service) VerifyAccess(token, scope string) (*security.AccessClaims, error) {
	claims, err := s.tokens.ValidateAccess(token)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	if scope != "" && !claims.HasScope(scope) {
		return nil, ErrInsufficientScope
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// revoked and chained to its successor in one repository write, so a failed
// rotation leaves the presented token usable. Presenting a revoked but unexpired
// token is treated as reuse: with ReuseDetection on, every token of the
// device is revoked.
func (s *Service) Rotate(ctx context.Context, deviceID, refreshToken string, client domain.ClientInfo) (*domain.Pair, error) {
	pair, outcome, err := s.rotate(ctx, deviceID, refreshToken, client)
	s.metrics.TokenOp("rotate", outcome)
	return pair, err
}

func (s *Service) rotate(ctx context.Context, deviceID, refreshToken string, client domain.ClientInfo) (*domain.Pair, string, error) {
	if deviceID == "" || refreshToken == "" {
		return nil, "invalid_input", apperr.New(apperr.InvalidInput, "device_id and refresh_token are required")
	}
	now := s.now().UTC()
	stored, err := s.repo.GetByHash(ctx, security.HashSecret(refreshToken))
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "load refresh token", err)
	}
	if stored == nil || stored.DeviceID != deviceID {
		return nil, "invalid", ErrInvalidRefreshToken
	}
	if stored.RevokedAt != nil {
		if !stored.Expired(now) && s.cfg.ReuseDetection {
			s.handleReuse(ctx, stored, now, client)
			return nil, "reuse", ErrRefreshTokenReuse
		}
		return nil, "invalid", ErrInvalidRefreshToken
	}
	if stored.Expired(now) {
		if _, err := s.repo.Revoke(ctx, stored.ID, now); err != nil {
			s.log.WithError(err).WithField("device_id", deviceID).Warn("revoke expired refresh token failed")
		}
		return nil, "expired", ErrInvalidRefreshToken
	}
	pair, next, err := s.mint(stored.UserID, stored.DeviceID, client, now)
	if err != nil {
		return nil, "error", err
	}
	won, err := s.repo.RotateFrom(ctx, stored.ID, next, now)
	if err != nil {
		return nil, "error", apperr.Wrap(apperr.Internal, "rotate refresh token", err)
	}
	if !won {
		return nil, "race", ErrInvalidRefreshToken
	}
	s.logAudit(ctx, audit.Entry{
		Action: auditdomain.ActionTokenRotate, Resource: auditdomain.ResourceRefreshToken,
		UserID: stored.UserID, DeviceID: stored.DeviceID, IPHash: client.IPHash,
		Metadata: map[string]any{"token_id": stored.ID, "successor_id": pair.RefreshTokenID},
	})
	telemetry.EmitAsync(s.runner, s.events,
		telemetrydomain.NewEvent(telemetrydomain.EventTokenRotated, telemetrySource, stored.UserID, stored.DeviceID, nil))
	return pair, "ok", nil
}

func (s *Service) handleReuse(ctx context.Context, stored *domain.RefreshToken, now time.Time, client domain.ClientInfo) {
	n, err := s.repo.RevokeAllForDevice(ctx, stored.DeviceID, now)
	if err != nil {
		s.log.WithError(err).WithField("device_id", stored.DeviceID).Error("revoke device chain after reuse failed")
	}
	s.log.WithFields(logrus.Fields{
		"user_id":   stored.UserID,
		"device_id": stored.DeviceID,
		"token_id":  stored.ID,
		"revoked":   n,
	}).Warn("refresh token reuse detected")
	s.logAudit(ctx, audit.Entry{
		Action: auditdomain.ActionTokenReuse, Resource: auditdomain.ResourceRefreshToken,
		UserID: stored.UserID, DeviceID: stored.DeviceID, IPHash: client.IPHash,
		Metadata: map[string]any{"token_id": stored.ID, "revoked": n},
	})
	telemetry.EmitAsync(s.runner, s.events, telemetrydomain.NewEvent(
		telemetrydomain.EventTokenReuseDetected, telemetrySource, stored.UserID, stored.DeviceID,
		map[string]any{"revoked": n}))
}

// Sweep deletes refresh tokens that expired or were revoked before now-retention.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteStale(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return n, nil
}

func (s *Service) logAudit(ctx context.Context, e audit.Entry) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, e)
	}
}
