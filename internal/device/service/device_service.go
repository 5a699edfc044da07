// Package service records device activity. Updates are advisory and never
// fail the request that triggered them.
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/device/domain"
	"distrack/backend/internal/device/repository"
	"distrack/backend/internal/platform/async"
	"distrack/backend/internal/platform/textutil"
	"distrack/backend/internal/security"
)

// touchTimeout bounds a single background upsert.
const touchTimeout = 5 * time.Second

// Service updates and reads the device registry.
type Service struct {
	repo   repository.Repository
	runner *async.Runner
	log    *logrus.Logger
	now    func() time.Time
}

// NewService returns a device service. runner may be nil, in which case Touch
// writes synchronously.
func NewService(repo repository.Repository, runner *async.Runner, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{repo: repo, runner: runner, log: log, now: time.Now}
}

// Touch records that deviceID was seen for userID from clientIP. The IP is
// stored hashed. Failures are logged and dropped.
func (s *Service) Touch(userID, deviceID, clientIP, userAgent string) {
	if s == nil || s.repo == nil || userID == "" || deviceID == "" {
		return
	}
	d := &domain.Device{
		DeviceID:   deviceID,
		UserID:     userID,
		LastSeenAt: s.now().UTC(),
		LastIPHash: security.HashIP(clientIP),
		UserAgent:  textutil.Clip(userAgent, 512),
	}
	if s.runner == nil {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.Upsert(ctx, d); err != nil {
			s.log.WithError(err).WithField("device_id", deviceID).Warn("device upsert failed")
		}
		return
	}
	s.runner.Go("device.touch", touchTimeout, func(ctx context.Context) error {
		return s.repo.Upsert(ctx, d)
	})
}

// Get returns the device or nil if unknown.
func (s *Service) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	return s.repo.GetByID(ctx, deviceID)
}

// ListForUser returns the devices last seen for userID.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	return s.repo.ListByUser(ctx, userID)
}
