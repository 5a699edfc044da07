package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distrack/backend/internal/telemetry"
	"distrack/backend/internal/telemetry/domain"
	userdomain "distrack/backend/internal/user/domain"
)

type stubUsers map[string]*userdomain.User

func (s stubUsers) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	return s[id], nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestNotifier_PostsEmbed(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	users := stubUsers{"u1": {ID: "u1", TotalCodingSeconds: 3*3600 + 25*60, CurrentStreak: 4}}
	n := NewNotifier(srv.URL, users, nil, logrus.New())
	require.NoError(t, n.Emit(context.Background(), domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil)))

	require.Len(t, got.Embeds, 1)
	values := map[string]string{}
	for _, f := range got.Embeds[0].Fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "u1", values["User"])
	assert.Equal(t, "d1", values["Device"])
	assert.Equal(t, "3h 25m", values["Total coding time"])
	assert.Equal(t, "4 days", values["Current streak"])
}

func TestNotifier_IgnoresOtherEvents(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, nil, nil, logrus.New())
	require.NoError(t, n.Emit(context.Background(), domain.NewEvent(domain.EventSessionIngested, "ingest", "u1", "d1", nil)))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestNotifier_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, nil, nil, logrus.New())
	n.sleep = noSleep
	require.NoError(t, n.Emit(context.Background(), domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, nil, nil, logrus.New())
	n.sleep = noSleep
	err := n.Emit(context.Background(), domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil))
	assert.ErrorContains(t, err, "500")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNewNotifier_EmptyURL(t *testing.T) {
	n := NewNotifier("", nil, nil, nil)
	assert.Nil(t, n)
	assert.NoError(t, n.Emit(context.Background(), domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil)))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, 500*time.Millisecond, p.NextRetryDelay(1))
	assert.Equal(t, time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(3))
	assert.Equal(t, 5*time.Second, p.NextRetryDelay(10))
	assert.True(t, p.ShouldRetry(2, assert.AnError))
	assert.False(t, p.ShouldRetry(3, assert.AnError))
	assert.False(t, p.ShouldRetry(1, nil))
}

func TestNotifier_RetriesAfterHungAttempt(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	defer close(release)

	n := NewNotifier(srv.URL, nil, nil, logrus.New())
	n.sleep = noSleep
	n.timeout = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Emit(ctx, domain.NewEvent(domain.EventLinkClaimed, "link", "u1", "d1", nil)))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifier_DefaultRetriesFitEmitBudget(t *testing.T) {
	cfg := DefaultRetryConfig()
	p := NewRetryPolicy(cfg)
	worst := time.Duration(cfg.MaxAttempts) * attemptTimeout
	for attempt := 1; attempt < cfg.MaxAttempts; attempt++ {
		worst += p.NextRetryDelay(attempt)
	}
	assert.Less(t, worst, telemetry.ShutdownDrainDuration)
}
