// Package webhook posts link notifications to a Discord-compatible webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/telemetry/domain"
	userdomain "distrack/backend/internal/user/domain"
)

// embedColor is the accent of link embeds.
const embedColor = 0x5865F2

// attemptTimeout bounds one POST. Every default attempt plus its backoff
// must fit inside the async emit budget.
const attemptTimeout = time.Second

// UserReader loads the aggregates shown in the notification.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp string       `json:"timestamp"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// Notifier implements telemetry.EventEmitter for link.claimed events; other
// event types are ignored.
type Notifier struct {
	url     string
	http    *http.Client
	users   UserReader
	policy  *RetryPolicy
	log     *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	timeout time.Duration
}

// NewNotifier returns a notifier posting to url, or nil if url is empty.
// users may be nil; aggregates are then omitted.
func NewNotifier(url string, users UserReader, policy *RetryPolicy, log *logrus.Logger) *Notifier {
	if url == "" {
		return nil
	}
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		url:     url,
		http:    &http.Client{},
		users:   users,
		policy:  policy,
		log:     log,
		sleep:   sleepCtx,
		timeout: attemptTimeout,
	}
}

// Emit posts the event, retrying with backoff until the policy gives up or ctx ends.
func (n *Notifier) Emit(ctx context.Context, event *domain.Event) error {
	if n == nil || event == nil || event.Type != domain.EventLinkClaimed {
		return nil
	}
	body, err := json.Marshal(n.buildPayload(ctx, event))
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err = n.post(ctx, body)
		if !n.policy.ShouldRetry(attempt, err) {
			break
		}
		delay := n.policy.NextRetryDelay(attempt)
		n.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": delay}).
			Debug("link webhook delivery failed")
		if serr := n.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("link webhook: %w (last error: %v)", serr, err)
		}
	}
	if err != nil {
		return fmt.Errorf("link webhook: %w", err)
	}
	return nil
}

func (n *Notifier) buildPayload(ctx context.Context, event *domain.Event) payload {
	fields := []embedField{
		{Name: "User", Value: event.UserID, Inline: true},
		{Name: "Device", Value: event.DeviceID, Inline: true},
	}
	if n.users != nil && event.UserID != "" {
		if u, err := n.users.GetByID(ctx, event.UserID); err == nil && u != nil {
			fields = append(fields,
				embedField{Name: "Total coding time", Value: formatDuration(u.TotalCodingSeconds), Inline: true},
				embedField{Name: "Current streak", Value: strconv.Itoa(u.CurrentStreak) + " days", Inline: true},
			)
		}
	}
	return payload{Embeds: []embed{{
		Title:     "Editor linked",
		Color:     embedColor,
		Fields:    fields,
		Timestamp: event.CreatedAt.UTC().Format(time.RFC3339),
	}}}
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func formatDuration(secs int64) string {
	h := secs / 3600
	m := (secs % 3600) / 60
	return fmt.Sprintf("%dh %dm", h, m)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
