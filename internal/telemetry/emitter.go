// Package telemetry fans pipeline events out to best-effort sinks.
package telemetry

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"distrack/backend/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event *domain.Event) error

func (f EmitterFunc) Emit(ctx context.Context, event *domain.Event) error { return f(ctx, event) }

// Multi sends every event to all emitters concurrently. Nil entries are skipped.
// The returned error joins the failures of individual emitters.
type Multi []EventEmitter

func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, em := range m {
		if em == nil {
			continue
		}
		g.Go(func() error {
			errs[i] = em.Emit(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
