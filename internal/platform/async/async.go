// Package async runs best-effort background work off the request path.
package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner starts detached tasks with panic recovery and a per-task timeout.
// Tasks use a background context so request cancellation does not abort them.
// Wait blocks until in-flight tasks finish, for use during shutdown.
type Runner struct {
	log *logrus.Logger
	wg  sync.WaitGroup
}

// NewRunner returns a Runner that logs task failures to log.
func NewRunner(log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{log: log}
}

// Go runs fn in a goroutine. Errors and panics are logged, never propagated.
// A nil Runner runs nothing.
func (r *Runner) Go(task string, timeout time.Duration, fn func(context.Context) error) {
	if r == nil || fn == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{
					"task":  task,
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("async task panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			r.log.WithError(err).WithField("task", task).Warn("async task failed")
		}
	}()
}

// Wait blocks until all started tasks return or ctx is done.
// It returns ctx.Err() if the deadline was hit first.
func (r *Runner) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
