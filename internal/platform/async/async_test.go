package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsAndWaits(t *testing.T) {
	r := NewRunner(logrus.New())
	var n int32
	for i := 0; i < 10; i++ {
		r.Go("count", time.Second, func(context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		})
	}
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, int32(10), atomic.LoadInt32(&n))
}

func TestRunner_LogsErrorAndRecoversPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRunner(logger)

	r.Go("fails", time.Second, func(context.Context) error { return errors.New("boom") })
	r.Go("panics", time.Second, func(context.Context) error { panic("bad") })
	require.NoError(t, r.Wait(context.Background()))

	var levels []logrus.Level
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
	}
	assert.Contains(t, levels, logrus.WarnLevel)
	assert.Contains(t, levels, logrus.ErrorLevel)
}

func TestRunner_TaskTimeout(t *testing.T) {
	r := NewRunner(logrus.New())
	var ctxErr atomic.Value
	r.Go("slow", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr.Store(ctx.Err())
		return ctx.Err()
	})
	require.NoError(t, r.Wait(context.Background()))
	assert.ErrorIs(t, ctxErr.Load().(error), context.DeadlineExceeded)
}

func TestRunner_WaitDeadline(t *testing.T) {
	r := NewRunner(logrus.New())
	release := make(chan struct{})
	r.Go("blocked", time.Minute, func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
	close(release)
}

func TestRunner_Nil(t *testing.T) {
	var r *Runner
	r.Go("noop", time.Second, func(context.Context) error { return nil })
	assert.NoError(t, r.Wait(context.Background()))
}
