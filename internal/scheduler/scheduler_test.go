package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsJobsOnTick(t *testing.T) {
	s := New(quietLogger())
	var runs atomic.Int32
	s.Add(Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	assert.Equal(t, 1, s.Len())

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Running())
}

func TestScheduler_StopEndsLoops(t *testing.T) {
	s := New(quietLogger())
	var runs atomic.Int32
	s.Add(Job{Name: "stop", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	assert.Zero(t, s.Running())
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")

	s.Stop() // idempotent
}

func TestScheduler_ContextCancelEndsLoops(t *testing.T) {
	s := New(quietLogger())
	s.Add(Job{Name: "ctx", Interval: time.Hour, Run: func(context.Context) error { return nil }})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, time.Millisecond)
}

func TestScheduler_RecoversFromPanics(t *testing.T) {
	s := New(quietLogger())
	var calls atomic.Int32
	s.Add(Job{Name: "panicky", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}})
	s.Add(Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		return errors.New("upstream down")
	}})
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond,
		"job keeps its schedule after a panic")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(jobRuns.WithLabelValues("failing", "error")) >= 1
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobRuns.WithLabelValues("panicky", "panic")), float64(1))
	assert.Equal(t, 2, s.Running())
}
