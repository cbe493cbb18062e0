package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddRejectsInvalidSchedule(t *testing.T) {
	s := New(quietLogger())
	err := s.Add(context.Background(), Job{Name: "bad", Schedule: "not a cron", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestAddSkipsEmptySchedule(t *testing.T) {
	s := New(quietLogger())
	require.NoError(t, s.Add(context.Background(), Job{Name: "off", Run: func(context.Context) error { return nil }}))
	_, ok := s.NextRun("off")
	assert.False(t, ok)
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	s := New(quietLogger())
	job := Job{Name: "reset", Schedule: "0 0 1 * *", Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(context.Background(), job))
	require.Error(t, s.Add(context.Background(), job))
}

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	s := New(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs, failures atomic.Int32
	require.NoError(t, s.Add(ctx, Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	require.NoError(t, s.Add(ctx, Job{Name: "fail", Schedule: "@every 1s", Run: func(context.Context) error {
		failures.Add(1)
		return errors.New("boom")
	}}))

	s.Start(ctx)
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return runs.Load() > 0 && failures.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	next, ok := s.NextRun("tick")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, 5*time.Second, 20*time.Millisecond)
}
