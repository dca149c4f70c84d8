package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flinkly/engine"
)

func newTestScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

type runnerStub struct {
	upgrades atomic.Int32
	digests  atomic.Int32
	err      error
}

func (r *runnerStub) UpgradeSellerLevels(context.Context) (engine.UpgradeReport, error) {
	r.upgrades.Add(1)
	return engine.UpgradeReport{RunID: "up-1", Scanned: 4}, r.err
}

func (r *runnerStub) SendWeeklyDigests(context.Context) (engine.DigestReport, error) {
	r.digests.Add(1)
	return engine.DigestReport{RunID: "dg-1", Recipients: 3, Sent: 2, Skipped: 1}, r.err
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New(Options{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestJobsReportNextFireTimeInBerlin(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, berlin)
	s := newTestScheduler(t, Options{Clock: func() time.Time { return now }})
	require.NoError(t, s.RegisterAll(ServiceJobs(&runnerStub{}, DefaultTimetable())))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, engine.JobSellerLevelUpgrade, jobs[0].Name)
	assert.Equal(t, engine.JobWeeklyDigest, jobs[1].Name)

	// daily at 03:00 local
	assert.Equal(t, time.Date(2026, 10, 20, 3, 0, 0, 0, berlin).Unix(), jobs[0].Next.Unix())
	// next Monday 09:00 local, after the switch to winter time
	next := jobs[1].Next
	assert.Equal(t, time.Date(2026, 10, 26, 9, 0, 0, 0, berlin).Unix(), next.Unix())
	assert.Equal(t, 8, next.UTC().Hour())
}

func TestRegisterRejectsBadSpecAndDuplicates(t *testing.T) {
	s := newTestScheduler(t, Options{})
	noop := func(context.Context) (map[string]any, error) { return nil, nil }

	require.Error(t, s.Register(Job{Name: "bad", Spec: "every tuesday", Run: noop}))
	require.NoError(t, s.Register(Job{Name: "ok", Spec: "*/5 * * * *", Run: noop}))
	require.ErrorIs(t, s.Register(Job{Name: "ok", Run: noop}), ErrDuplicateJob)
	require.Error(t, s.Register(Job{Name: "nil-run"}))
}

func TestRunNowRecordsHistoryAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := newTestScheduler(t, Options{Metrics: metrics})
	runner := &runnerStub{}
	require.NoError(t, s.RegisterAll(ServiceJobs(runner, DefaultTimetable())))

	rec, err := s.RunNow(context.Background(), engine.JobWeeklyDigest)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, TriggerManual, rec.Trigger)
	assert.Equal(t, 2, rec.Summary["sent"])
	assert.Equal(t, int32(1), runner.digests.Load())

	hist, err := s.History(context.Background(), engine.JobWeeklyDigest, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, rec.RunID, hist[0].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(engine.JobWeeklyDigest, TriggerManual, StatusSucceeded)))
}

func TestRunNowPropagatesJobError(t *testing.T) {
	s := newTestScheduler(t, Options{})
	runner := &runnerStub{err: errors.New("db gone")}
	require.NoError(t, s.RegisterAll(ServiceJobs(runner, DefaultTimetable())))

	rec, err := s.RunNow(context.Background(), engine.JobSellerLevelUpgrade)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "db gone", rec.Error)
	assert.Equal(t, 4, rec.Summary["scanned"])
}

func TestRunNowUnknownJob(t *testing.T) {
	s := newTestScheduler(t, Options{})
	_, err := s.RunNow(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownJob)
	_, err = s.History(context.Background(), "nope", 1)
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunNowSkipsWhenLockHeld(t *testing.T) {
	locker := NewLocalLocker()
	s := newTestScheduler(t, Options{Locker: locker})
	runner := &runnerStub{}
	require.NoError(t, s.RegisterAll(ServiceJobs(runner, DefaultTimetable())))

	release, ok, err := locker.Acquire(context.Background(), lockKeyPrefix+engine.JobSellerLevelUpgrade, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.RunNow(context.Background(), engine.JobSellerLevelUpgrade)
	require.ErrorIs(t, err, ErrJobLocked)
	assert.Equal(t, StatusSkippedLocked, rec.Status)
	assert.Equal(t, int32(0), runner.upgrades.Load())

	require.NoError(t, release(context.Background()))
	_, err = s.RunNow(context.Background(), engine.JobSellerLevelUpgrade)
	require.NoError(t, err)
	assert.Equal(t, int32(1), runner.upgrades.Load())
}

func TestRunNowRecoversPanics(t *testing.T) {
	s := newTestScheduler(t, Options{})
	require.NoError(t, s.Register(Job{Name: "boom", Run: func(context.Context) (map[string]any, error) {
		panic("kaputt")
	}}))

	rec, err := s.RunNow(context.Background(), "boom")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "kaputt")

	// the lock was released
	_, err = s.RunNow(context.Background(), "boom")
	assert.NotErrorIs(t, err, ErrJobLocked)
}

func TestMemoryHistoryKeepsNewestFirst(t *testing.T) {
	h := NewMemoryHistory(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Record(ctx, RunRecord{Job: "j", RunID: id}))
	}
	runs, err := h.Recent(ctx, "j", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	_, ok, _ := l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.Acquire(ctx, "k", time.Minute)
	require.True(t, ok)
}

func TestRunNowAppliesJobTimeout(t *testing.T) {
	s := newTestScheduler(t, Options{})
	require.NoError(t, s.Register(Job{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	var deadline bool
	require.NoError(t, s.Register(Job{
		Name: "unbounded",
		Run: func(ctx context.Context) (map[string]any, error) {
			_, deadline = ctx.Deadline()
			return nil, nil
		},
	}))

	rec, err := s.RunNow(context.Background(), "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, rec.Status)

	_, err = s.RunNow(context.Background(), "unbounded")
	require.NoError(t, err)
	assert.False(t, deadline)
}
