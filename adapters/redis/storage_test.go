package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flinkly/scheduler"
)

// newTestClient spins up a miniredis server and returns a client plus the server.
func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	rdb, _ := newTestClient(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "flinkly:job:weekly_digest", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, "flinkly:job:weekly_digest", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the lock")

	require.NoError(t, release(ctx))
	_, ok, err = locker.Acquire(ctx, "flinkly:job:weekly_digest", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	rdb, mr := newTestClient(t)
	locker := NewLocker(rdb)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, release(ctx), ErrLockLost)
	assert.True(t, mr.Exists("k"))
}

func TestHistory_RecordAndRecent(t *testing.T) {
	rdb, mr := newTestClient(t)
	h := NewHistory(rdb, 2, time.Hour)
	ctx := context.Background()
	started := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, h.Record(ctx, scheduler.RunRecord{
			Job:        "seller_level_upgrade",
			RunID:      id,
			Status:     scheduler.StatusSucceeded,
			StartedAt:  started.Add(time.Duration(i) * time.Hour),
			FinishedAt: started.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	runs, err := h.Recent(ctx, "seller_level_upgrade", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
	assert.Equal(t, time.Minute, runs[0].Duration())

	runs, err = h.Recent(ctx, "seller_level_upgrade", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.True(t, mr.TTL(runsKey("seller_level_upgrade")) > 0)

	runs, err = h.Recent(ctx, "weekly_digest", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSchedulerWithRedisLock(t *testing.T) {
	rdb, _ := newTestClient(t)
	c := NewWithClient(rdb, DefaultConfig())
	s, err := scheduler.New(scheduler.Options{Locker: c.Locker, History: c.History})
	require.NoError(t, err)
	defer s.Stop(context.Background())

	calls := 0
	require.NoError(t, s.Register(scheduler.Job{Name: "weekly_digest", Run: func(context.Context) (map[string]any, error) {
		calls++
		return map[string]any{"sent": 1}, nil
	}}))

	_, ok, err := c.Locker.Acquire(context.Background(), "flinkly:job:weekly_digest", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := s.RunNow(context.Background(), "weekly_digest")
	assert.ErrorIs(t, err, scheduler.ErrJobLocked)
	assert.Equal(t, scheduler.StatusSkippedLocked, rec.Status)
	assert.Equal(t, 0, calls)

	runs, err := s.History(context.Background(), "weekly_digest", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
