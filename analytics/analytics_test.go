package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flinkly/core"
)

func levelUp(user core.UserID, from, to core.SellerLevel, at time.Time) core.Event {
	return core.NewLevelUp(core.Transition{UserID: user, From: from, To: to, At: at}, "run-1")
}

func TestActivityStats_OnEvent(t *testing.T) {
	stats := NewActivityStats()
	ctx := context.Background()
	monday := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)

	stats.OnEvent(ctx, levelUp(1, core.LevelNew, core.LevelRising, monday))
	stats.OnEvent(ctx, levelUp(2, core.LevelNew, core.LevelTopRated, monday))
	stats.OnEvent(ctx, levelUp(3, core.LevelRising, core.LevelOne, monday.Add(24*time.Hour)))

	sent := core.NewDigestSent(1, "run-2")
	sent.Time = monday.Add(8 * time.Hour)
	failed := core.NewDigestFailed(2, "run-2", assert.AnError)
	failed.Time = monday.Add(8 * time.Hour)
	stats.OnEvent(ctx, sent)
	stats.OnEvent(ctx, sent)
	stats.OnEvent(ctx, failed)

	job := core.NewJobFinished("weekly_digest", "run-2", map[string]any{"sent": 2})
	stats.OnEvent(ctx, job)

	assert.Equal(t, int64(2), stats.LevelUpsOn(monday))
	assert.Equal(t, int64(1), stats.LevelUpsOn(monday.Add(24*time.Hour)))

	s, f := stats.DigestsInWeek(monday.Add(72 * time.Hour))
	assert.Equal(t, int64(2), s)
	assert.Equal(t, int64(1), f)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.LevelUpsByTarget[core.LevelTopRated])
	require.Contains(t, snap.LastRuns, "weekly_digest")
	assert.Equal(t, "run-2", snap.LastRuns["weekly_digest"].RunID)
	assert.Contains(t, snap.DigestsByWeek, "2026-W43")
}

func TestSnapshotIsACopy(t *testing.T) {
	stats := NewActivityStats()
	stats.OnEvent(context.Background(), levelUp(1, core.LevelNew, core.LevelRising, time.Now()))
	snap := stats.Snapshot()
	for k := range snap.LevelUpsByDay {
		snap.LevelUpsByDay[k] = 99
	}
	assert.Equal(t, int64(1), stats.LevelUpsOn(time.Now()))
}

func TestCollector_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	ctx := context.Background()

	c.OnEvent(ctx, levelUp(1, core.LevelNew, core.LevelOne, time.Now()))
	c.OnEvent(ctx, core.NewDigestSent(1, "r"))
	c.OnEvent(ctx, core.NewDigestFailed(2, "r", assert.AnError))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.levelUps.WithLabelValues("new", "level_one")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.digests.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.digests.WithLabelValues("failed")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.events))
}

func TestBridge_FansOut(t *testing.T) {
	var a, b int
	bridge := NewBridge(
		func(context.Context, core.Event) { a++ },
		func(context.Context, core.Event) { b++ },
	)
	bridge.OnEvent(context.Background(), core.NewDigestSent(1, "r"))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
