// Package analytics turns seller domain events into Prometheus metrics and
// an in-memory activity summary served by the ops API.
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flinkly/core"
)

// ActivityStats tracks level ups and digest outcomes per day and week.
type ActivityStats struct {
	mu sync.RWMutex

	levelUpsByDay    map[string]int64
	levelUpsByTarget map[core.SellerLevel]int64
	digestsByWeek    map[string]digestCounts
	lastRuns         map[string]JobSummary
}

type digestCounts struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// JobSummary is the metadata of the most recent job_finished event.
type JobSummary struct {
	RunID    string         `json:"run_id"`
	Finished time.Time      `json:"finished"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewActivityStats() *ActivityStats {
	return &ActivityStats{
		levelUpsByDay:    make(map[string]int64),
		levelUpsByTarget: make(map[core.SellerLevel]int64),
		digestsByWeek:    make(map[string]digestCounts),
		lastRuns:         make(map[string]JobSummary),
	}
}

// OnEvent is an event bus handler.
func (a *ActivityStats) OnEvent(_ context.Context, e core.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e.Type {
	case core.EventSellerLevelUp:
		a.levelUpsByDay[dayKey(e.Time)]++
		a.levelUpsByTarget[e.To]++
	case core.EventDigestSent:
		c := a.digestsByWeek[weekKey(e.Time)]
		c.Sent++
		a.digestsByWeek[weekKey(e.Time)] = c
	case core.EventDigestFailed:
		c := a.digestsByWeek[weekKey(e.Time)]
		c.Failed++
		a.digestsByWeek[weekKey(e.Time)] = c
	case core.EventJobFinished:
		a.lastRuns[e.Job] = JobSummary{RunID: e.RunID, Finished: e.Time, Metadata: e.Metadata}
	}
}

func (a *ActivityStats) LevelUpsOn(day time.Time) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.levelUpsByDay[dayKey(day)]
}

// DigestsInWeek returns sent and failed digests of the ISO week containing t.
func (a *ActivityStats) DigestsInWeek(t time.Time) (sent, failed int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := a.digestsByWeek[weekKey(t)]
	return c.Sent, c.Failed
}

// Snapshot is a JSON friendly copy of the counters.
type Snapshot struct {
	LevelUpsByDay    map[string]int64           `json:"level_ups_by_day"`
	LevelUpsByTarget map[core.SellerLevel]int64 `json:"level_ups_by_target"`
	DigestsByWeek    map[string]digestCounts    `json:"digests_by_week"`
	LastRuns         map[string]JobSummary      `json:"last_runs"`
}

func (a *ActivityStats) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := Snapshot{
		LevelUpsByDay:    make(map[string]int64, len(a.levelUpsByDay)),
		LevelUpsByTarget: make(map[core.SellerLevel]int64, len(a.levelUpsByTarget)),
		DigestsByWeek:    make(map[string]digestCounts, len(a.digestsByWeek)),
		LastRuns:         make(map[string]JobSummary, len(a.lastRuns)),
	}
	for k, v := range a.levelUpsByDay {
		s.LevelUpsByDay[k] = v
	}
	for k, v := range a.levelUpsByTarget {
		s.LevelUpsByTarget[k] = v
	}
	for k, v := range a.digestsByWeek {
		s.DigestsByWeek[k] = v
	}
	for k, v := range a.lastRuns {
		s.LastRuns[k] = v
	}
	return s
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
