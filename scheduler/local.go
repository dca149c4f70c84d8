package scheduler

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker for single instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a lock that expired and was re-acquired belongs to someone else
		if cur, ok := l.held[key]; ok && cur.Equal(exp) {
			delete(l.held, key)
		}
		return nil
	}, true, nil
}

// MemoryHistory keeps the last N runs per job in memory.
type MemoryHistory struct {
	mu    sync.RWMutex
	limit int
	runs  map[string][]RunRecord
}

func NewMemoryHistory(perJob int) *MemoryHistory {
	if perJob <= 0 {
		perJob = defaultHistoryPerJob
	}
	return &MemoryHistory{limit: perJob, runs: make(map[string][]RunRecord)}
}

func (h *MemoryHistory) Record(_ context.Context, rec RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := append([]RunRecord{rec}, h.runs[rec.Job]...)
	if len(runs) > h.limit {
		runs = runs[:h.limit]
	}
	h.runs[rec.Job] = runs
	return nil
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (h *MemoryHistory) Recent(_ context.Context, job string, limit int) ([]RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := h.runs[job]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return append([]RunRecord{}, runs...), nil
}
