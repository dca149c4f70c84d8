package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flinkly/scheduler"
)

// History stores scheduler run records in a capped list per job.
type History struct {
	rdb   *redis.Client
	limit int64
	ttl   time.Duration
}

func NewHistory(rdb *redis.Client, limit int64, ttl time.Duration) *History {
	if limit <= 0 {
		limit = 50
	}
	return &History{rdb: rdb, limit: limit, ttl: ttl}
}

func runsKey(job string) string { return "flinkly:runs:" + job }

func (h *History) Record(ctx context.Context, rec scheduler.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	key := runsKey(rec.Job)
	_, err = h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, h.limit-1)
		if h.ttl > 0 {
			p.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all
// stored runs.
func (h *History) Recent(ctx context.Context, job string, limit int) ([]scheduler.RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := h.rdb.LRange(ctx, runsKey(job), 0, stop).Result()
	if err == redis.Nil {
		return []scheduler.RunRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load runs of %s: %w", job, err)
	}
	out := make([]scheduler.RunRecord, 0, len(raw))
	for _, item := range raw {
		var rec scheduler.RunRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode run of %s: %w", job, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

var (
	_ scheduler.Locker  = (*Locker)(nil)
	_ scheduler.History = (*History)(nil)
)
