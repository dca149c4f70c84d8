package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"flinkly/core"
)

// Collector exports domain events as Prometheus counters.
type Collector struct {
	levelUps *prometheus.CounterVec
	digests  *prometheus.CounterVec
	events   *prometheus.CounterVec
}

// NewCollector registers the event counters on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		levelUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flinkly",
			Name:      "seller_level_ups_total",
			Help:      "Applied seller level upgrades by previous and new level.",
		}, []string{"from", "to"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flinkly",
			Name:      "weekly_digests_total",
			Help:      "Weekly digest deliveries by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flinkly",
			Name:      "domain_events_total",
			Help:      "Published domain events by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(c.levelUps, c.digests, c.events)
	}
	return c
}

// OnEvent is an event bus handler.
func (c *Collector) OnEvent(_ context.Context, e core.Event) {
	c.events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case core.EventSellerLevelUp:
		c.levelUps.WithLabelValues(string(e.From), string(e.To)).Inc()
	case core.EventDigestSent:
		c.digests.WithLabelValues("sent").Inc()
	case core.EventDigestFailed:
		c.digests.WithLabelValues("failed").Inc()
	}
}

// Bridge fans one event out to several handlers.
type Bridge struct {
	hooks []func(context.Context, core.Event)
}

func NewBridge(hooks ...func(context.Context, core.Event)) *Bridge { return &Bridge{hooks: hooks} }

func (b *Bridge) OnEvent(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h(ctx, e)
	}
}
