// Package sellers assembles an engine.Service with its event subscribers.
// It is the entry point for embedding the seller level and digest jobs.
package sellers

import (
	"log/slog"

	mem "flinkly/adapters/memory"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/notify"
	"flinkly/realtime"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	store         engine.Store
	mailer        notify.Mailer
	mode          engine.DispatchMode
	requirements  core.Requirements
	digest        engine.DigestOptions
	hub           *realtime.Hub
	levelUpEmails bool
	handlers      map[core.EventType][]engine.Handler
	logger        *slog.Logger
	clock         engine.Clock
}

// WithStore sets the persistence adapter.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithMailer sets the delivery facility for digest and level-up mails.
func WithMailer(m notify.Mailer) Option { return func(c *config) { c.mailer = m } }

// WithRequirements replaces the level threshold table.
func WithRequirements(r core.Requirements) Option { return func(c *config) { c.requirements = r } }

// WithDigestOptions tunes the digest window and list sizes.
func WithDigestOptions(o engine.DigestOptions) Option { return func(c *config) { c.digest = o } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLevelUpEmails toggles the congratulation mail on upgrades.
func WithLevelUpEmails(on bool) Option { return func(c *config) { c.levelUpEmails = on } }

// WithHandler subscribes an extra handler to the given event types.
func WithHandler(h engine.Handler, types ...core.EventType) Option {
	return func(c *config) {
		for _, t := range types {
			c.handlers[t] = append(c.handlers[t], h)
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithClock(clock engine.Clock) Option { return func(c *config) { c.clock = clock } }

// AllEvents lists every event type the service publishes.
var AllEvents = []core.EventType{core.EventSellerLevelUp, core.EventDigestSent, core.EventDigestFailed, core.EventJobFinished}

// New builds a configured Service. If not provided, defaults are used:
//   - store: in-memory
//   - mailer: log only
//   - requirements: core.DefaultRequirements
//   - dispatch: async
//   - level-up emails: on
//
// The requirement table must be valid; New returns an error otherwise.
func New(opts ...Option) (*engine.Service, error) {
	cfg := &config{
		mode:          engine.DispatchAsync,
		levelUpEmails: true,
		handlers:      map[core.EventType][]engine.Handler{},
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.store == nil {
		cfg.store = mem.New()
	}
	if cfg.mailer == nil {
		cfg.mailer = notify.LogMailer{Logger: cfg.logger}
	}
	classifier := core.DefaultClassifier()
	if cfg.requirements != nil {
		if err := cfg.requirements.Validate(); err != nil {
			return nil, err
		}
		classifier = core.NewClassifier(cfg.requirements)
	}

	bus := engine.NewEventBus(cfg.mode, cfg.logger.With("component", "eventbus"))
	svc := engine.NewService(cfg.store, bus, cfg.mailer, engine.Options{
		Classifier: &classifier,
		Digest:     cfg.digest,
		Logger:     cfg.logger,
		Clock:      cfg.clock,
	})
	if cfg.levelUpEmails {
		n := notify.NewLevelUpNotifier(cfg.mailer, cfg.logger.With("component", "notifier"))
		bus.Subscribe(core.EventSellerLevelUp, n.Handle)
	}
	if cfg.hub != nil {
		for _, t := range AllEvents {
			bus.Subscribe(t, cfg.hub.Broadcast)
		}
	}
	for t, hs := range cfg.handlers {
		for _, h := range hs {
			bus.Subscribe(t, h)
		}
	}
	return svc, nil
}
