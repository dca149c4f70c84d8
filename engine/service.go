package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flinkly/core"
	"flinkly/notify"
)

// Job names used by the scheduler, the metrics and the ops API.
const (
	JobSellerLevelUpgrade = "seller_level_upgrade"
	JobWeeklyDigest       = "weekly_digest"
)

// DigestReport summarizes one weekly digest run.
type DigestReport struct {
	RunID      string    `json:"run_id"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service wires the store, classifier, event bus and mailer into the two
// scheduled jobs.
type Service struct {
	store      Store
	classifier core.Classifier
	bus        *EventBus
	mailer     notify.Mailer
	upgrader   *Upgrader
	digests    *Digests
	logger     *slog.Logger
	now        Clock
}

// Options configures NewService. Zero values select defaults.
type Options struct {
	Classifier *core.Classifier
	Digest     DigestOptions
	Logger     *slog.Logger
	Clock      Clock
}

func NewService(store Store, bus *EventBus, mailer notify.Mailer, opts Options) *Service {
	if store == nil || bus == nil || mailer == nil {
		panic("NewService requires non-nil store, bus, and mailer")
	}
	classifier := core.DefaultClassifier()
	if opts.Classifier != nil {
		classifier = *opts.Classifier
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      store,
		classifier: classifier,
		bus:        bus,
		mailer:     mailer,
		upgrader:   NewUpgrader(store, classifier, logger.With("component", "upgrader"), now),
		digests:    NewDigests(store, opts.Digest, logger.With("component", "digest"), now),
		logger:     logger,
		now:        now,
	}
}

// Classifier returns the classifier the service evaluates sellers with.
func (s *Service) Classifier() core.Classifier { return s.classifier }

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// UpgradeAllSellers runs the batch classification without publishing
// anything.
func (s *Service) UpgradeAllSellers(ctx context.Context) (UpgradeReport, error) {
	return s.upgrader.UpgradeAllSellers(ctx)
}

// UpgradeSellerLevels runs the batch classification and then publishes one
// seller_level_up event per applied transition. Notification side effects
// live in the subscribers.
func (s *Service) UpgradeSellerLevels(ctx context.Context) (UpgradeReport, error) {
	report, err := s.upgrader.UpgradeAllSellers(ctx)
	for _, t := range report.Transitions {
		s.bus.Publish(ctx, core.NewLevelUp(t, report.RunID))
	}
	s.bus.Publish(ctx, core.NewJobFinished(JobSellerLevelUpgrade, report.RunID, map[string]any{
		"scanned":  report.Scanned,
		"upgraded": report.Count(),
		"failed":   len(report.Failures),
	}))
	return report, err
}

func (s *Service) GetDigestRecipients(ctx context.Context) ([]core.UserID, error) {
	return s.digests.GetDigestRecipients(ctx)
}

func (s *Service) AggregateDigestContent(ctx context.Context, user core.UserID) (*core.DigestData, error) {
	return s.digests.AggregateDigestContent(ctx, user)
}

// SendWeeklyDigests aggregates and mails the digest to every recipient.
// Failures are isolated per recipient and counted in the report.
func (s *Service) SendWeeklyDigests(ctx context.Context) (DigestReport, error) {
	report := DigestReport{RunID: uuid.NewString(), StartedAt: s.now().UTC()}
	logger := s.logger.With("run_id", report.RunID)

	recipients, err := s.digests.GetDigestRecipients(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load digest recipients", "error", err)
		report.FinishedAt = s.now().UTC()
		return report, err
	}
	report.Recipients = len(recipients)
	logger.InfoContext(ctx, "found digest recipients", "count", len(recipients))

	for _, user := range recipients {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.now().UTC()
			return report, err
		}
		if err := s.sendDigest(ctx, user); err != nil {
			if errors.Is(err, errSkipDigest) {
				report.Skipped++
				continue
			}
			logger.ErrorContext(ctx, "failed to send digest", "user_id", user, "error", err)
			report.Failed++
			s.bus.Publish(ctx, core.NewDigestFailed(user, report.RunID, err))
			continue
		}
		report.Sent++
		s.bus.Publish(ctx, core.NewDigestSent(user, report.RunID))
	}

	report.FinishedAt = s.now().UTC()
	logger.InfoContext(ctx, "weekly digest send completed",
		"sent", report.Sent, "skipped", report.Skipped, "failed", report.Failed)
	s.bus.Publish(ctx, core.NewJobFinished(JobWeeklyDigest, report.RunID, map[string]any{
		"recipients": report.Recipients,
		"sent":       report.Sent,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
	}))
	return report, nil
}

var errSkipDigest = errors.New("digest skipped")

func (s *Service) sendDigest(ctx context.Context, user core.UserID) error {
	data, err := s.digests.AggregateDigestContent(ctx, user)
	if err != nil {
		return err
	}
	if data == nil {
		s.logger.WarnContext(ctx, "no digest data for user", "user_id", user)
		return errSkipDigest
	}
	if data.Email == "" {
		s.logger.WarnContext(ctx, "digest recipient has no email", "user_id", user)
		return errSkipDigest
	}
	return s.mailer.Send(ctx, notify.DigestMessage(*data))
}

// Close releases the event bus.
func (s *Service) Close() { s.bus.Close() }
