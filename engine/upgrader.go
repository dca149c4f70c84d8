package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flinkly/core"
)

// RecordFailure is a seller whose upgrade could not be persisted.
type RecordFailure struct {
	UserID core.UserID      `json:"user_id"`
	Target core.SellerLevel `json:"target"`
	Err    string           `json:"error"`
}

// UpgradeReport summarizes one run of the level upgrade job.
type UpgradeReport struct {
	RunID       string            `json:"run_id"`
	Scanned     int               `json:"scanned"`
	Transitions []core.Transition `json:"transitions"`
	Failures    []RecordFailure   `json:"failures,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Count is the number of sellers upgraded in the run.
func (r UpgradeReport) Count() int { return len(r.Transitions) }

// Upgrader applies the level classifier to every seller in the store.
type Upgrader struct {
	store      SellerStore
	classifier core.Classifier
	logger     *slog.Logger
	now        Clock
}

func NewUpgrader(store SellerStore, classifier core.Classifier, logger *slog.Logger, now Clock) *Upgrader {
	if store == nil {
		panic("NewUpgrader requires a non-nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Upgrader{store: store, classifier: classifier, logger: logger, now: now}
}

// UpgradeAllSellers walks all sellers sequentially and persists every level
// increase the classifier yields. An unreachable store is logged and yields
// an empty report with a nil error. A failed write for one seller is
// recorded in the report and does not stop the run.
func (u *Upgrader) UpgradeAllSellers(ctx context.Context) (UpgradeReport, error) {
	report := UpgradeReport{RunID: uuid.NewString(), StartedAt: u.now().UTC()}

	sellers, err := u.store.ListSellers(ctx)
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			u.logger.WarnContext(ctx, "seller store not available, skipping level upgrade", "run_id", report.RunID, "error", err)
			report.FinishedAt = u.now().UTC()
			return report, nil
		}
		u.logger.ErrorContext(ctx, "failed to list sellers", "run_id", report.RunID, "error", err)
		report.FinishedAt = u.now().UTC()
		return report, fmt.Errorf("list sellers: %w", err)
	}

	for _, seller := range sellers {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = u.now().UTC()
			return report, err
		}
		report.Scanned++

		current := seller.Level()
		stats := seller.Stats()
		next, ok := u.classifier.NextLevel(current, stats)
		if !ok {
			continue
		}
		if err := u.store.SetSellerLevel(ctx, seller.ID, next); err != nil {
			u.logger.ErrorContext(ctx, "failed to persist seller level",
				"run_id", report.RunID, "user_id", seller.ID, "from", current, "to", next, "error", err)
			report.Failures = append(report.Failures, RecordFailure{UserID: seller.ID, Target: next, Err: err.Error()})
			continue
		}
		u.logger.InfoContext(ctx, "seller upgraded",
			"run_id", report.RunID, "user_id", seller.ID, "from", current, "to", next)
		report.Transitions = append(report.Transitions, core.Transition{
			UserID: seller.ID,
			Name:   seller.Name,
			Email:  seller.Email,
			From:   current,
			To:     next,
			Stats:  stats,
			At:     u.now().UTC(),
		})
	}
	report.FinishedAt = u.now().UTC()
	return report, nil
}
