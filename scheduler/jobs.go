package scheduler

import (
	"context"
	"errors"
	"time"

	"flinkly/engine"
)

// Runner is the part of engine.Service the scheduled jobs call.
type Runner interface {
	UpgradeSellerLevels(ctx context.Context) (engine.UpgradeReport, error)
	SendWeeklyDigests(ctx context.Context) (engine.DigestReport, error)
}

// Timetable holds the cron specs of the two seller jobs. An empty spec
// leaves the job available for manual runs only.
type Timetable struct {
	UpgradeSpec string
	DigestSpec  string
	Timeout     time.Duration
}

func DefaultTimetable() Timetable {
	return Timetable{UpgradeSpec: DefaultUpgradeSpec, DigestSpec: DefaultDigestSpec}
}

// ServiceJobs builds the level upgrade and weekly digest jobs.
func ServiceJobs(r Runner, t Timetable) []Job {
	return []Job{
		{
			Name:    engine.JobSellerLevelUpgrade,
			Spec:    t.UpgradeSpec,
			Timeout: t.Timeout,
			Run: func(ctx context.Context) (map[string]any, error) {
				report, err := r.UpgradeSellerLevels(ctx)
				return map[string]any{
					"engine_run_id": report.RunID,
					"scanned":       report.Scanned,
					"upgraded":      report.Count(),
					"failed":        len(report.Failures),
				}, err
			},
		},
		{
			Name:    engine.JobWeeklyDigest,
			Spec:    t.DigestSpec,
			Timeout: t.Timeout,
			Run: func(ctx context.Context) (map[string]any, error) {
				report, err := r.SendWeeklyDigests(ctx)
				return map[string]any{
					"engine_run_id": report.RunID,
					"recipients":    report.Recipients,
					"sent":          report.Sent,
					"skipped":       report.Skipped,
					"failed":        report.Failed,
				}, err
			},
		},
	}
}

// RegisterAll registers every job and reports all failures together.
func (s *Scheduler) RegisterAll(jobs []Job) error {
	var errs []error
	for _, j := range jobs {
		if err := s.Register(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
