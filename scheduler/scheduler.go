// Package scheduler runs the periodic seller jobs on a cron timetable in a
// fixed timezone. Runs are guarded by an optional distributed lock, recorded
// in a run history and exported as Prometheus metrics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Default timetable.
const (
	DefaultTimezone    = "Europe/Berlin"
	DefaultDigestSpec  = "0 9 * * 1"
	DefaultUpgradeSpec = "0 3 * * *"
	DefaultLockTTL     = 30 * time.Minute
)

const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Run statuses.
const (
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusSkippedLocked = "skipped_locked"
)

const (
	lockKeyPrefix        = "flinkly:job:"
	defaultHistoryPerJob = 20
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobLocked    = errors.New("job is already running")
)

// JobFunc executes one run. The summary is stored with the run record.
type JobFunc func(ctx context.Context) (summary map[string]any, err error)

// Job is a named task with a five field cron spec. A zero Timeout lets the
// run go on until it returns.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     JobFunc
}

// RunRecord describes one finished run.
type RunRecord struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id"`
	Trigger    string         `json:"trigger"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Duration of the run.
func (r RunRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Locker guards a job against concurrent runs across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// History keeps recent run records per job.
type History interface {
	Record(ctx context.Context, rec RunRecord) error
	Recent(ctx context.Context, job string, limit int) ([]RunRecord, error)
}

// JobInfo is the public view of a registered job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

// Options configures a Scheduler. Nil Locker, History and Metrics select
// process-local implementations or disable the feature.
type Options struct {
	Timezone string
	LockTTL  time.Duration
	Locker   Locker
	History  History
	Metrics  *Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

type registered struct {
	job   Job
	entry cron.EntryID
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron     *cron.Cron
	loc      *time.Location
	lockTTL  time.Duration
	locker   Locker
	history  History
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex
	jobs     map[string]*registered
	running  sync.Map
	stopOnce sync.Once
}

// New creates a stopped scheduler. The timezone must be a valid IANA name.
func New(opts Options) (*Scheduler, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	history := opts.History
	if history == nil {
		history = NewMemoryHistory(defaultHistoryPerJob)
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		cron:    c,
		loc:     loc,
		lockTTL: ttl,
		locker:  locker,
		history: history,
		metrics: opts.Metrics,
		logger:  logger,
		now:     now,
		jobs:    make(map[string]*registered),
	}, nil
}

// Location returns the timezone the timetable is evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Register adds a job to the timetable. An empty spec registers the job for
// manual runs only.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job requires a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	reg := &registered{job: job}
	if job.Spec != "" {
		id, err := s.cron.AddFunc(job.Spec, func() {
			_, _ = s.execute(context.Background(), job, TriggerCron)
		})
		if err != nil {
			return fmt.Errorf("schedule %s with %q: %w", job.Name, job.Spec, err)
		}
		reg.entry = id
		s.logger.Info("scheduled job", "job", job.Name, "schedule", job.Spec, "timezone", s.loc.String())
	}
	s.jobs[job.Name] = reg
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timetable and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Jobs lists registered jobs sorted by name with their next fire time.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, reg := range s.jobs {
		info := JobInfo{Name: name, Spec: reg.job.Spec}
		if reg.entry != 0 {
			e := s.cron.Entry(reg.entry)
			info.Next, info.Prev = e.Next, e.Prev
			if info.Next.IsZero() && reg.job.Spec != "" {
				if sched, err := cron.ParseStandard(reg.job.Spec); err == nil {
					info.Next = sched.Next(s.now().In(s.loc))
				}
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes a job synchronously outside the timetable. It fails with
// ErrJobLocked when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (RunRecord, error) {
	s.mu.RLock()
	reg, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, reg.job, TriggerManual)
}

// History returns the most recent runs of a job, newest first.
func (s *Scheduler) History(ctx context.Context, name string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.history.Recent(ctx, name, limit)
}

func (s *Scheduler) execute(ctx context.Context, job Job, trigger string) (RunRecord, error) {
	rec := RunRecord{Job: job.Name, RunID: uuid.NewString(), Trigger: trigger, StartedAt: s.now()}
	logger := s.logger.With("job", job.Name, "run_id", rec.RunID, "trigger", trigger)

	// SkipIfStillRunning only covers cron triggers of the same entry.
	if _, busy := s.running.LoadOrStore(job.Name, rec.RunID); busy {
		logger.Warn("job already running in this process, skipping")
		return s.finish(ctx, rec, StatusSkippedLocked, ErrJobLocked, logger)
	}
	defer s.running.Delete(job.Name)

	release, ok, err := s.locker.Acquire(ctx, lockKeyPrefix+job.Name, s.lockTTL)
	if err != nil {
		logger.Error("failed to acquire job lock", "error", err)
		return s.finish(ctx, rec, StatusFailed, fmt.Errorf("acquire lock: %w", err), logger)
	}
	if !ok {
		logger.Info("job lock held elsewhere, skipping")
		return s.finish(ctx, rec, StatusSkippedLocked, ErrJobLocked, logger)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release job lock", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	logger.Info("job started")
	summary, runErr := s.invoke(runCtx, job)
	rec.Summary = summary
	if runErr != nil {
		logger.Error("job failed", "error", runErr)
		return s.finish(ctx, rec, StatusFailed, runErr, logger)
	}
	return s.finish(ctx, rec, StatusSucceeded, nil, logger)
}

// invoke shields the scheduler from panics in manual runs. Cron runs are
// additionally covered by cron.Recover.
func (s *Scheduler) invoke(ctx context.Context, job Job) (summary map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) finish(ctx context.Context, rec RunRecord, status string, runErr error, logger *slog.Logger) (RunRecord, error) {
	rec.Status = status
	rec.FinishedAt = s.now()
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if status != StatusSkippedLocked {
		logger.Info("job finished", "status", status, "duration", rec.Duration())
	}
	s.metrics.observe(rec)
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record job run", "error", err)
	}
	return rec, runErr
}
