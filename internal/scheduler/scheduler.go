// Package scheduler drives job execution off a single cron-computed
// next-fire table, woken once per minute. Unlike the gocron-based scheduler
// this package's structure descends from, the engine here is a raw
// time.Ticker plus an explicit in-memory map — gocron owns its own
// execution loop with no queryable next-fire-time primitive independent of
// execution, which this design needs for per-Job dispatch, the
// updateJobSchedule/removeJob mutations and the Executor's one-shot
// retries (see DESIGN.md).
//
// robfig/cron/v3 supplies only cron-expression evaluation (ParseStandard,
// Next); it does not run anything itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// Executor is the subset of internal/executor's surface the Scheduler
// depends on. It dispatches without awaiting completion.
type Executor interface {
	RunScheduled(ctx context.Context, jobID uuid.UUID) error
}

// Notifier is the subset of internal/notifier's surface the Scheduler
// depends on for the digest path.
type Notifier interface {
	DailyDigest(ctx context.Context) error
}

const tickInterval = 1 * time.Minute

// Scheduler wakes once a minute, dispatches due Jobs to Executor, and
// triggers the Notifier daily digest once per configured hour.
//
// The zero value is not usable — create instances with New.
type Scheduler struct {
	jobs     repository.JobRepository
	jobLogs  repository.JobLogRepository
	sysCfg   repository.SystemConfigRepository
	executor Executor
	notifier Notifier
	logger   *zap.Logger

	parser cron.Parser

	mu        sync.Mutex
	nextFire  map[uuid.UUID]time.Time
	lastDigestDate string // "YYYY-MM-DD", empty until first digest send

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Scheduler. Call Start to begin ticking.
func New(
	jobs repository.JobRepository,
	jobLogs repository.JobLogRepository,
	sysCfg repository.SystemConfigRepository,
	executor Executor,
	notifier Notifier,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		jobLogs:  jobLogs,
		sysCfg:   sysCfg,
		executor: executor,
		notifier: notifier,
		logger:   logger.Named("scheduler"),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		nextFire: make(map[uuid.UUID]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetExecutor wires the Executor after construction, for the composition
// root to break the Scheduler/Executor construction cycle: Executor.New
// takes the Scheduler itself as its RetryScheduler, so Scheduler must exist
// before Executor can be built. Must be called before Start.
func (s *Scheduler) SetExecutor(executor Executor) {
	s.executor = executor
}

// SetNotifier wires the Notifier after construction, for the same reason as
// SetExecutor. Must be called before Start.
func (s *Scheduler) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Start performs the startup stale-run-recovery sweep (S6), seeds the
// next-fire table for every active Job, and begins the per-minute tick
// loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverStaleRuns(ctx); err != nil {
		s.logger.Error("stale-run recovery failed", zap.Error(err))
	}

	jobs, err := s.jobs.ListActiveWithCron(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading active jobs at startup: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	for i := range jobs {
		s.seedNextFireLocked(&jobs[i], now)
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", zap.Int("jobs_scheduled", len(jobs)))

	go s.loop()
	return nil
}

// Stop halts the tick loop and waits for the in-flight tick, if any, to
// finish. Dispatched Job runs themselves are not awaited — they are
// independent goroutines that outlive a single tick.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, err := s.jobs.ListActiveWithCron(ctx)
	if err != nil {
		s.logger.Error("failed to load active jobs on tick", zap.Error(err))
		return
	}

	s.mu.Lock()
	due := make([]store.Job, 0)
	for i := range jobs {
		job := &jobs[i]
		fireAt, known := s.nextFire[job.ID]
		if !known {
			s.seedNextFireLocked(job, now)
			fireAt = s.nextFire[job.ID]
		}
		if !now.Before(fireAt) {
			due = append(due, *job)
			s.recomputeNextFireLocked(job, now)
		}
	}
	// Drop next-fire entries for jobs that are no longer active/present.
	s.pruneNextFireLocked(jobs)
	s.mu.Unlock()

	for i := range due {
		job := due[i]
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
			defer cancel()
			if err := s.executor.RunScheduled(runCtx, job.ID); err != nil {
				s.logger.Error("scheduled run failed", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
		}()
	}

	s.maybeSendDigest(ctx, now)
}

func (s *Scheduler) maybeSendDigest(ctx context.Context, now time.Time) {
	digestHour := 6
	if cfg, err := s.sysCfg.Get(ctx, store.ConfigKeyDigestHour); err == nil {
		if n, convErr := parseIntOrDefault(string(cfg.Value), digestHour); convErr == nil {
			digestHour = n
		}
	}

	if now.Hour() != digestHour {
		return
	}

	today := now.Format("2006-01-02")

	s.mu.Lock()
	alreadySent := s.lastDigestDate == today
	if !alreadySent {
		s.lastDigestDate = today
	}
	s.mu.Unlock()

	if alreadySent {
		return
	}

	if err := s.notifier.DailyDigest(ctx); err != nil {
		s.logger.Error("daily digest failed", zap.Error(err))
	}
}

// updateJobSchedule recomputes a Job's next-fire entry after its cron
// expression or active state changes. Reentrant: safe to call from the API
// layer concurrently with the tick loop.
func (s *Scheduler) updateJobSchedule(job *store.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !job.Active {
		delete(s.nextFire, job.ID)
		return
	}
	s.seedNextFireLocked(job, time.Now().UTC())
}

// removeJob drops a Job's next-fire entry. Reentrant.
func (s *Scheduler) removeJob(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nextFire, jobID)
}

// OnJobCreatedOrUpdated is called by APIFacade after a Job write that may
// affect scheduling (Active flag or Cron expression).
func (s *Scheduler) OnJobCreatedOrUpdated(job *store.Job) {
	s.updateJobSchedule(job)
}

// OnJobDeleted is called by APIFacade after a Job delete.
func (s *Scheduler) OnJobDeleted(jobID uuid.UUID) {
	s.removeJob(jobID)
}

// ScheduleRetry inserts a transient one-shot next-fire entry for jobID at
// runAt, used by the Executor's retry-on-failure path (§4.6 step 9). The
// entry replaces the Job's cron-derived entry; once it is due, the tick
// dispatches the Job and recomputes its entry from the cron expression like
// any other due Job.
func (s *Scheduler) ScheduleRetry(jobID uuid.UUID, runAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFire[jobID] = runAt
}

func (s *Scheduler) seedNextFireLocked(job *store.Job, now time.Time) {
	after := now
	if job.LastRunAt != nil {
		after = *job.LastRunAt
	}
	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		s.logger.Error("invalid cron expression, job will never fire",
			zap.String("job_id", job.ID.String()), zap.String("cron", job.Cron), zap.Error(err))
		return
	}
	s.nextFire[job.ID] = sched.Next(after)
}

func (s *Scheduler) recomputeNextFireLocked(job *store.Job, now time.Time) {
	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		delete(s.nextFire, job.ID)
		return
	}
	s.nextFire[job.ID] = sched.Next(now)
}

func (s *Scheduler) pruneNextFireLocked(active []store.Job) {
	present := make(map[uuid.UUID]struct{}, len(active))
	for i := range active {
		present[active[i].ID] = struct{}{}
	}
	for id := range s.nextFire {
		if _, ok := present[id]; !ok {
			delete(s.nextFire, id)
		}
	}
}

// recoverStaleRuns implements S6: at startup, any JobLog row still
// status=started older than the configured stale threshold is marked
// failed, and the owning Job's last_status is reset from running to
// failed so the next tick is free to dispatch it again.
func (s *Scheduler) recoverStaleRuns(ctx context.Context) error {
	thresholdMinutes := 120
	if cfg, err := s.sysCfg.Get(ctx, store.ConfigKeyStaleRunThresholdMinutes); err == nil {
		if n, convErr := parseIntOrDefault(string(cfg.Value), thresholdMinutes); convErr == nil {
			thresholdMinutes = n
		}
	}

	cutoff := time.Now().UTC().Add(-time.Duration(thresholdMinutes) * time.Minute)
	stale, err := s.jobLogs.ListRunningOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing stale runs: %w", err)
	}

	for _, log := range stale {
		if err := s.jobLogs.Complete(ctx, log.ID, store.LogStatusFailed,
			"recovered at startup: run exceeded stale threshold without completing", "", "", 0, ""); err != nil {
			s.logger.Error("failed to close stale job log", zap.String("job_log_id", log.ID.String()), zap.Error(err))
			continue
		}
		if err := s.jobs.RecordRunResult(ctx, log.JobID, store.JobStatusFailed, 0, "", false); err != nil {
			s.logger.Error("failed to reset job status after stale recovery", zap.String("job_id", log.JobID.String()), zap.Error(err))
		}
		s.logger.Warn("recovered stale running job", zap.String("job_id", log.JobID.String()), zap.String("job_log_id", log.ID.String()))
	}

	return nil
}

func parseIntOrDefault(s string, def int) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return def, err
	}
	return n, nil
}
