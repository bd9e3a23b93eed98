// Package executor runs one replication Job end to end: pre-flight dataset
// check, command build, remote invocation, log persistence, optional guest
// registration, retry arming, and notifier handoff.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/hvops"
	"github.com/ridgeline-systems/zvault/internal/notifier"
	"github.com/ridgeline-systems/zvault/internal/remoteexec"
	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
	"github.com/ridgeline-systems/zvault/internal/syncplanner"
	"github.com/ridgeline-systems/zvault/internal/zfsops"
)

const defaultTimeoutSeconds = 3600

// Runner is the subset of remoteexec.Pool the Executor drives the
// replication command itself with; ZFSOps/HVOps take their own Runner.
type Runner interface {
	Run(ctx context.Context, ep remoteexec.Endpoint, cmd string, timeout time.Duration) (remoteexec.Result, error)
}

// Notifier is the subset of internal/notifier's surface the Executor hands
// a finished run's outcome to.
type Notifier interface {
	Notify(ctx context.Context, outcome notifier.RunOutcome) error
}

// RetryScheduler is the subset of internal/scheduler's surface the
// Executor uses to arm a one-shot retry (§4.6 step 9). Defined here rather
// than imported from internal/scheduler to avoid a package cycle —
// *scheduler.Scheduler satisfies this structurally.
type RetryScheduler interface {
	ScheduleRetry(jobID uuid.UUID, runAt time.Time)
}

// Executor runs Jobs end to end. The zero value is not usable — create
// instances with New.
type Executor struct {
	nodes   repository.NodeRepository
	jobs    repository.JobRepository
	jobLogs repository.JobLogRepository
	sysCfg  repository.SystemConfigRepository

	zfs   *zfsops.ZFSOps
	hv    *hvops.HVOps
	run   Runner
	notif Notifier
	retry RetryScheduler

	logger  *zap.Logger
	metrics *metricsSet
}

// New constructs an Executor.
func New(
	nodes repository.NodeRepository,
	jobs repository.JobRepository,
	jobLogs repository.JobLogRepository,
	sysCfg repository.SystemConfigRepository,
	zfs *zfsops.ZFSOps,
	hv *hvops.HVOps,
	run Runner,
	notif Notifier,
	retry RetryScheduler,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		nodes:   nodes,
		jobs:    jobs,
		jobLogs: jobLogs,
		sysCfg:  sysCfg,
		zfs:     zfs,
		hv:      hv,
		run:     run,
		notif:   notif,
		retry:   retry,
		logger:  logger.Named("executor"),
		metrics: newMetricsSet(),
	}
}

// RunScheduled runs jobID as dispatched by the Scheduler's tick loop.
// Satisfies scheduler.Executor.
func (e *Executor) RunScheduled(ctx context.Context, jobID uuid.UUID) error {
	return e.run1(ctx, jobID, nil, true)
}

// RunNow runs jobID on behalf of userID, bypassing the cron gate. Used by
// APIFacade's manual-trigger operation. Obeys every other rule, including
// the self-concurrency gate.
func (e *Executor) RunNow(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) error {
	return e.run1(ctx, jobID, &userID, false)
}

// run1 is the single entry point both RunScheduled and RunNow funnel
// through — one Job, one attempt, wrapped so a panic still closes the
// JobLog instead of leaving last_status stuck at running.
func (e *Executor) run1(ctx context.Context, jobID uuid.UUID, triggeredBy *uuid.UUID, isScheduled bool) (runErr error) {
	e.metrics.recordDispatch()

	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("executor: loading job %s: %w", jobID, err)
	}

	// Self-concurrency gate (P4): a Job already running is never started
	// again, whether the trigger is the cron tick or a manual call.
	if job.LastStatus == store.JobStatusRunning {
		e.logger.Warn("job already running, skipping", zap.String("job_id", jobID.String()))
		return nil
	}

	logID, err := e.openRun(ctx, job, triggeredBy)
	if err != nil {
		return fmt.Errorf("executor: opening run for job %s: %w", jobID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during job run", zap.String("job_id", jobID.String()), zap.Any("panic", r))
			_ = e.jobLogs.Complete(ctx, logID, store.LogStatusFailed, fmt.Sprintf("internal error: %v", r), "", "", 0, "")
			_ = e.jobs.RecordRunResult(ctx, jobID, store.JobStatusFailed, 0, "", false)
			e.metrics.recordOutcome(string(store.JobStatusFailed))
			runErr = fmt.Errorf("executor: panic running job %s: %v", jobID, r)
		}
	}()

	outcome := e.runOnce(ctx, job, logID, isScheduled)

	e.metrics.recordOutcome(string(outcome.Log.Status))

	if notifyErr := e.notif.Notify(ctx, outcome); notifyErr != nil {
		e.logger.Error("notifier failed", zap.String("job_id", jobID.String()), zap.Error(notifyErr))
	}

	e.maybeArmRetry(job, outcome)

	return nil
}

// openRun writes the open JobLog row and flips the Job to running,
// implementing §4.6 step 2.
func (e *Executor) openRun(ctx context.Context, job *store.Job, triggeredBy *uuid.UUID) (uuid.UUID, error) {
	log := &store.JobLog{
		JobID:             job.ID,
		Kind:              store.LogKindSync,
		Status:            store.LogStatusStarted,
		AttemptNumber:     job.ConsecutiveFailures + 1,
		StartedAt:         time.Now().UTC(),
		TriggeredByUserID: triggeredBy,
	}
	if err := e.jobLogs.Create(ctx, log); err != nil {
		return uuid.UUID{}, err
	}
	if err := e.jobs.RecordRunStart(ctx, job.ID); err != nil {
		return uuid.UUID{}, err
	}
	return log.ID, nil
}

// runOnce executes steps 3-7 of §4.6 for an already-opened run and returns
// the RunOutcome to hand to the Notifier. It never returns an error itself
// — every failure path is captured as a failed JobLog/Job update so the
// caller always has a complete outcome to notify on.
func (e *Executor) runOnce(ctx context.Context, job *store.Job, logID uuid.UUID, isScheduled bool) notifier.RunOutcome {
	srcNode, err := e.nodes.GetByID(ctx, job.SourceNodeID)
	if err != nil {
		return e.fail(ctx, job, logID, isScheduled, "", "", fmt.Sprintf("resolving source node: %v", err))
	}
	dstNode, err := e.nodes.GetByID(ctx, job.DestNodeID)
	if err != nil {
		return e.fail(ctx, job, logID, isScheduled, srcNode.Name, "", fmt.Sprintf("resolving destination node: %v", err))
	}

	srcEndpoint := remoteexec.Endpoint{Host: srcNode.Host, Port: srcNode.Port, User: srcNode.User, PrivateKeyPath: string(srcNode.CredentialHandle)}
	dstEndpoint := remoteexec.Endpoint{Host: dstNode.Host, Port: dstNode.Port, User: dstNode.User, PrivateKeyPath: string(dstNode.CredentialHandle)}

	var preflightNote string
	parent := zfsops.ParentDataset(job.DestDataset)
	if parent != "" {
		exists, existsErr := e.zfs.DatasetExists(ctx, dstEndpoint, parent)
		if existsErr != nil || !exists {
			if createErr := e.zfs.CreateDataset(ctx, dstEndpoint, parent); createErr != nil {
				preflightNote = fmt.Sprintf("pre-flight dataset creation failed (non-fatal): %v", createErr)
				e.logger.Warn("preflight dataset creation failed", zap.String("job_id", job.ID.String()), zap.Error(createErr))
			}
		}
	}

	// The replication tool runs on the source Node; from its perspective
	// the source side is always local and the destination always remote.
	cmd := syncplanner.Build(job,
		syncplanner.HostEndpoint{},
		syncplanner.HostEndpoint{Host: dstNode.Host, User: dstNode.User, Port: dstNode.Port, PrivateKeyPath: string(dstNode.CredentialHandle)},
	)

	timeout := e.timeoutFor(ctx)
	start := time.Now()
	result, runErr := e.run.Run(ctx, srcEndpoint, cmd, timeout)
	duration := time.Since(start).Seconds()

	if runErr != nil {
		return e.failWithDuration(ctx, job, logID, isScheduled, srcNode.Name, dstNode.Name, duration,
			fmt.Sprintf("remote execution failed: %v", runErr), result.Stdout, result.Stderr)
	}
	if result.ExitCode != 0 {
		return e.failWithDuration(ctx, job, logID, isScheduled, srcNode.Name, dstNode.Name, duration,
			fmt.Sprintf("replication command exited %d", result.ExitCode), result.Stdout, result.Stderr)
	}

	transferred := syncplanner.ParseTransferred(result.Stdout + "\n" + result.Stderr)

	message := preflightNote
	if job.RegisterVM {
		if regErr := e.registerGuest(ctx, job, srcEndpoint, dstEndpoint); regErr != nil {
			message = joinNonEmpty(message, fmt.Sprintf("guest registration failed: %v", regErr))
			e.logger.Warn("guest registration failed", zap.String("job_id", job.ID.String()), zap.Error(regErr))
		} else {
			message = joinNonEmpty(message, "guest registered on destination")
		}
	}

	if err := e.jobLogs.Complete(ctx, logID, store.LogStatusSuccess, message, result.Stdout, result.Stderr, duration, transferred); err != nil {
		e.logger.Error("failed to write completion log", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	if err := e.jobs.RecordRunResult(ctx, job.ID, store.JobStatusSuccess, duration, transferred, true); err != nil {
		e.logger.Error("failed to record run result", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	updatedJob := *job
	updatedJob.ConsecutiveFailures = 0
	updatedJob.LastStatus = store.JobStatusSuccess

	return notifier.RunOutcome{
		Job:        &updatedJob,
		Log:        &store.JobLog{Status: store.LogStatusSuccess, Message: message, DurationSeconds: duration, Transferred: transferred},
		IsScheduled: isScheduled,
		SourceNode: srcNode.Name,
		DestNode:   dstNode.Name,
	}
}

// registerGuest implements §4.6 step 6: fetch the source guest's config,
// then register it on the destination via HVOps with storage-tag
// substitution.
func (e *Executor) registerGuest(ctx context.Context, job *store.Job, srcEndpoint, dstEndpoint remoteexec.Endpoint) error {
	if job.SourceGuestID == nil {
		return fmt.Errorf("job has register_vm set but no source_guest_id")
	}
	destID := *job.SourceGuestID
	if job.DestGuestID != nil {
		destID = *job.DestGuestID
	}

	config, err := e.hv.ReadConfig(ctx, srcEndpoint, job.GuestKind, *job.SourceGuestID)
	if err != nil {
		return fmt.Errorf("reading source guest config: %w", err)
	}

	return e.hv.Register(ctx, dstEndpoint, hvops.RegisterOpts{
		Kind:          job.GuestKind,
		ID:            destID,
		ConfigContent: config,
		SourceStorage: job.SourceStorageTag,
		DestStorage:   job.DestStorageTag,
		DestZFSPool:   zfsops.RootPool(job.DestDataset),
	})
}

func (e *Executor) fail(ctx context.Context, job *store.Job, logID uuid.UUID, isScheduled bool, srcName, dstName, message string) notifier.RunOutcome {
	return e.failWithDuration(ctx, job, logID, isScheduled, srcName, dstName, 0, message, "", "")
}

func (e *Executor) failWithDuration(ctx context.Context, job *store.Job, logID uuid.UUID, isScheduled bool, srcName, dstName string, duration float64, message, stdout, stderr string) notifier.RunOutcome {
	if err := e.jobLogs.Complete(ctx, logID, store.LogStatusFailed, message, stdout, stderr, duration, ""); err != nil {
		e.logger.Error("failed to write failure log", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	if err := e.jobs.RecordRunResult(ctx, job.ID, store.JobStatusFailed, duration, "", false); err != nil {
		e.logger.Error("failed to record run result", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	updatedJob := *job
	updatedJob.ConsecutiveFailures++
	updatedJob.LastStatus = store.JobStatusFailed

	return notifier.RunOutcome{
		Job:         &updatedJob,
		Log:         &store.JobLog{Status: store.LogStatusFailed, Message: message, DurationSeconds: duration},
		IsScheduled: isScheduled,
		SourceNode:  srcName,
		DestNode:    dstName,
	}
}

// maybeArmRetry implements §4.6 step 9: on failure, if the Job opts into
// retry and its consecutive failures are still below max_retries, arm a
// one-shot entry in the Scheduler's next-fire table.
func (e *Executor) maybeArmRetry(job *store.Job, outcome notifier.RunOutcome) {
	if outcome.Log.Status != store.LogStatusFailed {
		return
	}
	if !job.RetryOnFailure || outcome.Job.ConsecutiveFailures >= job.MaxRetries {
		return
	}
	runAt := time.Now().UTC().Add(time.Duration(job.RetryDelayMinutes) * time.Minute)
	e.retry.ScheduleRetry(job.ID, runAt)
	e.logger.Info("armed retry", zap.String("job_id", job.ID.String()), zap.Time("run_at", runAt))
}

func (e *Executor) timeoutFor(ctx context.Context) time.Duration {
	seconds := defaultTimeoutSeconds
	if cfg, err := e.sysCfg.Get(ctx, store.ConfigKeyJobTimeoutSeconds); err == nil {
		if n, convErr := fmt.Sscanf(string(cfg.Value), "%d", &seconds); convErr != nil || n != 1 {
			seconds = defaultTimeoutSeconds
		}
	}
	return time.Duration(seconds) * time.Second
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += p
	}
	return out
}
