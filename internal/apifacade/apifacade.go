// Package apifacade is the thin layer the out-of-scope HTTP surface calls:
// it mutates Store, re-arms the Scheduler when a Job's schedule changes,
// and enforces the three-role access model uniformly across every
// operation. It owns no transport of its own.
package apifacade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// Executor is the subset of internal/executor's surface APIFacade drives a
// manual trigger through.
type Executor interface {
	RunNow(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) error
}

// Scheduler is the subset of internal/scheduler's surface APIFacade needs
// to keep the next-fire table consistent with Store writes.
type Scheduler interface {
	OnJobCreatedOrUpdated(job *store.Job)
	OnJobDeleted(jobID uuid.UUID)
}

// Facade is the single entry point the HTTP layer (or any other caller)
// drives. The zero value is not usable — construct with New.
type Facade struct {
	nodes   repository.NodeRepository
	jobs    repository.JobRepository
	jobLogs repository.JobLogRepository
	sysCfg  repository.SystemConfigRepository
	notifCfg repository.NotificationConfigRepository

	scheduler Scheduler
	executor  Executor

	logger *zap.Logger
}

// New constructs a Facade.
func New(
	nodes repository.NodeRepository,
	jobs repository.JobRepository,
	jobLogs repository.JobLogRepository,
	sysCfg repository.SystemConfigRepository,
	notifCfg repository.NotificationConfigRepository,
	scheduler Scheduler,
	executor Executor,
	logger *zap.Logger,
) *Facade {
	return &Facade{
		nodes:    nodes,
		jobs:     jobs,
		jobLogs:  jobLogs,
		sysCfg:   sysCfg,
		notifCfg: notifCfg,
		scheduler: scheduler,
		executor:  executor,
		logger:    logger.Named("apifacade"),
	}
}

func translateRepoErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(op, KindNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return newError(op, KindConflict, err)
	case errors.Is(err, repository.ErrInvariant):
		return newError(op, KindInvariant, err)
	case errors.Is(err, repository.ErrTransient):
		return newError(op, KindTransient, err)
	default:
		return newError(op, KindInternal, err)
	}
}

// -----------------------------------------------------------------------------
// Nodes
// -----------------------------------------------------------------------------

// CreateNode registers a new Node. Requires operator or above.
func (f *Facade) CreateNode(ctx context.Context, claims Claims, node *store.Node) error {
	const op = "apifacade: create node"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	if node.Name == "" || node.Host == "" {
		return newError(op, KindBadRequest, fmt.Errorf("name and host are required"))
	}
	if err := f.nodes.Create(ctx, node); err != nil {
		return translateRepoErr(op, err)
	}
	return nil
}

// UpdateNode updates an existing Node. Requires operator or above.
func (f *Facade) UpdateNode(ctx context.Context, claims Claims, node *store.Node) error {
	const op = "apifacade: update node"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	if err := f.nodes.Update(ctx, node); err != nil {
		return translateRepoErr(op, err)
	}
	return nil
}

// DeleteNode removes a Node. Requires admin. The repository layer enforces
// the node-deletion-refusal invariant (a Node referenced by an active Job
// cannot be deleted) and returns repository.ErrInvariant, translated here
// to KindInvariant.
func (f *Facade) DeleteNode(ctx context.Context, claims Claims, nodeID uuid.UUID) error {
	const op = "apifacade: delete node"
	if err := requireRole(op, claims, RoleAdmin); err != nil {
		return err
	}
	if err := f.nodes.Delete(ctx, nodeID); err != nil {
		return translateRepoErr(op, err)
	}
	return nil
}

// GetNode reads a single Node. Requires viewer or above.
func (f *Facade) GetNode(ctx context.Context, claims Claims, nodeID uuid.UUID) (*store.Node, error) {
	const op = "apifacade: get node"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	node, err := f.nodes.GetByID(ctx, nodeID)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return node, nil
}

// ListNodes lists all Nodes. Requires viewer or above.
func (f *Facade) ListNodes(ctx context.Context, claims Claims, opts repository.ListOptions) ([]store.Node, error) {
	const op = "apifacade: list nodes"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	nodes, err := f.nodes.List(ctx, opts)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return nodes, nil
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// CreateJob creates a Job and, if Active with a Cron expression, arms it in
// the Scheduler immediately. Requires operator or above.
func (f *Facade) CreateJob(ctx context.Context, claims Claims, job *store.Job) error {
	const op = "apifacade: create job"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	if job.Name == "" || job.Cron == "" {
		return newError(op, KindBadRequest, fmt.Errorf("name and cron are required"))
	}
	if err := f.jobs.Create(ctx, job); err != nil {
		return translateRepoErr(op, err)
	}
	f.scheduler.OnJobCreatedOrUpdated(job)
	return nil
}

// UpdateJob updates a Job and re-arms its Scheduler entry to reflect any
// change to Active or Cron. Requires operator or above.
func (f *Facade) UpdateJob(ctx context.Context, claims Claims, job *store.Job) error {
	const op = "apifacade: update job"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	if err := f.jobs.Update(ctx, job); err != nil {
		return translateRepoErr(op, err)
	}
	f.scheduler.OnJobCreatedOrUpdated(job)
	return nil
}

// DeleteJob removes a Job and clears its Scheduler entry. Requires admin.
func (f *Facade) DeleteJob(ctx context.Context, claims Claims, jobID uuid.UUID) error {
	const op = "apifacade: delete job"
	if err := requireRole(op, claims, RoleAdmin); err != nil {
		return err
	}
	if err := f.jobs.Delete(ctx, jobID); err != nil {
		return translateRepoErr(op, err)
	}
	f.scheduler.OnJobDeleted(jobID)
	return nil
}

// GetJob reads a single Job. Requires viewer or above.
func (f *Facade) GetJob(ctx context.Context, claims Claims, jobID uuid.UUID) (*store.Job, error) {
	const op = "apifacade: get job"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	job, err := f.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return job, nil
}

// ListJobs lists Jobs. Requires viewer or above.
func (f *Facade) ListJobs(ctx context.Context, claims Claims, opts repository.ListOptions) ([]store.Job, error) {
	const op = "apifacade: list jobs"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	jobs, err := f.jobs.List(ctx, opts)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return jobs, nil
}

// ListJobLogs reads a Job's run history. Requires viewer or above.
func (f *Facade) ListJobLogs(ctx context.Context, claims Claims, jobID uuid.UUID, opts repository.ListOptions) ([]store.JobLog, error) {
	const op = "apifacade: list job logs"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	logs, err := f.jobLogs.ListByJob(ctx, jobID, opts)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return logs, nil
}

// TriggerJob runs a Job immediately, bypassing its cron schedule. Requires
// operator or above. userID is attributed to the resulting JobLog row.
func (f *Facade) TriggerJob(ctx context.Context, claims Claims, jobID uuid.UUID, userID uuid.UUID) error {
	const op = "apifacade: trigger job"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	if err := f.executor.RunNow(ctx, jobID, userID); err != nil {
		return newError(op, KindInternal, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// VM groups
// -----------------------------------------------------------------------------

// CreateVMGroup allocates a new group identifier. A VM group has no storage
// of its own — it is a tag shared by the Jobs whose VMGroupID is set to it,
// created here so the caller has an ID to assign before creating those
// Jobs. Requires operator or above.
func (f *Facade) CreateVMGroup(ctx context.Context, claims Claims) (uuid.UUID, error) {
	const op = "apifacade: create vm group"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return uuid.UUID{}, err
	}
	return uuid.Must(uuid.NewV7()), nil
}

// RunGroup triggers every Job in a VM group. Requires operator or above.
// Each Job is run independently — one failing trigger does not stop the
// others, and every per-job error is returned together.
func (f *Facade) RunGroup(ctx context.Context, claims Claims, groupID uuid.UUID, userID uuid.UUID) error {
	const op = "apifacade: run group"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return err
	}
	jobs, err := f.jobs.ListByGroup(ctx, groupID)
	if err != nil {
		return translateRepoErr(op, err)
	}

	var groupErr error
	for _, job := range jobs {
		if runErr := f.executor.RunNow(ctx, job.ID, userID); runErr != nil {
			f.logger.Error("group member trigger failed", zap.String("job_id", job.ID.String()), zap.Error(runErr))
			groupErr = errors.Join(groupErr, fmt.Errorf("job %s: %w", job.ID, runErr))
		}
	}
	if groupErr != nil {
		return newError(op, KindInternal, groupErr)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// UpsertNotificationConfig replaces the singleton NotificationConfig.
// Requires admin, since it carries SMTP/webhook/chat-bot secrets.
func (f *Facade) UpsertNotificationConfig(ctx context.Context, claims Claims, cfg *store.NotificationConfig) error {
	const op = "apifacade: upsert notification config"
	if err := requireRole(op, claims, RoleAdmin); err != nil {
		return err
	}
	if err := f.notifCfg.Upsert(ctx, cfg); err != nil {
		return translateRepoErr(op, err)
	}
	return nil
}

// GetNotificationConfig reads the singleton NotificationConfig. Requires
// operator or above, since it may carry secret fields.
func (f *Facade) GetNotificationConfig(ctx context.Context, claims Claims) (*store.NotificationConfig, error) {
	const op = "apifacade: get notification config"
	if err := requireRole(op, claims, RoleOperator); err != nil {
		return nil, err
	}
	cfg, err := f.notifCfg.Get(ctx)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// System configuration
// -----------------------------------------------------------------------------

// GetSystemConfig reads one SystemConfig key. Requires viewer or above;
// callers are expected to withhold Secret-flagged values from non-admin
// responses at the HTTP layer, since APIFacade itself is transport-agnostic.
func (f *Facade) GetSystemConfig(ctx context.Context, claims Claims, key string) (*store.SystemConfig, error) {
	const op = "apifacade: get system config"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	cfg, err := f.sysCfg.Get(ctx, key)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return cfg, nil
}

// SetSystemConfig writes one SystemConfig key. Requires admin.
func (f *Facade) SetSystemConfig(ctx context.Context, claims Claims, cfg *store.SystemConfig) error {
	const op = "apifacade: set system config"
	if err := requireRole(op, claims, RoleAdmin); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := f.sysCfg.Set(ctx, cfg); err != nil {
		return translateRepoErr(op, err)
	}
	return nil
}

// ListSystemConfig lists every SystemConfig row in a category, or all rows
// if category is empty. Requires viewer or above.
func (f *Facade) ListSystemConfig(ctx context.Context, claims Claims, category string) ([]store.SystemConfig, error) {
	const op = "apifacade: list system config"
	if err := requireRole(op, claims, RoleViewer); err != nil {
		return nil, err
	}
	if category == "" {
		cfgs, err := f.sysCfg.List(ctx)
		if err != nil {
			return nil, translateRepoErr(op, err)
		}
		return cfgs, nil
	}
	cfgs, err := f.sysCfg.ListByCategory(ctx, category)
	if err != nil {
		return nil, translateRepoErr(op, err)
	}
	return cfgs, nil
}
