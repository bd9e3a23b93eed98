package apifacade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

type fakeNodeRepo struct {
	nodes map[uuid.UUID]*store.Node
}

func (f *fakeNodeRepo) Create(ctx context.Context, n *store.Node) error {
	if f.nodes == nil {
		f.nodes = make(map[uuid.UUID]*store.Node)
	}
	n.ID = uuid.Must(uuid.NewV7())
	f.nodes[n.ID] = n
	return nil
}
func (f *fakeNodeRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}
func (f *fakeNodeRepo) GetByName(ctx context.Context, name string) (*store.Node, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeNodeRepo) Update(ctx context.Context, n *store.Node) error { return nil }
func (f *fakeNodeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if id == referencedNodeID {
		return repository.ErrInvariant
	}
	delete(f.nodes, id)
	return nil
}
func (f *fakeNodeRepo) List(ctx context.Context, opts repository.ListOptions) ([]store.Node, error) {
	return nil, nil
}
func (f *fakeNodeRepo) AuthNode(ctx context.Context) (*store.Node, error) { return nil, nil }
func (f *fakeNodeRepo) SetOnline(ctx context.Context, id uuid.UUID, online, toolPresent bool, toolVersion string) error {
	return nil
}
func (f *fakeNodeRepo) ReferencedByActiveJob(ctx context.Context, id uuid.UUID) (bool, error) {
	return id == referencedNodeID, nil
}

var referencedNodeID = uuid.Must(uuid.NewV7())

type fakeJobRepo struct {
	jobs map[uuid.UUID]*store.Job
}

func (f *fakeJobRepo) Create(ctx context.Context, j *store.Job) error {
	if f.jobs == nil {
		f.jobs = make(map[uuid.UUID]*store.Job)
	}
	j.ID = uuid.Must(uuid.NewV7())
	f.jobs[j.ID] = j
	return nil
}
func (f *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}
func (f *fakeJobRepo) Update(ctx context.Context, j *store.Job) error { return nil }
func (f *fakeJobRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.jobs, id)
	return nil
}
func (f *fakeJobRepo) List(ctx context.Context, opts repository.ListOptions) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListActiveWithCron(ctx context.Context) ([]store.Job, error) { return nil, nil }
func (f *fakeJobRepo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]store.Job, error) {
	var out []store.Job
	for _, j := range f.jobs {
		if j.VMGroupID != nil && *j.VMGroupID == groupID {
			out = append(out, *j)
		}
	}
	return out, nil
}
func (f *fakeJobRepo) ListSince(ctx context.Context, cutoff time.Time) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) RecordRunStart(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeJobRepo) RecordRunResult(ctx context.Context, id uuid.UUID, status store.JobStatus, durationSeconds float64, transferred string, success bool) error {
	return nil
}

type fakeJobLogRepo struct{}

func (f *fakeJobLogRepo) Create(ctx context.Context, l *store.JobLog) error { return nil }
func (f *fakeJobLogRepo) Complete(ctx context.Context, id uuid.UUID, status store.LogStatus, message, stdout, stderr string, durationSeconds float64, transferred string) error {
	return nil
}
func (f *fakeJobLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.JobLog, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeJobLogRepo) ListByJob(ctx context.Context, jobID uuid.UUID, opts repository.ListOptions) ([]store.JobLog, error) {
	return nil, nil
}
func (f *fakeJobLogRepo) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]store.JobLog, error) {
	return nil, nil
}
func (f *fakeJobLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeSysCfgRepo struct {
	values map[string]*store.SystemConfig
}

func (f *fakeSysCfgRepo) Get(ctx context.Context, key string) (*store.SystemConfig, error) {
	cfg, ok := f.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cfg, nil
}
func (f *fakeSysCfgRepo) Set(ctx context.Context, cfg *store.SystemConfig) error {
	if f.values == nil {
		f.values = make(map[string]*store.SystemConfig)
	}
	f.values[cfg.Key] = cfg
	return nil
}
func (f *fakeSysCfgRepo) List(ctx context.Context) ([]store.SystemConfig, error) { return nil, nil }
func (f *fakeSysCfgRepo) ListByCategory(ctx context.Context, category string) ([]store.SystemConfig, error) {
	return nil, nil
}

type fakeNotifCfgRepo struct {
	cfg *store.NotificationConfig
}

func (f *fakeNotifCfgRepo) Get(ctx context.Context) (*store.NotificationConfig, error) {
	if f.cfg == nil {
		return &store.NotificationConfig{}, nil
	}
	return f.cfg, nil
}
func (f *fakeNotifCfgRepo) Upsert(ctx context.Context, cfg *store.NotificationConfig) error {
	f.cfg = cfg
	return nil
}

type fakeScheduler struct {
	updated []uuid.UUID
	deleted []uuid.UUID
}

func (s *fakeScheduler) OnJobCreatedOrUpdated(job *store.Job) {
	s.updated = append(s.updated, job.ID)
}
func (s *fakeScheduler) OnJobDeleted(jobID uuid.UUID) {
	s.deleted = append(s.deleted, jobID)
}

type fakeExecutor struct {
	ran []uuid.UUID
	err error
}

func (e *fakeExecutor) RunNow(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) error {
	e.ran = append(e.ran, jobID)
	return e.err
}

func newTestFacade() (*Facade, *fakeNodeRepo, *fakeJobRepo, *fakeScheduler, *fakeExecutor) {
	nodes := &fakeNodeRepo{}
	jobs := &fakeJobRepo{}
	jobLogs := &fakeJobLogRepo{}
	sysCfg := &fakeSysCfgRepo{}
	notifCfg := &fakeNotifCfgRepo{}
	sched := &fakeScheduler{}
	exec := &fakeExecutor{}
	f := New(nodes, jobs, jobLogs, sysCfg, notifCfg, sched, exec, zap.NewNop())
	return f, nodes, jobs, sched, exec
}

func TestCreateNode_RequiresOperator(t *testing.T) {
	f, _, _, _, _ := newTestFacade()
	viewer := Claims{Role: RoleViewer}
	err := f.CreateNode(context.Background(), viewer, &store.Node{Name: "n1", Host: "h1"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindForbidden {
		t.Fatalf("expected forbidden error for viewer, got %v", err)
	}

	operator := Claims{Role: RoleOperator}
	if err := f.CreateNode(context.Background(), operator, &store.Node{Name: "n1", Host: "h1"}); err != nil {
		t.Fatalf("expected operator to create node, got %v", err)
	}
}

func TestDeleteNode_InvariantTranslated(t *testing.T) {
	f, _, _, _, _ := newTestFacade()
	admin := Claims{Role: RoleAdmin}
	err := f.DeleteNode(context.Background(), admin, referencedNodeID)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindInvariant {
		t.Fatalf("expected invariant error for node referenced by active job, got %v", err)
	}
}

func TestCreateJob_ArmsScheduler(t *testing.T) {
	f, _, _, sched, _ := newTestFacade()
	admin := Claims{Role: RoleAdmin}
	job := &store.Job{Name: "nightly", Cron: "0 2 * * *", Active: true}
	if err := f.CreateJob(context.Background(), admin, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if len(sched.updated) != 1 || sched.updated[0] != job.ID {
		t.Fatalf("expected scheduler to be notified of the new job, got %v", sched.updated)
	}
}

func TestDeleteJob_ClearsSchedulerEntry(t *testing.T) {
	f, _, jobs, sched, _ := newTestFacade()
	admin := Claims{Role: RoleAdmin}
	job := &store.Job{Name: "nightly", Cron: "0 2 * * *"}
	_ = jobs.Create(context.Background(), job)

	if err := f.DeleteJob(context.Background(), admin, job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if len(sched.deleted) != 1 || sched.deleted[0] != job.ID {
		t.Fatalf("expected scheduler entry cleared, got %v", sched.deleted)
	}
}

func TestDeleteJob_RequiresAdmin(t *testing.T) {
	f, _, jobs, _, _ := newTestFacade()
	job := &store.Job{Name: "nightly"}
	_ = jobs.Create(context.Background(), job)

	operator := Claims{Role: RoleOperator}
	err := f.DeleteJob(context.Background(), operator, job.ID)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindForbidden {
		t.Fatalf("expected operator forbidden from deleting a job, got %v", err)
	}
}

func TestTriggerJob_CallsExecutor(t *testing.T) {
	f, _, jobs, _, exec := newTestFacade()
	job := &store.Job{Name: "nightly"}
	_ = jobs.Create(context.Background(), job)

	operator := Claims{Role: RoleOperator}
	userID := uuid.Must(uuid.NewV7())
	if err := f.TriggerJob(context.Background(), operator, job.ID, userID); err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	if len(exec.ran) != 1 || exec.ran[0] != job.ID {
		t.Fatalf("expected executor.RunNow called with job id, got %v", exec.ran)
	}
}

func TestRunGroup_FansOutToEveryMember(t *testing.T) {
	f, _, jobs, _, exec := newTestFacade()
	groupID := uuid.Must(uuid.NewV7())
	j1 := &store.Job{Name: "j1", VMGroupID: &groupID}
	j2 := &store.Job{Name: "j2", VMGroupID: &groupID}
	_ = jobs.Create(context.Background(), j1)
	_ = jobs.Create(context.Background(), j2)

	operator := Claims{Role: RoleOperator}
	if err := f.RunGroup(context.Background(), operator, groupID, uuid.Must(uuid.NewV7())); err != nil {
		t.Fatalf("RunGroup: %v", err)
	}
	if len(exec.ran) != 2 {
		t.Fatalf("expected both group members triggered, got %d", len(exec.ran))
	}
}

func TestSetSystemConfig_RequiresAdmin(t *testing.T) {
	f, _, _, _, _ := newTestFacade()
	operator := Claims{Role: RoleOperator}
	err := f.SetSystemConfig(context.Background(), operator, &store.SystemConfig{Key: "digest_hour", Value: "6"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindForbidden {
		t.Fatalf("expected operator forbidden from setting system config, got %v", err)
	}

	admin := Claims{Role: RoleAdmin}
	if err := f.SetSystemConfig(context.Background(), admin, &store.SystemConfig{Key: "digest_hour", Value: "6"}); err != nil {
		t.Fatalf("SetSystemConfig as admin: %v", err)
	}
}

func TestUnknownRole_NeverSatisfiesAnyCheck(t *testing.T) {
	f, _, _, _, _ := newTestFacade()
	claims := Claims{Role: "bogus"}
	_, err := f.GetSystemConfig(context.Background(), claims, "digest_hour")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindForbidden {
		t.Fatalf("expected unknown role to be forbidden even for viewer-level ops, got %v", err)
	}
}
