package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// fakeJobRepo implements repository.JobRepository against an in-memory
// slice, just enough of it for the Scheduler's own tests.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]store.Job
}

func newFakeJobRepo(jobs ...store.Job) *fakeJobRepo {
	f := &fakeJobRepo{jobs: make(map[uuid.UUID]store.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobRepo) Create(ctx context.Context, j *store.Job) error { return nil }
func (f *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &j, nil
}
func (f *fakeJobRepo) Update(ctx context.Context, j *store.Job) error { return nil }
func (f *fakeJobRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeJobRepo) List(ctx context.Context, opts repository.ListOptions) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListActiveWithCron(ctx context.Context) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		if j.Active && j.Cron != "" {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeJobRepo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) ListSince(ctx context.Context, cutoff time.Time) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) RecordRunStart(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeJobRepo) RecordRunResult(ctx context.Context, id uuid.UUID, status store.JobStatus, durationSeconds float64, transferred string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.LastStatus = status
	f.jobs[id] = j
	return nil
}

// fakeJobLogRepo implements repository.JobLogRepository.
type fakeJobLogRepo struct {
	mu     sync.Mutex
	logs   map[uuid.UUID]store.JobLog
	closed []uuid.UUID
}

func newFakeJobLogRepo(logs ...store.JobLog) *fakeJobLogRepo {
	f := &fakeJobLogRepo{logs: make(map[uuid.UUID]store.JobLog)}
	for _, l := range logs {
		f.logs[l.ID] = l
	}
	return f
}

func (f *fakeJobLogRepo) Create(ctx context.Context, l *store.JobLog) error { return nil }
func (f *fakeJobLogRepo) Complete(ctx context.Context, id uuid.UUID, status store.LogStatus, message, stdout, stderr string, durationSeconds float64, transferred string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.logs[id]
	l.Status = status
	l.Message = message
	f.logs[id] = l
	f.closed = append(f.closed, id)
	return nil
}
func (f *fakeJobLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.JobLog, error) {
	return nil, nil
}
func (f *fakeJobLogRepo) ListByJob(ctx context.Context, jobID uuid.UUID, opts repository.ListOptions) ([]store.JobLog, error) {
	return nil, nil
}
func (f *fakeJobLogRepo) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]store.JobLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.JobLog, 0)
	for _, l := range f.logs {
		if l.Status == store.LogStatusStarted && l.StartedAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}
func (f *fakeJobLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakeSysCfgRepo implements repository.SystemConfigRepository over a map.
type fakeSysCfgRepo struct {
	values map[string]string
}

func newFakeSysCfgRepo(values map[string]string) *fakeSysCfgRepo {
	return &fakeSysCfgRepo{values: values}
}

func (f *fakeSysCfgRepo) Get(ctx context.Context, key string) (*store.SystemConfig, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &store.SystemConfig{Key: key, Value: store.EncryptedString(v)}, nil
}
func (f *fakeSysCfgRepo) Set(ctx context.Context, cfg *store.SystemConfig) error {
	f.values[cfg.Key] = string(cfg.Value)
	return nil
}
func (f *fakeSysCfgRepo) List(ctx context.Context) ([]store.SystemConfig, error) { return nil, nil }
func (f *fakeSysCfgRepo) ListByCategory(ctx context.Context, category string) ([]store.SystemConfig, error) {
	return nil, nil
}

type fakeExecutor struct {
	mu  sync.Mutex
	ran []uuid.UUID
}

func (f *fakeExecutor) RunScheduled(ctx context.Context, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, jobID)
	return nil
}

func (f *fakeExecutor) runs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, len(f.ran))
	copy(out, f.ran)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeNotifier) DailyDigest(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func TestScheduler_TickDispatchesDueJob(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	past := time.Now().UTC().Add(-2 * time.Minute)
	job := store.Job{
		Active:    true,
		Cron:      "* * * * *",
		LastRunAt: &past,
	}
	job.ID = jobID
	job.CreatedAt = time.Now().UTC()

	jobs := newFakeJobRepo(job)
	logs := newFakeJobLogRepo()
	sysCfg := newFakeSysCfgRepo(map[string]string{})
	exec := &fakeExecutor{}
	notif := &fakeNotifier{}

	s := New(jobs, logs, sysCfg, exec, notif, zap.NewNop())
	s.mu.Lock()
	s.seedNextFireLocked(&job, past)
	s.nextFire[jobID] = past.Add(1 * time.Minute) // already due relative to "now" below
	s.mu.Unlock()

	s.tick(time.Now().UTC())

	// Allow the dispatch goroutine to run.
	time.Sleep(50 * time.Millisecond)

	runs := exec.runs()
	if len(runs) != 1 || runs[0] != jobID {
		t.Fatalf("expected job %s to be dispatched once, got %v", jobID, runs)
	}
}

func TestScheduler_RemoveJobClearsNextFire(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	s := New(newFakeJobRepo(), newFakeJobLogRepo(), newFakeSysCfgRepo(nil), &fakeExecutor{}, &fakeNotifier{}, zap.NewNop())

	s.mu.Lock()
	s.nextFire[jobID] = time.Now().UTC()
	s.mu.Unlock()

	s.removeJob(jobID)

	s.mu.Lock()
	_, ok := s.nextFire[jobID]
	s.mu.Unlock()
	if ok {
		t.Fatal("expected next-fire entry to be removed")
	}
}

func TestScheduler_OnJobCreatedOrUpdated_InactiveClearsEntry(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	s := New(newFakeJobRepo(), newFakeJobLogRepo(), newFakeSysCfgRepo(nil), &fakeExecutor{}, &fakeNotifier{}, zap.NewNop())

	active := store.Job{Active: true, Cron: "*/5 * * * *"}
	active.ID = jobID
	s.OnJobCreatedOrUpdated(&active)
	s.mu.Lock()
	_, ok := s.nextFire[jobID]
	s.mu.Unlock()
	if !ok {
		t.Fatal("expected active job to get a next-fire entry")
	}

	inactive := store.Job{Active: false, Cron: "*/5 * * * *"}
	inactive.ID = jobID
	s.OnJobCreatedOrUpdated(&inactive)
	s.mu.Lock()
	_, ok = s.nextFire[jobID]
	s.mu.Unlock()
	if ok {
		t.Fatal("expected deactivated job's next-fire entry to be cleared")
	}
}

func TestScheduler_RecoverStaleRuns(t *testing.T) {
	jobID := uuid.Must(uuid.NewV7())
	logID := uuid.Must(uuid.NewV7())
	staleLog := store.JobLog{
		JobID:     jobID,
		Status:    store.LogStatusStarted,
		StartedAt: time.Now().UTC().Add(-6 * time.Hour),
	}
	staleLog.ID = logID

	runningJob := store.Job{Active: true, Cron: "* * * * *", LastStatus: store.JobStatusRunning}
	runningJob.ID = jobID
	jobs := newFakeJobRepo(runningJob)
	logs := newFakeJobLogRepo(staleLog)
	sysCfg := newFakeSysCfgRepo(map[string]string{store.ConfigKeyStaleRunThresholdMinutes: "60"})

	s := New(jobs, logs, sysCfg, &fakeExecutor{}, &fakeNotifier{}, zap.NewNop())

	if err := s.recoverStaleRuns(context.Background()); err != nil {
		t.Fatalf("recoverStaleRuns: %v", err)
	}

	if len(logs.closed) != 1 || logs.closed[0] != logID {
		t.Fatalf("expected stale log to be closed, got %v", logs.closed)
	}

	updated, _ := jobs.GetByID(context.Background(), jobID)
	if updated.LastStatus != store.JobStatusFailed {
		t.Fatalf("expected job status reset to failed, got %q", updated.LastStatus)
	}
}

func TestScheduler_DigestFiresOncePerDay(t *testing.T) {
	sysCfg := newFakeSysCfgRepo(map[string]string{store.ConfigKeyDigestHour: "9"})
	notif := &fakeNotifier{}
	s := New(newFakeJobRepo(), newFakeJobLogRepo(), sysCfg, &fakeExecutor{}, notif, zap.NewNop())

	at9 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.maybeSendDigest(context.Background(), at9)
	s.maybeSendDigest(context.Background(), at9.Add(30*time.Minute))

	notif.mu.Lock()
	defer notif.mu.Unlock()
	if notif.count != 1 {
		t.Fatalf("expected digest to fire exactly once within the hour, got %d", notif.count)
	}
}
