package retention

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

type fakeJobLogRepo struct {
	cutoffSeen time.Time
	toDelete   int64
}

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
	f.cutoffSeen = cutoff
	return f.toDelete, nil
}

type fakeSysCfgRepo struct {
	values map[string]string
}

func (f *fakeSysCfgRepo) Get(ctx context.Context, key string) (*store.SystemConfig, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &store.SystemConfig{Key: key, Value: store.EncryptedString(v)}, nil
}
func (f *fakeSysCfgRepo) Set(ctx context.Context, cfg *store.SystemConfig) error { return nil }
func (f *fakeSysCfgRepo) List(ctx context.Context) ([]store.SystemConfig, error) { return nil, nil }
func (f *fakeSysCfgRepo) ListByCategory(ctx context.Context, category string) ([]store.SystemConfig, error) {
	return nil, nil
}

func TestSweep_UsesConfiguredRetentionDays(t *testing.T) {
	jobLogs := &fakeJobLogRepo{toDelete: 5}
	sysCfg := &fakeSysCfgRepo{values: map[string]string{store.ConfigKeyJobLogRetentionDays: "30"}}

	w := New(jobLogs, sysCfg, zap.NewNop())
	w.sweep(context.Background())

	wantCutoff := time.Now().UTC().AddDate(0, 0, -30)
	if diff := wantCutoff.Sub(jobLogs.cutoffSeen); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected cutoff near %v, got %v", wantCutoff, jobLogs.cutoffSeen)
	}
}

func TestSweep_FallsBackToDefaultWhenUnconfigured(t *testing.T) {
	jobLogs := &fakeJobLogRepo{}
	sysCfg := &fakeSysCfgRepo{}

	w := New(jobLogs, sysCfg, zap.NewNop())
	w.sweep(context.Background())

	wantCutoff := time.Now().UTC().AddDate(0, 0, -defaultRetentionDays)
	if diff := wantCutoff.Sub(jobLogs.cutoffSeen); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected default-90-day cutoff near %v, got %v", wantCutoff, jobLogs.cutoffSeen)
	}
}
