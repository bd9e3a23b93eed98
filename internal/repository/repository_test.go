package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ridgeline-systems/zvault/internal/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if err := store.InitEncryption(make([]byte, 32)); err != nil {
		t.Fatalf("init encryption: %v", err)
	}
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&store.Node{}, &store.Dataset{}, &store.Job{}, &store.JobLog{},
		&store.NotificationConfig{}, &store.SystemConfig{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestNode(name string) *store.Node {
	return &store.Node{
		Name:             name,
		Host:             "10.0.0.1",
		Port:             22,
		User:             "root",
		CredentialHandle: "/etc/zvault/keys/id_ed25519",
	}
}

func TestNodeRepository_AuthNodeCardinality(t *testing.T) {
	db := newTestDB(t)
	repo := NewNodeRepository(db)
	ctx := context.Background()

	first := newTestNode("node-a")
	first.IsAuthNode = true
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create first auth node: %v", err)
	}

	second := newTestNode("node-b")
	second.IsAuthNode = true
	err := repo.Create(ctx, second)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for second auth node, got %v", err)
	}
}

func TestNodeRepository_UniqueName(t *testing.T) {
	db := newTestDB(t)
	repo := NewNodeRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestNode("dup")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := repo.Create(ctx, newTestNode("dup"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}
}

func TestNodeRepository_DeleteRefusedWhenReferenced(t *testing.T) {
	db := newTestDB(t)
	nodes := NewNodeRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	src := newTestNode("src")
	dst := newTestNode("dst")
	if err := nodes.Create(ctx, src); err != nil {
		t.Fatalf("create src: %v", err)
	}
	if err := nodes.Create(ctx, dst); err != nil {
		t.Fatalf("create dst: %v", err)
	}

	job := &store.Job{
		Name:          "replicate",
		Active:        true,
		SourceNodeID:  src.ID,
		SourceDataset: "tank/vms",
		DestNodeID:    dst.ID,
		DestDataset:   "tank/backup/vms",
		Cron:          "0 * * * *",
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := nodes.Delete(ctx, src.ID); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant deleting referenced node, got %v", err)
	}

	job.Active = false
	if err := jobs.Update(ctx, job); err != nil {
		t.Fatalf("deactivate job: %v", err)
	}
	if err := nodes.Delete(ctx, src.ID); err != nil {
		t.Fatalf("expected delete to succeed once job inactive, got %v", err)
	}
}

func TestJobRepository_VMGroupInvariant(t *testing.T) {
	db := newTestDB(t)
	nodes := NewNodeRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	src := newTestNode("src")
	dst := newTestNode("dst")
	other := newTestNode("other")
	_ = nodes.Create(ctx, src)
	_ = nodes.Create(ctx, dst)
	_ = nodes.Create(ctx, other)

	group := uuid.New()
	guestID := 100

	first := &store.Job{
		Name: "first", Active: true,
		SourceNodeID: src.ID, SourceDataset: "tank/a", DestNodeID: dst.ID, DestDataset: "tank/a-bak",
		Cron: "* * * * *", VMGroupID: &group, SourceGuestID: &guestID,
	}
	if err := jobs.Create(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	sameGuestID := guestID
	consistent := &store.Job{
		Name: "consistent", Active: true,
		SourceNodeID: src.ID, SourceDataset: "tank/b", DestNodeID: dst.ID, DestDataset: "tank/b-bak",
		Cron: "* * * * *", VMGroupID: &group, SourceGuestID: &sameGuestID,
	}
	if err := jobs.Create(ctx, consistent); err != nil {
		t.Fatalf("expected consistent group member to be accepted, got %v", err)
	}

	mismatchedNode := &store.Job{
		Name: "mismatched-node", Active: true,
		SourceNodeID: src.ID, SourceDataset: "tank/c", DestNodeID: other.ID, DestDataset: "tank/c-bak",
		Cron: "* * * * *", VMGroupID: &group, SourceGuestID: &sameGuestID,
	}
	if err := jobs.Create(ctx, mismatchedNode); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for mismatched dest node, got %v", err)
	}

	otherGuestID := 200
	mismatchedGuest := &store.Job{
		Name: "mismatched-guest", Active: true,
		SourceNodeID: src.ID, SourceDataset: "tank/d", DestNodeID: dst.ID, DestDataset: "tank/d-bak",
		Cron: "* * * * *", VMGroupID: &group, SourceGuestID: &otherGuestID,
	}
	if err := jobs.Create(ctx, mismatchedGuest); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for mismatched guest id, got %v", err)
	}

	// Updating an existing member to itself must not be rejected as a false
	// conflict against its own row.
	consistent.DestDataset = "tank/b-bak2"
	if err := jobs.Update(ctx, consistent); err != nil {
		t.Fatalf("expected self-update to succeed, got %v", err)
	}
}

func TestJobRepository_ListActiveWithCron(t *testing.T) {
	db := newTestDB(t)
	nodes := NewNodeRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	src := newTestNode("src")
	dst := newTestNode("dst")
	_ = nodes.Create(ctx, src)
	_ = nodes.Create(ctx, dst)

	active := &store.Job{Name: "active", Active: true, SourceNodeID: src.ID, SourceDataset: "a", DestNodeID: dst.ID, DestDataset: "b", Cron: "* * * * *"}
	inactive := &store.Job{Name: "inactive", Active: false, SourceNodeID: src.ID, SourceDataset: "a", DestNodeID: dst.ID, DestDataset: "c", Cron: "* * * * *"}
	if err := jobs.Create(ctx, active); err != nil {
		t.Fatalf("create active: %v", err)
	}
	if err := jobs.Create(ctx, inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	got, err := jobs.ListActiveWithCron(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Fatalf("expected only the active job, got %+v", got)
	}
}

func TestJobRepository_RecordRunResult(t *testing.T) {
	db := newTestDB(t)
	nodes := NewNodeRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	src := newTestNode("src")
	dst := newTestNode("dst")
	_ = nodes.Create(ctx, src)
	_ = nodes.Create(ctx, dst)

	job := &store.Job{Name: "j", Active: true, SourceNodeID: src.ID, SourceDataset: "a", DestNodeID: dst.ID, DestDataset: "b", Cron: "* * * * *"}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := jobs.RecordRunResult(ctx, job.ID, store.JobStatusFailed, 1.5, "", false); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, err := jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConsecutiveFailures != 1 || got.ErrorCount != 1 || got.RunCount != 1 {
		t.Fatalf("unexpected counters after failure: %+v", got)
	}

	if err := jobs.RecordRunResult(ctx, job.ID, store.JobStatusSuccess, 1.0, "12M", true); err != nil {
		t.Fatalf("record success: %v", err)
	}
	got, err = jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConsecutiveFailures != 0 || got.ErrorCount != 1 || got.RunCount != 2 {
		t.Fatalf("unexpected counters after success: %+v", got)
	}
}

func TestJobLogRepository_CreateComplete(t *testing.T) {
	db := newTestDB(t)
	nodes := NewNodeRepository(db)
	jobs := NewJobRepository(db)
	logs := NewJobLogRepository(db)
	ctx := context.Background()

	src := newTestNode("src")
	dst := newTestNode("dst")
	_ = nodes.Create(ctx, src)
	_ = nodes.Create(ctx, dst)
	job := &store.Job{Name: "j", Active: true, SourceNodeID: src.ID, SourceDataset: "a", DestNodeID: dst.ID, DestDataset: "b", Cron: "* * * * *"}
	_ = jobs.Create(ctx, job)

	log := &store.JobLog{
		JobID:     job.ID,
		Kind:      store.LogKindSync,
		Status:    store.LogStatusStarted,
		StartedAt: time.Now().UTC(),
	}
	if err := logs.Create(ctx, log); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := logs.Complete(ctx, log.ID, store.LogStatusSuccess, "ok", "", "", 2.3, "5M"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := logs.GetByID(ctx, log.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.LogStatusSuccess || got.CompletedAt == nil {
		t.Fatalf("expected completed log, got %+v", got)
	}
}

func TestSystemConfigRepository_GetSet(t *testing.T) {
	db := newTestDB(t)
	repo := NewSystemConfigRepository(db)
	ctx := context.Background()

	cfg := &store.SystemConfig{Key: store.ConfigKeyDigestHour, Value: "8", ValueType: "int", Category: "notifications"}
	if err := repo.Set(ctx, cfg); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := repo.Get(ctx, store.ConfigKeyDigestHour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != "8" {
		t.Fatalf("expected value 8, got %q", got.Value)
	}

	if _, err := repo.Get(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
