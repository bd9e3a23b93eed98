// Package retention runs the JobLog pruning sweep: once at startup, then on
// a fixed 24-hour ticker, deleting completed JobLog rows older than the
// configured retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

const (
	sweepInterval         = 24 * time.Hour
	defaultRetentionDays  = 90
)

// Worker periodically prunes JobLog rows past their retention window.
type Worker struct {
	jobLogs repository.JobLogRepository
	sysCfg  repository.SystemConfigRepository
	logger  *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Worker. Call Start to begin sweeping.
func New(jobLogs repository.JobLogRepository, sysCfg repository.SystemConfigRepository, logger *zap.Logger) *Worker {
	return &Worker{
		jobLogs: jobLogs,
		sysCfg:  sysCfg,
		logger:  logger.Named("retention"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs an immediate sweep, then launches a background goroutine that
// sweeps again every 24 hours until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.sweep(ctx)
	go w.loop(ctx)
}

// Stop halts the ticker goroutine and waits for it to exit.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	days := defaultRetentionDays
	if cfg, err := w.sysCfg.Get(ctx, store.ConfigKeyJobLogRetentionDays); err == nil {
		var parsed int
		if n, convErr := fmt.Sscanf(string(cfg.Value), "%d", &parsed); convErr == nil && n == 1 {
			days = parsed
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := w.jobLogs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("joblog retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("pruned old job logs", zap.Int64("deleted", deleted), zap.Int("retention_days", days))
	}
}
