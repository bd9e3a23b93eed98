package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ridgeline-systems/zvault/internal/apifacade"
	"github.com/ridgeline-systems/zvault/internal/apifacade/httpref"
	"github.com/ridgeline-systems/zvault/internal/config"
	"github.com/ridgeline-systems/zvault/internal/executor"
	"github.com/ridgeline-systems/zvault/internal/hvops"
	"github.com/ridgeline-systems/zvault/internal/metrics"
	"github.com/ridgeline-systems/zvault/internal/notifier"
	"github.com/ridgeline-systems/zvault/internal/remoteexec"
	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/retention"
	"github.com/ridgeline-systems/zvault/internal/scheduler"
	"github.com/ridgeline-systems/zvault/internal/store"
	"github.com/ridgeline-systems/zvault/internal/zfsops"
	"github.com/ridgeline-systems/zvault/internal/zlog"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "zvaultd",
		Short: "zvaultd — ZFS/Proxmox replication control plane",
		Long: `zvaultd schedules and runs ZFS dataset replication jobs across Nodes,
optionally registering the replicated guest on the destination hypervisor,
and notifies operators of run outcomes over SMTP, webhook, or chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.BindFlags(root, cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zvaultd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := zlog.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting zvaultd",
		zap.String("version", version),
		zap.String("port", cfg.Port),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before opening the database so EncryptedString
	// fields can encrypt/decrypt transparently on read/write. The secret key
	// is padded or truncated to exactly 32 bytes (AES-256). An unset secret
	// key falls back to a random, process-lifetime-only key: every
	// EncryptedString value becomes unrecoverable on restart, so this is
	// only fit for development.
	var keyBytes []byte
	if cfg.SecretKey == "" {
		keyBytes = make([]byte, 32)
		if _, err := rand.Read(keyBytes); err != nil {
			return fmt.Errorf("failed to generate a random secret key: %w", err)
		}
		logger.Warn("ZVAULT_SECRET_KEY not set — generated a random process-lifetime key; " +
			"encrypted data will be unrecoverable after restart")
	} else {
		keyBytes = make([]byte, 32)
		copy(keyBytes, []byte(cfg.SecretKey))
	}
	if err := store.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := store.New(store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	nodeRepo := repository.NewNodeRepository(gormDB)
	jobRepo := repository.NewJobRepository(gormDB)
	jobLogRepo := repository.NewJobLogRepository(gormDB)
	sysCfgRepo := repository.NewSystemConfigRepository(gormDB)
	notifCfgRepo := repository.NewNotificationConfigRepository(gormDB)

	// --- 4. Transport and domain-op layers ---
	pool := remoteexec.New(logger)
	zfs := zfsops.New(pool)
	hv := hvops.New(pool)

	// --- 5. Notifier (no dependency on Scheduler/Executor) ---
	notif := notifier.New(notifCfgRepo, jobRepo, jobLogRepo, nodeRepo, logger)

	// --- 6. Scheduler and Executor ---
	// Scheduler.New requires an Executor at construction, but Executor.New
	// requires the Scheduler itself as its RetryScheduler — constructed
	// with a nil Executor first and wired via SetExecutor once Executor
	// exists, breaking the cycle.
	sched := scheduler.New(jobRepo, jobLogRepo, sysCfgRepo, nil, notif, logger)

	exec := executor.New(nodeRepo, jobRepo, jobLogRepo, sysCfgRepo, zfs, hv, pool, notif, sched, logger)
	sched.SetExecutor(exec)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// --- 7. Retention worker ---
	retentionWorker := retention.New(jobLogRepo, sysCfgRepo, logger)
	retentionWorker.Start(ctx)
	defer retentionWorker.Stop()

	// --- 8. APIFacade ---
	facade := apifacade.New(nodeRepo, jobRepo, jobLogRepo, sysCfgRepo, notifCfgRepo, sched, exec, logger)

	// --- 9. HTTP reference server ---
	// This is only a demonstration that APIFacade is callable from a
	// standard web framework — the in-scope HTTP surface, request
	// validation, and session/token issuance live outside this repository.
	router := httpref.New(facade, logger, keyBytes)
	mux := http.NewServeMux()
	mux.Handle("/", router.Handler())
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http reference server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down zvaultd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("zvaultd stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
