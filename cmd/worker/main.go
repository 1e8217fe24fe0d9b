package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/common/logger"
	"trackmirror.app/syncd/common/otel"
	"trackmirror.app/syncd/core/config"
	"trackmirror.app/syncd/core/db"
	"trackmirror.app/syncd/internal/backoff"
	"trackmirror.app/syncd/internal/engine"
	"trackmirror.app/syncd/internal/jira"
	"trackmirror.app/syncd/internal/notify"
	"trackmirror.app/syncd/internal/scheduler"
	"trackmirror.app/syncd/internal/store"
	"trackmirror.app/syncd/internal/syncer"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "syncd worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Engine.RunGroup,
		"consumer_name", cfg.Engine.Consumer)

	// Use a different node ID than the server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Engine.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Engine.RunStream)

	engineClient := engine.NewPostgresClient(database, redisClient, cfg.Engine.RunStream, cfg.Engine.TaskQueue)
	stores := store.NewStores(database.Pool())

	manager := scheduler.NewManager(stores.SyncJobs(), stores.SyncStates(), stores.SyncLogs(), engineClient, cfg.Sync)

	dispatcher := notify.NewDispatcher(
		notify.NewEmailSender(cfg.Notify.SMTPAddr, cfg.Notify.SMTPFrom),
		notify.NewChatSender(cfg.Notify.ChatWebhookURL),
	)
	controller := backoff.NewController(stores.SyncJobs(), stores.SyncLogs(), manager, dispatcher, cfg.Notify)

	remote := jira.NewClient(cfg.Sync.RequestTimeout)
	activities := syncer.NewActivities(stores, remote, controller, cfg.Sync)
	workflow := syncer.NewWorkflow(activities)

	registry := engine.NewRegistry()
	registry.Register(syncer.WorkflowType, workflow.Run)

	executor, err := engine.NewExecutor(database, redisClient, registry, engine.ConsumerConfig{
		Stream:       cfg.Engine.RunStream,
		Group:        cfg.Engine.RunGroup,
		Consumer:     cfg.Engine.Consumer,
		DLQStream:    cfg.Engine.RunDLQStream,
		BatchSize:    1, // One run at a time; pagination makes runs long
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Engine.MaxDispatches,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create executor", "error", err)
		os.Exit(1)
	}

	cronScheduler := engine.NewScheduler(database, engineClient, cfg.Engine.SchedulerTick)

	reclaimer := engine.NewReclaimer(redisClient, engine.ReclaimerConfig{
		Stream:    cfg.Engine.RunStream,
		Group:     cfg.Engine.RunGroup,
		Consumer:  cfg.Engine.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, executor)

	errCh := make(chan error, 3)
	go func() {
		errCh <- executor.Run(ctx)
	}()
	go func() {
		cronScheduler.Run(ctx)
		errCh <- nil
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Quick ones first, then the executor which may be mid-run
	cronScheduler.Stop()
	reclaimer.Stop()
	executor.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
███████╗██╗   ██╗███╗   ██╗ ██████╗██████╗     ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝██╔══██╗    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
███████╗ ╚████╔╝ ██╔██╗ ██║██║     ██║  ██║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
╚════██║  ╚██╔╝  ██║╚██╗██║██║     ██║  ██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
███████║   ██║   ██║ ╚████║╚██████╗██████╔╝    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝╚═════╝      ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
