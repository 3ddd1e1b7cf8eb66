package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/alexandria-ils/alexandria/internal/acquisition"
	"github.com/alexandria-ils/alexandria/internal/app"
	"github.com/alexandria-ils/alexandria/internal/integrity"
	"github.com/alexandria-ils/alexandria/internal/notification"
	"github.com/alexandria-ils/alexandria/internal/observability"
	"github.com/alexandria-ils/alexandria/internal/patronfee"
	"github.com/alexandria-ils/alexandria/internal/platform/cache"
	"github.com/alexandria-ils/alexandria/internal/platform/db"
	"github.com/alexandria-ils/alexandria/internal/shared"
	"github.com/alexandria-ils/alexandria/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	notificationRepo := notification.NewRepository(pool)
	sender := &notification.SMTPSender{Addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)}
	dispatcher := notification.NewMailDispatcher(notificationRepo, sender, cfg.SMTPFrom, logger)

	registry := integrity.NewRegistry()

	acquisitionRepo := acquisition.NewRepository(pool)
	acquisition.RegisterLinkSources(registry, acquisitionRepo)

	patronFeeRepo := patronfee.NewRepository(pool)
	patronfee.RegisterLinkSources(registry, patronFeeRepo)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	acquisitionService := acquisition.NewService(acquisition.ServiceParams{
		Logger:          logger,
		Repo:            acquisitionRepo,
		Notifications:   notificationRepo,
		Dispatcher:      dispatcher,
		Reindexer:       jobClient,
		Audit:           auditLogger,
		Registry:        registry,
		Metrics:         metrics,
		DispatchTimeout: cfg.DispatchTimeout,
	})
	projector := acquisition.NewProjector(redisClient, acquisitionRepo)
	acquisitionHandler := acquisition.NewHandler(logger, acquisitionService, projector)

	feePolicy := patronfee.NewOverduePolicy(cfg.OverdueFee(), patronFeeRepo)
	patronFeeService := patronfee.NewService(patronfee.ServiceParams{
		Logger:        logger,
		Repo:          patronFeeRepo,
		Fees:          feePolicy,
		Organisations: patronFeeRepo,
		Idempotency:   idempotencyStore,
		Audit:         auditLogger,
		Registry:      registry,
	})
	patronFeeHandler := patronfee.NewHandler(logger, patronFeeService, notificationRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AcquisitionHandler: acquisitionHandler,
		PatronFeeHandler:   patronFeeHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
