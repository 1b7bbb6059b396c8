package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-cmms/internal/app"
	"github.com/odyssey-erp/odyssey-cmms/internal/auth"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/meters"
	"github.com/odyssey-erp/odyssey-cmms/internal/observability"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-cmms/internal/pm"
	"github.com/odyssey-erp/odyssey-cmms/internal/returns"
	"github.com/odyssey-erp/odyssey-cmms/jobs"
)

func runServe(ctx context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.AuthTokenSecret, cfg.AuthTokenIssuer)
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return err
	}
	defer pool.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(app.ServicesParams{
		Pool:       pool,
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Dispatcher: jobClient,
		DueNotify:  jobClient,
	})
	if err != nil {
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Verifier:         verifier,
		InventoryHandler: inventory.NewHandler(logger, services.Inventory),
		ReturnsHandler:   returns.NewHandler(logger, services.Returns),
		MetersHandler:    meters.NewHandler(logger, services.Meters),
		PMHandler:        pm.NewHandler(logger, services.PM),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}
