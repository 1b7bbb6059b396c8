package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-cmms/internal/alerts"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/meters"
	"github.com/odyssey-erp/odyssey-cmms/internal/observability"
	"github.com/odyssey-erp/odyssey-cmms/internal/pm"
	"github.com/odyssey-erp/odyssey-cmms/internal/returns"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// ServicesParams groups what the domain services need from the process.
type ServicesParams struct {
	Pool       *pgxpool.Pool
	Config     *Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Dispatcher alerts.Dispatcher
	DueNotify  pm.Notifier
}

// Services is the wired maintenance core shared by the API and the worker.
type Services struct {
	Inventory *inventory.Service
	Returns   *returns.Service
	Meters    *meters.Service
	PM        *pm.Service
	Alerts    *alerts.Service
}

// NewServices wires repositories and services over one pool.
func NewServices(params ServicesParams) (*Services, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := params.Config.Location()
	if err != nil {
		return nil, err
	}
	auditLogger := shared.NewAuditLogger(params.Pool)

	alertService := alerts.NewService(alerts.NewRepository(params.Pool), params.Dispatcher, nil, logger)

	inventoryService := inventory.NewService(inventory.NewRepository(params.Pool), auditLogger, inventory.ServiceConfig{
		Observer: params.Metrics,
		Logger:   logger,
	})

	returnsService := returns.NewService(returns.NewRepository(params.Pool), inventoryService.Ledger(), auditLogger, returns.ServiceConfig{
		Observer: params.Metrics,
		Logger:   logger,
	})

	pmService := pm.NewService(pm.NewRepository(params.Pool), pm.ServiceConfig{
		Audit:    auditLogger,
		Notifier: params.DueNotify,
		Logger:   logger,
	})

	metersService := meters.NewService(meters.NewRepository(params.Pool), meters.ServiceConfig{
		Audit:       auditLogger,
		Alerts:      alertService,
		Idempotency: shared.NewIdempotencyStore(params.Pool),
		Due:         pmService,
		Observer:    params.Metrics,
		Location:    loc,
		Logger:      logger,
	})

	return &Services{
		Inventory: inventoryService,
		Returns:   returnsService,
		Meters:    metersService,
		PM:        pmService,
		Alerts:    alertService,
	}, nil
}
