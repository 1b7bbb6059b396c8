package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-cmms/internal/alerts"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-cmms/internal/jobs"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

const ledgerAuditLockTTL = 30 * time.Minute

// Reconciler rebuilds stock balances from the ledger.
type Reconciler interface {
	ReconcileAll(ctx context.Context, companyID int64, concurrency int) ([]inventory.ReconcileReport, error)
}

// Locker serialises audit runs across worker replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// AlertRaiser persists a drift alert.
type AlertRaiser interface {
	Raise(ctx context.Context, alert alerts.Alert) (alerts.Alert, error)
}

// LedgerAuditSummary reports one audit run.
type LedgerAuditSummary struct {
	Stocks       int
	Inconsistent int
	ChainBreaks  int
	Drifts       int
	Skipped      bool
}

// LedgerAuditJob reconciles every stock row and raises LEDGER_DRIFT alerts.
type LedgerAuditJob struct {
	Inventory   Reconciler
	Locker      Locker
	Alerts      AlertRaiser
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewLedgerAuditJob initialises the ledger audit handler.
func NewLedgerAuditJob(inv Reconciler, locker Locker, raiser AlertRaiser, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerAuditJob {
	return &LedgerAuditJob{Inventory: inv, Locker: locker, Alerts: raiser, Logger: logger, Metrics: metrics}
}

// Handle executes the audit for the task payload.
func (j *LedgerAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run audits under the company's lock. A run already held elsewhere is skipped.
func (j *LedgerAuditJob) Run(ctx context.Context, payload LedgerAuditPayload) (summary LedgerAuditSummary, err error) {
	if j == nil || j.Inventory == nil {
		return summary, errors.New("ledger audit: handler not configured")
	}
	if payload.Concurrency <= 0 {
		payload.Concurrency = j.Concurrency
	}
	tracker := j.metrics().Track(TaskLedgerAudit)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("company_id", payload.CompanyID))
	start := time.Now()
	audit := func(ctx context.Context) error {
		var err error
		summary, err = j.audit(ctx, logger, payload)
		return err
	}
	if j.Locker == nil {
		err = audit(ctx)
	} else {
		err = j.Locker.WithLock(ctx, shared.LedgerAuditLockKey(payload.CompanyID), ledgerAuditLockTTL, audit)
	}
	if errors.Is(err, lock.ErrNotObtained) {
		logger.Info("ledger audit already running elsewhere")
		tracker.Skip()
		return LedgerAuditSummary{Skipped: true}, nil
	}
	if err != nil {
		logger.Error("ledger audit failed", slog.Any("error", err))
		return summary, err
	}
	logger.Info("completed ledger audit",
		slog.Int("stocks", summary.Stocks),
		slog.Int("inconsistent", summary.Inconsistent),
		slog.Int("chain_breaks", summary.ChainBreaks),
		slog.Int("drifts", summary.Drifts),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *LedgerAuditJob) audit(ctx context.Context, logger *slog.Logger, payload LedgerAuditPayload) (LedgerAuditSummary, error) {
	reports, err := j.Inventory.ReconcileAll(ctx, payload.CompanyID, payload.Concurrency)
	if err != nil {
		return LedgerAuditSummary{}, err
	}
	summary := LedgerAuditSummary{Stocks: len(reports)}
	for _, report := range reports {
		if report.Consistent() {
			continue
		}
		summary.Inconsistent++
		breaks := len(report.Breaks)
		drift := !report.StockQuantity.Equal(report.LedgerSum) || !report.StockQuantity.Equal(report.LastBalance)
		summary.ChainBreaks += breaks
		j.metrics().AddLedgerFindings("chain_break", report.CompanyID, breaks)
		if drift {
			summary.Drifts++
			j.metrics().AddLedgerFindings("drift", report.CompanyID, 1)
		}
		j.raise(ctx, logger, report)
	}
	return summary, nil
}

func (j *LedgerAuditJob) raise(ctx context.Context, logger *slog.Logger, report inventory.ReconcileReport) {
	if j.Alerts == nil {
		return
	}
	_, err := j.Alerts.Raise(ctx, alerts.Alert{
		CompanyID: report.CompanyID,
		Type:      alerts.TypeLedgerDrift,
		Severity:  alerts.SeverityCritical,
		Title:     fmt.Sprintf("Stock ledger drift: item %d store %d", report.ItemID, report.StoreID),
		Message: fmt.Sprintf("Stock quantity %s, ledger sum %s, last balance %s, %d chain breaks across %d entries.",
			report.StockQuantity, report.LedgerSum, report.LastBalance, len(report.Breaks), report.Entries),
		ReferenceType: "ITEM",
		ReferenceID:   report.ItemID,
	})
	if err != nil {
		logger.Warn("raise ledger drift alert",
			slog.Int64("item_id", report.ItemID),
			slog.Int64("store_id", report.StoreID),
			slog.Any("error", err),
		)
	}
}

func (j *LedgerAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerAudit))
	}
	return slog.Default().With(slog.String("job", TaskLedgerAudit))
}

func (j *LedgerAuditJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
