package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListStocks(ctx context.Context, companyID int64) ([]ItemStock, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LedgerFilter selects ledger entries of one stock row, oldest first. Limit <= 0 returns all.
type LedgerFilter struct {
	CompanyID int64
	ItemID    int64
	StoreID   int64
	Limit     int
}

// MovementResult carries a committed entry and any secondary failures.
type MovementResult struct {
	Entry   LedgerEntry
	Outcome shared.Outcome
}

// Service coordinates inventory operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	ledger   *Ledger
	observer MovementObserver
	logger   *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Clock    func() time.Time
	Observer MovementObserver
	Logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		ledger:   NewLedger(cfg.Clock),
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Ledger exposes the posting engine for workflows that share a transaction.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// RecordMovement posts exactly one ledger entry and updates the stock row atomically.
func (s *Service) RecordMovement(ctx context.Context, p shared.Principal, m Movement) (MovementResult, error) {
	if err := p.Validate(); err != nil {
		return MovementResult{}, err
	}
	m.CompanyID = p.CompanyID
	m.ActorID = p.UserID
	if err := m.validate(); err != nil {
		return MovementResult{}, err
	}

	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.ledger.Post(ctx, tx, m)
		return err
	})
	if err != nil {
		return MovementResult{}, shared.Classify("inventory: record movement", err)
	}

	result := MovementResult{Entry: entry}
	if s.observer != nil {
		s.observer.ObserveMovement(entry)
	}
	result.Outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, entry))
	if result.Outcome.Degraded() {
		s.logger.Warn("inventory movement committed with secondary failures",
			slog.String("code", entry.Code), slog.Any("error", result.Outcome.Err()))
	}
	return result, nil
}

// OpenStock creates the zero quantity stock row for an item at a store.
func (s *Service) OpenStock(ctx context.Context, p shared.Principal, itemID, storeID int64) (ItemStock, error) {
	if err := p.Validate(); err != nil {
		return ItemStock{}, err
	}
	if itemID <= 0 || storeID <= 0 {
		return ItemStock{}, fmt.Errorf("%w: item and store required", shared.ErrInvalidInput)
	}
	stock := ItemStock{CompanyID: p.CompanyID, ItemID: itemID, StoreID: storeID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItem(ctx, p.CompanyID, itemID); err != nil {
			return err
		}
		ok, err := tx.StoreExists(ctx, p.CompanyID, storeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrStoreNotFound, storeID)
		}
		id, err := tx.InsertStock(ctx, stock)
		if err != nil {
			return err
		}
		stock.ID = id
		return nil
	})
	if err != nil {
		return ItemStock{}, shared.Classify("inventory: open stock", err)
	}
	return stock, nil
}

// ListLedger lists entries for one stock row.
func (s *Service) ListLedger(ctx context.Context, p shared.Principal, filter LedgerFilter) ([]LedgerEntry, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if filter.ItemID <= 0 || filter.StoreID <= 0 {
		return nil, fmt.Errorf("%w: item and store required", shared.ErrInvalidInput)
	}
	filter.CompanyID = p.CompanyID
	entries, err := s.repo.ListLedger(ctx, filter)
	return entries, shared.Classify("inventory: list ledger", err)
}

// Reconcile rebuilds the balance of one stock row from its ledger.
func (s *Service) Reconcile(ctx context.Context, companyID, itemID, storeID int64) (ReconcileReport, error) {
	return s.reconcileStock(ctx, ItemStock{CompanyID: companyID, ItemID: itemID, StoreID: storeID})
}

// ReconcileAll reconciles every stock row of a company (all companies when
// companyID is 0) with at most concurrency rows in flight.
func (s *Service) ReconcileAll(ctx context.Context, companyID int64, concurrency int) ([]ReconcileReport, error) {
	stocks, err := s.repo.ListStocks(ctx, companyID)
	if err != nil {
		return nil, shared.Classify("inventory: list stocks", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	reports := make([]ReconcileReport, len(stocks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, stock := range stocks {
		g.Go(func() error {
			report, err := s.reconcileStock(ctx, stock)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// reconcileStock reads the stock row and its ledger from one snapshot. The
// shared row lock waits out in-flight movements on the row, so a posting that
// commits mid-sweep never shows up as drift.
func (s *Service) reconcileStock(ctx context.Context, key ItemStock) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForShare(ctx, key.CompanyID, key.ItemID, key.StoreID)
		if err != nil {
			return err
		}
		entries, err := tx.ListLedger(ctx, LedgerFilter{CompanyID: stock.CompanyID, ItemID: stock.ItemID, StoreID: stock.StoreID})
		if err != nil {
			return err
		}
		report = Reconcile(stock, entries)
		return nil
	})
	if err != nil {
		return ReconcileReport{}, shared.Classify("inventory: reconcile", err)
	}
	if !report.Consistent() {
		s.logger.Warn("stock ledger mismatch",
			slog.Int64("company_id", report.CompanyID),
			slog.Int64("item_id", report.ItemID),
			slog.Int64("store_id", report.StoreID),
			slog.String("stock", report.StockQuantity.String()),
			slog.String("ledger_sum", report.LedgerSum.String()),
			slog.Int("breaks", len(report.Breaks)),
		)
	}
	return report, nil
}

func (s *Service) recordAudit(ctx context.Context, entry LedgerEntry) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: entry.CompanyID,
		ActorID:   entry.CreatedBy,
		Action:    fmt.Sprintf("inventory:%s", entry.Type),
		Entity:    "stock_ledger",
		EntityID:  entry.Code,
		NewValue:  EntryAuditValue(entry),
		At:        entry.CreatedAt,
	})
	if err != nil {
		return errors.Join(shared.ErrDependencyFailure, err)
	}
	return nil
}

// EntryAuditValue renders an entry for audit records.
func EntryAuditValue(entry LedgerEntry) map[string]any {
	return map[string]any{
		"item_id":        entry.ItemID,
		"store_id":       entry.StoreID,
		"movement_type":  string(entry.Type),
		"quantity":       entry.Quantity.String(),
		"balance_after":  entry.BalanceAfter.String(),
		"unit_cost":      entry.UnitCost.String(),
		"total_value":    entry.TotalValue.String(),
		"reference_type": string(entry.Reference.Type),
		"reference_id":   entry.Reference.ID,
	}
}
