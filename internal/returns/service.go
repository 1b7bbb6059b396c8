package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/jobcost"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// TxRepository joins the return store with the ledger and job costing stores
// so an accept commits as one unit.
type TxRepository interface {
	inventory.TxRepository
	jobcost.TxRepository
	InsertReturn(ctx context.Context, ret ItemReturn) (int64, error)
	GetReturnForUpdate(ctx context.Context, companyID, returnID int64) (ItemReturn, error)
	ResolveReturn(ctx context.Context, ret ItemReturn) error
	RequestLineExists(ctx context.Context, companyID, lineID int64) (bool, error)
	IncrementReturnedQuantity(ctx context.Context, companyID, lineID int64, qty decimal.Decimal) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, companyID, returnID int64) (ItemReturn, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AcceptResult carries the accepted return, its ledger entry and any secondary failures.
type AcceptResult struct {
	Return  ItemReturn
	Entry   inventory.LedgerEntry
	Credit  *jobcost.CostLine
	Outcome shared.Outcome
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Clock    func() time.Time
	Observer inventory.MovementObserver
	Logger   *slog.Logger
}

// Service runs the return acceptance workflow.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	audit    AuditPort
	observer inventory.MovementObserver
	clock    func() time.Time
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, audit AuditPort, cfg ServiceConfig) *Service {
	if ledger == nil {
		ledger = inventory.NewLedger(cfg.Clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, observer: cfg.Observer, clock: clock, logger: logger}
}

// RequestReturn opens a pending return for an item at a store.
func (s *Service) RequestReturn(ctx context.Context, p shared.Principal, in RequestInput) (ItemReturn, error) {
	if err := p.Validate(); err != nil {
		return ItemReturn{}, err
	}
	if in.ItemID <= 0 || in.StoreID <= 0 {
		return ItemReturn{}, fmt.Errorf("%w: item and store required", shared.ErrInvalidInput)
	}
	if !in.Quantity.IsPositive() {
		return ItemReturn{}, ErrInvalidQuantity
	}
	ret := ItemReturn{
		CompanyID:     p.CompanyID,
		ItemID:        in.ItemID,
		StoreID:       in.StoreID,
		Quantity:      in.Quantity,
		JobID:         in.JobID,
		RequestLineID: in.RequestLineID,
		Status:        StatusPending,
		Reason:        in.Reason,
		RequestedBy:   p.UserID,
		RequestedAt:   s.clock(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItem(ctx, p.CompanyID, in.ItemID); err != nil {
			return err
		}
		ok, err := tx.StoreExists(ctx, p.CompanyID, in.StoreID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", inventory.ErrStoreNotFound, in.StoreID)
		}
		if in.RequestLineID > 0 {
			ok, err := tx.RequestLineExists(ctx, p.CompanyID, in.RequestLineID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %d", ErrRequestLineNotFound, in.RequestLineID)
			}
		}
		if in.JobID > 0 {
			if _, err := tx.GetJobForUpdate(ctx, p.CompanyID, in.JobID); err != nil {
				return err
			}
		}
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		return nil
	})
	if err != nil {
		return ItemReturn{}, shared.Classify("returns: request", err)
	}
	if err := s.recordAudit(ctx, p.UserID, "return:request", ret); err != nil {
		s.logger.Warn("return audit failed", slog.Int64("return_id", ret.ID), slog.Any("error", err))
	}
	return ret, nil
}

// GetReturn loads a return in the caller's company.
func (s *Service) GetReturn(ctx context.Context, p shared.Principal, returnID int64) (ItemReturn, error) {
	if err := p.Validate(); err != nil {
		return ItemReturn{}, err
	}
	ret, err := s.repo.GetReturn(ctx, p.CompanyID, returnID)
	return ret, shared.Classify("returns: get", err)
}

// Accept moves a pending return into stock. The ledger entry, stock update,
// return resolution, request line counter and job credit commit together.
func (s *Service) Accept(ctx context.Context, p shared.Principal, in AcceptInput) (AcceptResult, error) {
	if err := p.Validate(); err != nil {
		return AcceptResult{}, err
	}
	if err := p.Require("accept returns", resolverRoles...); err != nil {
		return AcceptResult{}, err
	}
	if in.ReturnID <= 0 {
		return AcceptResult{}, fmt.Errorf("%w: return id required", shared.ErrInvalidInput)
	}

	var result AcceptResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = AcceptResult{}
		ret, err := tx.GetReturnForUpdate(ctx, p.CompanyID, in.ReturnID)
		if err != nil {
			return err
		}
		if ret.Status != StatusPending {
			return fmt.Errorf("%w: return %d is %s", ErrAlreadyProcessed, ret.ID, ret.Status)
		}

		storeID := ret.StoreID
		if in.StoreID > 0 {
			storeID = in.StoreID
		}
		item, err := tx.GetItem(ctx, p.CompanyID, ret.ItemID)
		if err != nil {
			return err
		}
		unitCost := inventory.CostForCredit(item)

		entry, err := s.ledger.Post(ctx, tx, inventory.Movement{
			CompanyID: p.CompanyID,
			ItemID:    ret.ItemID,
			StoreID:   storeID,
			Type:      inventory.MovementReturn,
			Quantity:  ret.Quantity,
			UnitCost:  decimal.NewNullDecimal(unitCost),
			Reference: inventory.Reference{Type: inventory.ReferenceReturn, ID: ret.ID},
			ActorID:   p.UserID,
		})
		if err != nil {
			return err
		}

		now := s.clock()
		totalCredit := ret.Quantity.Mul(unitCost)
		ret.Status = StatusAccepted
		ret.UnitCost = decimal.NewNullDecimal(unitCost)
		ret.TotalCredit = decimal.NewNullDecimal(totalCredit)
		ret.ResolvedStoreID = storeID
		ret.ResolvedBy = p.UserID
		ret.ResolvedAt = &now
		if err := tx.ResolveReturn(ctx, ret); err != nil {
			return err
		}

		if ret.RequestLineID > 0 {
			if err := tx.IncrementReturnedQuantity(ctx, p.CompanyID, ret.RequestLineID, ret.Quantity); err != nil {
				return err
			}
		}

		if unitCost.IsPositive() && ret.JobID > 0 {
			line, err := jobcost.CreditMaterialCost(ctx, tx, jobcost.Credit{
				CompanyID:  p.CompanyID,
				JobID:      ret.JobID,
				ItemID:     ret.ItemID,
				Quantity:   ret.Quantity,
				UnitCost:   unitCost,
				SourceType: string(inventory.ReferenceReturn),
				SourceID:   ret.ID,
				ActorID:    p.UserID,
				At:         now,
			})
			if err != nil {
				return fmt.Errorf("credit job %d: %w", ret.JobID, err)
			}
			result.Credit = &line
		}

		result.Return = ret
		result.Entry = entry
		return nil
	})
	if err != nil {
		return AcceptResult{}, shared.Classify("returns: accept", err)
	}

	if s.observer != nil {
		s.observer.ObserveMovement(result.Entry)
	}
	result.Outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, p.UserID, "return:accept", result.Return))
	if result.Outcome.Degraded() {
		s.logger.Warn("return accepted with secondary failures",
			slog.Int64("return_id", result.Return.ID), slog.Any("error", result.Outcome.Err()))
	}
	return result, nil
}

// Reject closes a pending return. No ledger or costing effects.
func (s *Service) Reject(ctx context.Context, p shared.Principal, in RejectInput) (ItemReturn, shared.Outcome, error) {
	var outcome shared.Outcome
	if err := p.Validate(); err != nil {
		return ItemReturn{}, outcome, err
	}
	if err := p.Require("reject returns", resolverRoles...); err != nil {
		return ItemReturn{}, outcome, err
	}
	if in.ReturnID <= 0 {
		return ItemReturn{}, outcome, fmt.Errorf("%w: return id required", shared.ErrInvalidInput)
	}

	var ret ItemReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, p.CompanyID, in.ReturnID)
		if err != nil {
			return err
		}
		if ret.Status != StatusPending {
			return fmt.Errorf("%w: return %d is %s", ErrAlreadyProcessed, ret.ID, ret.Status)
		}
		now := s.clock()
		ret.Status = StatusRejected
		ret.ResolvedBy = p.UserID
		ret.ResolvedAt = &now
		if in.Reason != "" {
			ret.Reason = in.Reason
		}
		return tx.ResolveReturn(ctx, ret)
	})
	if err != nil {
		return ItemReturn{}, outcome, shared.Classify("returns: reject", err)
	}
	outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, p.UserID, "return:reject", ret))
	return ret, outcome, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, ret ItemReturn) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: ret.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "item_return",
		EntityID:  strconv.FormatInt(ret.ID, 10),
		NewValue:  auditValue(ret),
		At:        s.clock(),
	})
	if err != nil {
		return errors.Join(shared.ErrDependencyFailure, err)
	}
	return nil
}

func auditValue(ret ItemReturn) map[string]any {
	v := map[string]any{
		"item_id":  ret.ItemID,
		"store_id": ret.StoreID,
		"quantity": ret.Quantity.String(),
		"status":   string(ret.Status),
	}
	if ret.UnitCost.Valid {
		v["unit_cost"] = ret.UnitCost.Decimal.String()
		v["total_credit"] = ret.TotalCredit.Decimal.String()
	}
	if ret.ResolvedStoreID > 0 {
		v["resolved_store_id"] = ret.ResolvedStoreID
	}
	if ret.JobID > 0 {
		v["job_id"] = ret.JobID
	}
	if ret.Reason != "" {
		v["reason"] = ret.Reason
	}
	return v
}
