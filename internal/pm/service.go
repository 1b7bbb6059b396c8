package pm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// TxRepository exposes the transactional operations on schedules.
type TxRepository interface {
	GetAssetMeter(ctx context.Context, companyID, assetID int64) (*float64, error)
	InsertSchedule(ctx context.Context, s Schedule) (int64, error)
	GetScheduleForUpdate(ctx context.Context, companyID, scheduleID int64) (Schedule, error)
	UpdateServiceMeter(ctx context.Context, s Schedule) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSchedule(ctx context.Context, companyID, scheduleID int64) (Schedule, error)
	ListSchedules(ctx context.Context, companyID, assetID int64) ([]Schedule, error)
	ListDueMeterSchedules(ctx context.Context, companyID, assetID int64, meter float64) ([]Schedule, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier hands a due schedule to the job generator.
type Notifier interface {
	NotifyDue(ctx context.Context, s Schedule, meter float64) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit    AuditPort
	Notifier Notifier
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Service maintains PM schedules and their due thresholds.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier Notifier
	clock    func() time.Time
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{repo: repo, audit: cfg.Audit, notifier: cfg.Notifier, clock: cfg.Clock, logger: cfg.Logger}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateSchedule starts a schedule from the asset's current meter (0 when never read).
func (s *Service) CreateSchedule(ctx context.Context, p shared.Principal, in CreateInput) (Schedule, shared.Outcome, error) {
	var outcome shared.Outcome
	if err := p.Validate(); err != nil {
		return Schedule{}, outcome, err
	}
	if err := p.Require("create pm schedules", plannerRoles...); err != nil {
		return Schedule{}, outcome, err
	}
	if err := in.normalize(); err != nil {
		return Schedule{}, outcome, err
	}

	now := s.clock()
	sched := Schedule{
		CompanyID:      p.CompanyID,
		AssetID:        in.AssetID,
		Name:           in.Name,
		IntervalType:   in.IntervalType,
		IntervalValue:  in.IntervalValue,
		IntervalUnit:   in.IntervalUnit,
		JobTitle:       in.JobTitle,
		JobDescription: in.JobDescription,
		JobPriority:    in.JobPriority,
		EstimatedHours: in.EstimatedHours,
		Active:         true,
		CreatedBy:      p.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		meter, err := tx.GetAssetMeter(ctx, p.CompanyID, in.AssetID)
		if err != nil {
			return err
		}
		base := 0.0
		if meter != nil {
			base = *meter
		}
		if !validMeter(base) {
			return fmt.Errorf("%w: asset %d meter %v", ErrInvalidAssetMeter, in.AssetID, base)
		}
		sched.applyService(base)
		id, err := tx.InsertSchedule(ctx, sched)
		if err != nil {
			return err
		}
		sched.ID = id
		return nil
	})
	if err != nil {
		return Schedule{}, outcome, shared.Classify("pm: create schedule", err)
	}
	outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, p.UserID, "pm:create", sched))
	return sched, outcome, nil
}

// RecomputeDue records a completed service at serviceMeter and derives the next threshold.
func (s *Service) RecomputeDue(ctx context.Context, p shared.Principal, scheduleID int64, serviceMeter float64) (Schedule, shared.Outcome, error) {
	var outcome shared.Outcome
	if err := p.Validate(); err != nil {
		return Schedule{}, outcome, err
	}
	if !validMeter(serviceMeter) {
		return Schedule{}, outcome, ErrInvalidServiceMeter
	}
	var sched Schedule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sched, err = tx.GetScheduleForUpdate(ctx, p.CompanyID, scheduleID)
		if err != nil {
			return err
		}
		sched.applyService(serviceMeter)
		sched.UpdatedAt = s.clock()
		return tx.UpdateServiceMeter(ctx, sched)
	})
	if err != nil {
		return Schedule{}, outcome, shared.Classify("pm: recompute due", err)
	}
	outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, p.UserID, "pm:service", sched))
	return sched, outcome, nil
}

// GetSchedule loads one schedule.
func (s *Service) GetSchedule(ctx context.Context, p shared.Principal, scheduleID int64) (Schedule, error) {
	if err := p.Validate(); err != nil {
		return Schedule{}, err
	}
	sched, err := s.repo.GetSchedule(ctx, p.CompanyID, scheduleID)
	return sched, shared.Classify("pm: get schedule", err)
}

// ListSchedules lists the schedules of an asset.
func (s *Service) ListSchedules(ctx context.Context, p shared.Principal, assetID int64) ([]Schedule, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out, err := s.repo.ListSchedules(ctx, p.CompanyID, assetID)
	return out, shared.Classify("pm: list schedules", err)
}

// EvaluateMeter notifies every active meter schedule of the asset whose
// threshold is at or below meter. It returns the number notified.
func (s *Service) EvaluateMeter(ctx context.Context, companyID, assetID int64, meter float64) (int, error) {
	due, err := s.repo.ListDueMeterSchedules(ctx, companyID, assetID, meter)
	if err != nil {
		return 0, shared.Classify("pm: list due", err)
	}
	if s.notifier == nil {
		return 0, nil
	}
	var (
		notified int
		errs     []error
	)
	for _, sched := range due {
		if !sched.IsDue(meter) {
			continue
		}
		if err := s.notifier.NotifyDue(ctx, sched, meter); err != nil {
			errs = append(errs, fmt.Errorf("schedule %d: %w", sched.ID, err))
			continue
		}
		notified++
	}
	if len(errs) > 0 {
		return notified, errors.Join(append([]error{shared.ErrDependencyFailure}, errs...)...)
	}
	return notified, nil
}

// ConfirmDue reloads a schedule and reports whether it is still due at meter.
// Queued notifications use it to drop work a service already satisfied.
func (s *Service) ConfirmDue(ctx context.Context, companyID, scheduleID int64, meter float64) (Schedule, bool, error) {
	sched, err := s.repo.GetSchedule(ctx, companyID, scheduleID)
	if err != nil {
		return Schedule{}, false, shared.Classify("pm: confirm due", err)
	}
	return sched, sched.IsDue(meter), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, sched Schedule) error {
	if s.audit == nil {
		return nil
	}
	value := map[string]any{
		"asset_id":           sched.AssetID,
		"name":               sched.Name,
		"interval_type":      string(sched.IntervalType),
		"interval_value":     sched.IntervalValue,
		"last_service_meter": sched.LastServiceMeter,
		"active":             sched.Active,
	}
	if sched.IntervalUnit != "" {
		value["interval_unit"] = string(sched.IntervalUnit)
	}
	if sched.NextDueMeter != nil {
		value["next_due_meter"] = *sched.NextDueMeter
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: sched.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "pm_schedule",
		EntityID:  strconv.FormatInt(sched.ID, 10),
		NewValue:  value,
		At:        sched.UpdatedAt,
	})
	if err != nil {
		return errors.Join(shared.ErrDependencyFailure, err)
	}
	return nil
}
