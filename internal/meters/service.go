package meters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-cmms/internal/alerts"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// IdempotencyModule namespaces reading submission keys.
const IdempotencyModule = "meters.reading"

// TxRepository exposes the transactional operations of a reading.
type TxRepository interface {
	GetAssetForUpdate(ctx context.Context, companyID, assetID int64) (Asset, error)
	InsertReading(ctx context.Context, reading Reading) (int64, error)
	UpdateAssetMeter(ctx context.Context, companyID, assetID int64, value float64, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAsset(ctx context.Context, companyID, assetID int64) (Asset, error)
	ListReadings(ctx context.Context, companyID, assetID int64, limit int) ([]Reading, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AlertPort raises alerts.
type AlertPort interface {
	Raise(ctx context.Context, alert alerts.Alert) (alerts.Alert, error)
}

// IdempotencyPort claims client supplied keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, companyID int64, key, module string) error
	Delete(ctx context.Context, companyID int64, key, module string) error
}

// DueEvaluator checks meter based PM schedules once an asset's meter moved.
type DueEvaluator interface {
	EvaluateMeter(ctx context.Context, companyID, assetID int64, meter float64) (int, error)
}

// ReadingObserver is notified after a reading commits.
type ReadingObserver interface {
	ObserveReading(reading Reading)
}

// RecordResult carries the stored reading and any secondary failures.
type RecordResult struct {
	Reading    Reading
	IsRollback bool
	DueCount   int
	Outcome    shared.Outcome
}

// ServiceConfig groups collaborators and settings. Every collaborator is optional.
type ServiceConfig struct {
	Audit       AuditPort
	Alerts      AlertPort
	Idempotency IdempotencyPort
	Due         DueEvaluator
	Observer    ReadingObserver
	Location    *time.Location
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Service ingests meter readings.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	alerts      AlertPort
	idempotency IdempotencyPort
	due         DueEvaluator
	observer    ReadingObserver
	location    *time.Location
	clock       func() time.Time
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        repo,
		audit:       cfg.Audit,
		alerts:      cfg.Alerts,
		idempotency: cfg.Idempotency,
		due:         cfg.Due,
		observer:    cfg.Observer,
		location:    cfg.Location,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RecordReading stores a reading and advances the asset's meter, even when the
// value rolled back. Rollbacks raise a HIGH alert after commit.
func (s *Service) RecordReading(ctx context.Context, p shared.Principal, in ReadingInput) (RecordResult, error) {
	if err := p.Validate(); err != nil {
		return RecordResult{}, err
	}
	if err := in.validate(); err != nil {
		return RecordResult{}, err
	}

	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, p.CompanyID, in.IdempotencyKey, IdempotencyModule); err != nil {
			return RecordResult{}, shared.Classify("meters: idempotency", err)
		}
	}

	now := s.clock()
	effective := now
	if in.EffectiveAt != nil {
		effective = *in.EffectiveAt
	}

	var reading Reading
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, p.CompanyID, in.AssetID)
		if err != nil {
			return err
		}
		previous, isRollback, isLate := Evaluate(asset, *in.Value, effective, now, s.location)
		reading = Reading{
			CompanyID:       p.CompanyID,
			AssetID:         asset.ID,
			Value:           *in.Value,
			PreviousReading: previous,
			ReadingAt:       now,
			EffectiveAt:     effective,
			IsRollback:      isRollback,
			IsLateEntry:     isLate,
			JobID:           in.JobID,
			Reference:       in.Reference,
			Notes:           in.Notes,
			RecordedBy:      p.UserID,
		}
		id, err := tx.InsertReading(ctx, reading)
		if err != nil {
			return err
		}
		reading.ID = id
		return tx.UpdateAssetMeter(ctx, p.CompanyID, asset.ID, reading.Value, now)
	})
	if err != nil {
		if in.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, p.CompanyID, in.IdempotencyKey, IdempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return RecordResult{}, shared.Classify("meters: record reading", err)
	}

	result := RecordResult{Reading: reading, IsRollback: reading.IsRollback}
	if s.observer != nil {
		s.observer.ObserveReading(reading)
	}
	if reading.IsRollback {
		result.Outcome.Record(shared.SideEffectAlert, s.raiseRollback(ctx, reading))
	}
	result.Outcome.Record(shared.SideEffectAudit, s.recordAudit(ctx, reading))
	if s.due != nil {
		n, err := s.due.EvaluateMeter(ctx, reading.CompanyID, reading.AssetID, reading.Value)
		result.DueCount = n
		result.Outcome.Record(shared.SideEffectPMDue, err)
	}
	if result.Outcome.Degraded() {
		s.logger.Warn("meter reading committed with secondary failures",
			slog.Int64("reading_id", reading.ID), slog.Any("error", result.Outcome.Err()))
	}
	return result, nil
}

// ListReadings returns the latest readings of an asset, newest first.
func (s *Service) ListReadings(ctx context.Context, p shared.Principal, assetID int64, limit int) ([]Reading, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetAsset(ctx, p.CompanyID, assetID); err != nil {
		return nil, shared.Classify("meters: get asset", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	readings, err := s.repo.ListReadings(ctx, p.CompanyID, assetID, limit)
	return readings, shared.Classify("meters: list readings", err)
}

func (s *Service) raiseRollback(ctx context.Context, r Reading) error {
	if s.alerts == nil {
		return nil
	}
	_, err := s.alerts.Raise(ctx, alerts.Alert{
		CompanyID:     r.CompanyID,
		Type:          alerts.TypeMeterRollback,
		Severity:      alerts.SeverityHigh,
		Title:         fmt.Sprintf("Meter rollback on asset %d", r.AssetID),
		Message:       fmt.Sprintf("reading %s is below previous %s", formatMeter(r.Value), formatMeter(r.PreviousReading)),
		ReferenceType: "ASSET",
		ReferenceID:   r.AssetID,
	})
	return err
}

func (s *Service) recordAudit(ctx context.Context, r Reading) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: r.CompanyID,
		ActorID:   r.RecordedBy,
		Action:    "meter:reading",
		Entity:    "meter_reading",
		EntityID:  strconv.FormatInt(r.ID, 10),
		NewValue: map[string]any{
			"asset_id":         r.AssetID,
			"value":            r.Value,
			"previous_reading": r.PreviousReading,
			"reading_at":       r.ReadingAt,
			"effective_at":     r.EffectiveAt,
			"is_rollback":      r.IsRollback,
			"is_late_entry":    r.IsLateEntry,
			"job_id":           r.JobID,
			"reference":        r.Reference,
			"notes":            r.Notes,
		},
		At: r.ReadingAt,
	})
	if err != nil {
		return errors.Join(shared.ErrDependencyFailure, err)
	}
	return nil
}

func formatMeter(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
