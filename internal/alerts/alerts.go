// Package alerts persists exceptional conditions raised by the maintenance
// core and hands them to a delivery queue. Delivery channels are external.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types raised by this service.
const (
	TypeMeterRollback = "METER_ROLLBACK"
	TypeLedgerDrift   = "LEDGER_DRIFT"
)

// Alert is one persisted notification.
type Alert struct {
	ID            int64
	CompanyID     int64
	Type          string
	Severity      Severity
	Title         string
	Message       string
	ReferenceType string
	ReferenceID   int64
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

func (a Alert) validate() error {
	if a.CompanyID <= 0 {
		return fmt.Errorf("%w: alert company required", shared.ErrInvalidInput)
	}
	if a.Type == "" || a.Title == "" {
		return fmt.Errorf("%w: alert type and title required", shared.ErrInvalidInput)
	}
	switch a.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", shared.ErrInvalidInput, a.Severity)
	}
	if a.ReferenceType == "" || a.ReferenceID <= 0 {
		return fmt.Errorf("%w: alert reference required", shared.ErrInvalidInput)
	}
	return nil
}

// ErrAlertNotFound indicates a missing alert.
var ErrAlertNotFound = fmt.Errorf("%w: alerts: alert", shared.ErrNotFound)

// Store persists alerts.
type Store interface {
	Insert(ctx context.Context, alert Alert) (int64, error)
	Get(ctx context.Context, companyID, alertID int64) (Alert, error)
	MarkDispatched(ctx context.Context, companyID, alertID int64, at time.Time) error
}

// Dispatcher queues an alert for delivery.
type Dispatcher interface {
	EnqueueAlertDelivery(ctx context.Context, companyID, alertID int64) error
}

// Notifier delivers an alert to people.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Service raises and delivers alerts.
type Service struct {
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	clock      func() time.Time
	logger     *slog.Logger
}

// NewService builds Service. A nil notifier logs alerts.
func NewService(store Store, dispatcher Dispatcher, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Raise persists the alert and queues delivery. The alert row stands when
// queueing fails; the error still reports the failed hand-off.
func (s *Service) Raise(ctx context.Context, alert Alert) (Alert, error) {
	if err := alert.validate(); err != nil {
		return Alert{}, err
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.clock()
	}
	id, err := s.store.Insert(ctx, alert)
	if err != nil {
		return Alert{}, shared.Classify("alerts: insert", err)
	}
	alert.ID = id
	if s.dispatcher == nil {
		return alert, nil
	}
	if err := s.dispatcher.EnqueueAlertDelivery(ctx, alert.CompanyID, alert.ID); err != nil {
		return alert, errors.Join(shared.ErrDependencyFailure, fmt.Errorf("alerts: enqueue %d: %w", alert.ID, err))
	}
	return alert, nil
}

// Deliver notifies and stamps the alert. Already dispatched alerts are skipped.
func (s *Service) Deliver(ctx context.Context, companyID, alertID int64) error {
	alert, err := s.store.Get(ctx, companyID, alertID)
	if err != nil {
		return err
	}
	if alert.DispatchedAt != nil {
		s.logger.Debug("alert already dispatched", slog.Int64("alert_id", alertID))
		return nil
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		return fmt.Errorf("alerts: notify %d: %w", alertID, err)
	}
	return s.store.MarkDispatched(ctx, companyID, alertID, s.clock())
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, alert Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if alert.Severity == SeverityHigh || alert.Severity == SeverityCritical {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "alert",
		slog.Int64("alert_id", alert.ID),
		slog.Int64("company_id", alert.CompanyID),
		slog.String("type", alert.Type),
		slog.String("severity", string(alert.Severity)),
		slog.String("title", alert.Title),
		slog.String("message", alert.Message),
		slog.String("reference_type", alert.ReferenceType),
		slog.Int64("reference_id", alert.ReferenceID),
	)
	return nil
}
