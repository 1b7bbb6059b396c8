package pm

import (
	"fmt"
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// IntervalType selects how a schedule comes due.
type IntervalType string

const (
	IntervalMeter IntervalType = "METER"
	IntervalTime  IntervalType = "TIME"
)

// IntervalUnit is the calendar unit of TIME schedules.
type IntervalUnit string

const (
	UnitDays   IntervalUnit = "DAYS"
	UnitWeeks  IntervalUnit = "WEEKS"
	UnitMonths IntervalUnit = "MONTHS"
)

// Priority of the job generated from a schedule.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Schedule is a recurring maintenance policy for one asset. NextDueMeter is
// derived from LastServiceMeter and never written on its own.
type Schedule struct {
	ID               int64
	CompanyID        int64
	AssetID          int64
	Name             string
	IntervalType     IntervalType
	IntervalValue    float64
	IntervalUnit     IntervalUnit
	LastServiceMeter float64
	NextDueMeter     *float64
	JobTitle         string
	JobDescription   string
	JobPriority      Priority
	EstimatedHours   float64
	Active           bool
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// applyService records a service at meter and recomputes the due threshold.
func (s *Schedule) applyService(meter float64) {
	s.LastServiceMeter = meter
	if s.IntervalType != IntervalMeter {
		s.NextDueMeter = nil
		return
	}
	next := meter + s.IntervalValue
	s.NextDueMeter = &next
}

// IsDue reports whether an active meter schedule has reached its threshold.
func (s Schedule) IsDue(meter float64) bool {
	return s.Active && s.IntervalType == IntervalMeter && s.NextDueMeter != nil && *s.NextDueMeter <= meter
}

// CreateInput describes a new schedule.
type CreateInput struct {
	AssetID        int64
	Name           string
	IntervalType   IntervalType
	IntervalValue  float64
	IntervalUnit   IntervalUnit
	JobTitle       string
	JobDescription string
	JobPriority    Priority
	EstimatedHours float64
}

func (in *CreateInput) normalize() error {
	if in.AssetID <= 0 {
		return fmt.Errorf("%w: asset required", shared.ErrInvalidInput)
	}
	if in.Name == "" || in.JobTitle == "" {
		return fmt.Errorf("%w: name and job title required", shared.ErrInvalidInput)
	}
	if math.IsNaN(in.IntervalValue) || math.IsInf(in.IntervalValue, 0) || in.IntervalValue <= 0 {
		return ErrInvalidInterval
	}
	switch in.IntervalType {
	case IntervalMeter:
		in.IntervalUnit = ""
	case IntervalTime:
		switch in.IntervalUnit {
		case UnitDays, UnitWeeks, UnitMonths:
		default:
			return fmt.Errorf("%w: unknown interval unit %q", shared.ErrInvalidInput, in.IntervalUnit)
		}
	default:
		return fmt.Errorf("%w: unknown interval type %q", shared.ErrInvalidInput, in.IntervalType)
	}
	switch in.JobPriority {
	case "":
		in.JobPriority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", shared.ErrInvalidInput, in.JobPriority)
	}
	if in.EstimatedHours < 0 {
		return fmt.Errorf("%w: estimated hours must be >= 0", shared.ErrInvalidInput)
	}
	return nil
}

var (
	// ErrScheduleNotFound indicates a missing schedule in the caller's company.
	ErrScheduleNotFound = fmt.Errorf("%w: pm: schedule", shared.ErrNotFound)
	// ErrAssetNotFound indicates a missing asset in the caller's company.
	ErrAssetNotFound = fmt.Errorf("%w: pm: asset", shared.ErrNotFound)
	// ErrInvalidInterval indicates a non-positive interval.
	ErrInvalidInterval = fmt.Errorf("%w: pm: interval must be > 0", shared.ErrInvalidInput)
	// ErrInvalidServiceMeter indicates a negative or non-finite service meter.
	ErrInvalidServiceMeter = fmt.Errorf("%w: pm: service meter must be a finite number >= 0", shared.ErrInvalidInput)
	// ErrInvalidAssetMeter indicates a stored asset meter that cannot anchor a schedule.
	ErrInvalidAssetMeter = fmt.Errorf("%w: pm: asset meter must be a finite number >= 0", shared.ErrInvariantViolation)
)

// validMeter is the meter rule shared with reading ingestion: finite and >= 0.
func validMeter(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

var plannerRoles = []shared.Role{shared.RoleAdmin, shared.RoleManager, shared.RoleSupervisor}
