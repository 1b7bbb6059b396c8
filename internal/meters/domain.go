package meters

import (
	"fmt"
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// Asset is the meter view of a piece of equipment.
type Asset struct {
	ID              int64
	CompanyID       int64
	Code            string
	Name            string
	MeterType       string
	CurrentMeter    *float64
	LastMeterUpdate *time.Time
	MeterBroken     bool
}

// Meter returns the current reading, zero when the asset was never read.
func (a Asset) Meter() float64 {
	if a.CurrentMeter == nil {
		return 0
	}
	return *a.CurrentMeter
}

// Reading is one immutable meter observation.
type Reading struct {
	ID              int64
	CompanyID       int64
	AssetID         int64
	Value           float64
	PreviousReading float64
	ReadingAt       time.Time
	EffectiveAt     time.Time
	IsRollback      bool
	IsLateEntry     bool
	RollbackHandled bool
	JobID           int64
	Reference       string
	Notes           string
	RecordedBy      int64
}

// ReadingInput is a reading submission. EffectiveAt defaults to the server time.
type ReadingInput struct {
	AssetID        int64
	Value          *float64
	EffectiveAt    *time.Time
	JobID          int64
	Reference      string
	Notes          string
	IdempotencyKey string
}

func (in ReadingInput) validate() error {
	if in.AssetID <= 0 {
		return fmt.Errorf("%w: asset required", shared.ErrInvalidInput)
	}
	if in.Value == nil {
		return ErrValueRequired
	}
	if math.IsNaN(*in.Value) || math.IsInf(*in.Value, 0) || *in.Value < 0 {
		return ErrInvalidValue
	}
	return nil
}

// Evaluate derives the flags of a new reading from the asset's prior state.
// Late entries are effective before midnight of now's calendar day in loc.
func Evaluate(asset Asset, value float64, effective, now time.Time, loc *time.Location) (previous float64, isRollback, isLateEntry bool) {
	if loc == nil {
		loc = time.UTC
	}
	previous = asset.Meter()
	local := now.In(loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return previous, value < previous, effective.Before(startOfDay)
}

var (
	// ErrAssetNotFound indicates a missing asset in the caller's company.
	ErrAssetNotFound = fmt.Errorf("%w: meters: asset", shared.ErrNotFound)
	// ErrValueRequired indicates a submission without a value.
	ErrValueRequired = fmt.Errorf("%w: meters: value required", shared.ErrInvalidInput)
	// ErrInvalidValue indicates a negative or non-finite reading. Meters count up from zero.
	ErrInvalidValue = fmt.Errorf("%w: meters: value must be a finite number >= 0", shared.ErrInvalidInput)
)
