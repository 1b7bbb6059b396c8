package shared

import (
	"errors"
	"fmt"
)

// SideEffect names a secondary action performed after the primary commit.
type SideEffect string

const (
	SideEffectAudit   SideEffect = "audit"
	SideEffectAlert   SideEffect = "alert"
	SideEffectPMDue   SideEffect = "pm_due"
	SideEffectMetrics SideEffect = "metrics"
)

// SideEffectFailure records one failed secondary action.
type SideEffectFailure struct {
	Effect SideEffect
	Err    error
}

// Outcome collects secondary failures. A committed operation with failures is a
// degraded success: the primary state stands, operators reconcile the rest.
type Outcome struct {
	Failures []SideEffectFailure
}

// Record appends err when it is non-nil.
func (o *Outcome) Record(effect SideEffect, err error) {
	if err == nil {
		return
	}
	o.Failures = append(o.Failures, SideEffectFailure{Effect: effect, Err: err})
}

// Degraded reports whether any secondary action failed.
func (o Outcome) Degraded() bool {
	return len(o.Failures) > 0
}

// Warnings renders failures for API responses.
func (o Outcome) Warnings() []string {
	if len(o.Failures) == 0 {
		return nil
	}
	out := make([]string, 0, len(o.Failures))
	for _, f := range o.Failures {
		out = append(out, fmt.Sprintf("%s: %v", f.Effect, f.Err))
	}
	return out
}

// Err joins all failures, nil when none.
func (o Outcome) Err() error {
	if len(o.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(o.Failures))
	for _, f := range o.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Effect, f.Err))
	}
	return errors.Join(errs...)
}
