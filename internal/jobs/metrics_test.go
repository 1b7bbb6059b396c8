package jobmetrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const auditJob = "inventory:ledger-audit"

func TestTrackerRecordsOutcomes(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	clock := time.Unix(1_700_000_000, 0)
	metrics.now = func() time.Time { return clock }

	require.NoError(t, metrics.Track(auditJob).End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track(auditJob).End(boom), boom)
	discard := fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	require.ErrorIs(t, metrics.Track(auditJob).End(discard), asynq.SkipRetry)
	skipped := metrics.Track(auditJob)
	skipped.Skip()
	require.NoError(t, skipped.End(nil))

	for status, want := range map[string]float64{
		StatusSuccess:   1,
		StatusFailure:   1,
		StatusDiscarded: 1,
		StatusSkipped:   1,
	} {
		require.Equal(t, want, testutil.ToFloat64(metrics.runs.WithLabelValues(auditJob, status)), status)
	}
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues(auditJob)))
	require.Equal(t, float64(clock.Unix()), testutil.ToFloat64(metrics.lastSuccess.WithLabelValues(auditJob)))
}

func TestAddLedgerFindings(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.AddLedgerFindings("drift", 7, 2)
	metrics.AddLedgerFindings("chain_break", 0, 1)
	metrics.AddLedgerFindings("drift", 7, 0)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.findings.WithLabelValues("drift", "7")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.findings.WithLabelValues("chain_break", "0")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	tracker := metrics.Track("x")
	tracker.Skip()
	require.ErrorIs(t, tracker.End(boom), boom)
	metrics.AddLedgerFindings("drift", 1, 1)
}
