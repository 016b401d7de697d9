package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("renew: %w", &pgconn.PgError{Code: "40001"}), want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveRunAndProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewJobMetrics(registry, Config{ServiceName: "creditkit", Environment: "test"})

	m.ObserveRun("plan_renewal", 150*time.Millisecond, nil)
	m.ObserveRun("plan_renewal", time.Second, context.DeadlineExceeded)
	m.AddProcessed("plan_renewal", 3)
	m.AddProcessed("plan_renewal", 0)
	m.SetLedgerDrift(2)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("plan_renewal")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("plan_renewal", JobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsProcessed.WithLabelValues("plan_renewal")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerDrift); got != 2 {
		t.Fatalf("expected drift 2, got %v", got)
	}
}
