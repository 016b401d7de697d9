package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	SpendOutcomeOK           = "ok"
	SpendOutcomeInsufficient = "insufficient"
	SpendOutcomeError        = "error"
)

// Metrics holds the credit and rate limit counters. A nil *Metrics records
// nothing.
type Metrics struct {
	spends           metric.Int64Counter
	spentCredits     metric.Int64Counter
	grants           metric.Int64Counter
	compensations    metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(cfg.meterName())
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.spends, "creditkit_credit_spends_total", "Spend attempts by kind and outcome."},
		{&m.spentCredits, "creditkit_credits_spent_total", "Credits consumed by successful spends."},
		{&m.grants, "creditkit_credit_grants_total", "Grants by kind."},
		{&m.compensations, "creditkit_credit_compensations_total", "Debits reverted after a concurrent spend overdrew the balance."},
		{&m.ledgerEntries, "creditkit_ledger_entries_total", "Ledger rows written by kind."},
		{&m.rateLimitAllowed, "creditkit_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "creditkit_rate_limit_denied_total", "Requests rejected by the rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// RecordSpend counts a spend attempt and, when it succeeded, the credits consumed.
func (m *Metrics) RecordSpend(ctx context.Context, kind, outcome string, amount int64) {
	if m == nil {
		return
	}
	add(ctx, m.spends, 1, label("kind", kind), label("outcome", outcome))
	if outcome == SpendOutcomeOK && amount > 0 {
		add(ctx, m.spentCredits, amount, label("kind", kind))
	}
}

func (m *Metrics) RecordGrant(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	add(ctx, m.grants, 1, label("kind", kind))
}

func (m *Metrics) RecordCompensation(ctx context.Context) {
	if m == nil {
		return
	}
	add(ctx, m.compensations, 1)
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	add(ctx, m.ledgerEntries, 1, label("kind", kind))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitAllowed, 1, label("endpoint", endpoint))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitDenied, 1, label("endpoint", endpoint), label("reason", reason))
}
