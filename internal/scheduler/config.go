package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/creditkit/internal/config"
)

const (
	JobPlanRenewal     = "plan_renewal"
	JobLedgerReconcile = "ledger_reconcile"
	JobSessionCleanup  = "session_cleanup"
)

// Config controls job schedules and per-run timeouts. Schedules use the
// standard five-field cron syntax or the @every/@daily descriptors.
type Config struct {
	RenewalSchedule   string
	ReconcileSchedule string
	CleanupSchedule   string
	JobTimeout        time.Duration
	Disabled          []string
}

func DefaultConfig() Config {
	return Config{
		RenewalSchedule:   "@monthly",
		ReconcileSchedule: "@daily",
		CleanupSchedule:   "@daily",
		JobTimeout:        5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := Config{
		RenewalSchedule: cfg.Credits.RenewalSchedule,
		Disabled:        cfg.SchedulerDisabledJobs,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.RenewalSchedule) == "" {
		c.RenewalSchedule = defaults.RenewalSchedule
	}
	if strings.TrimSpace(c.ReconcileSchedule) == "" {
		c.ReconcileSchedule = defaults.ReconcileSchedule
	}
	if strings.TrimSpace(c.CleanupSchedule) == "" {
		c.CleanupSchedule = defaults.CleanupSchedule
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func (c Config) enabled(job string) bool {
	for _, name := range c.Disabled {
		if strings.EqualFold(strings.TrimSpace(name), job) {
			return false
		}
	}
	return true
}
