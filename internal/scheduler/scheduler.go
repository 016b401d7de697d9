package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	authdomain "github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/clock"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/creditkit/internal/observability/metrics"
	"github.com/smallbiznis/creditkit/internal/ratelimit"
	"github.com/smallbiznis/creditkit/internal/renewal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("scheduler: invalid config")
	ErrUnknownJob    = errors.New("scheduler: unknown job")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config
	Renewer    *renewal.Renewer
	CreditSvc  creditdomain.Service
	Sessions   authdomain.SessionRepository
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
	Limiter    *ratelimit.Limiter     `optional:"true"`
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	renewer   *renewal.Renewer
	creditSvc creditdomain.Service
	sessions  authdomain.SessionRepository
	metrics   *obsmetrics.JobMetrics
	limiter   *ratelimit.Limiter

	cron   *cron.Cron
	jobs   map[string]job
	order  []string
	ctx    context.Context
	cancel context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Renewer == nil || p.CreditSvc == nil || p.Sessions == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	s := &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		renewer:   p.Renewer,
		creditSvc: p.CreditSvc,
		sessions:  p.Sessions,
		metrics:   p.JobMetrics,
		limiter:   p.Limiter,
		jobs:      map[string]job{},
		ctx:       context.Background(),
	}

	cronLog := newCronLogger(s.log)
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	for _, j := range []job{
		{name: JobPlanRenewal, schedule: cfg.RenewalSchedule, run: s.renewPlans},
		{name: JobLedgerReconcile, schedule: cfg.ReconcileSchedule, run: s.reconcileLedger},
		{name: JobSessionCleanup, schedule: cfg.CleanupSchedule, run: s.cleanupSessions},
	} {
		s.jobs[j.name] = j
		if !cfg.enabled(j.name) {
			s.log.Info("scheduler.job.disabled", zap.String("job", j.name))
			continue
		}
		name := j.name
		if _, err := s.cron.AddFunc(j.schedule, func() {
			if err := s.RunJob(s.ctx, name); err != nil {
				s.log.Error("scheduler.job.failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.schedule, err)
		}
		s.order = append(s.order, name)
	}
	return s, nil
}

// Jobs lists the scheduled job names in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.log.Debug("scheduler.entry", zap.Int("entry_id", int(entry.ID)), zap.Time("next", entry.Next))
	}
}

// Stop cancels in-flight jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunJob runs one named job immediately, outside the cron schedule.
func (s *Scheduler) RunJob(parent context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runJob(parent, j.name, s.cfg.JobTimeout, j.run)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	ctx, run := s.beginRun(ctx, name)

	// One replica runs each tick when redis is configured.
	lease, acquired, err := s.limiter.AcquireJob(ctx, name, timeout)
	if err != nil {
		run.log.Warn("job lease unavailable, running unlocked", zap.Error(err))
		acquired = true
	}
	if !acquired {
		run.log.Debug("scheduler.job.skipped", zap.String("reason", "leased"))
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			run.log.Warn("job lease release failed", zap.Error(err))
		}
	}()

	run.log.Info("scheduler.job.start")
	processed, err := fn(ctx)
	s.metrics.AddProcessed(name, processed)
	s.metrics.ObserveRun(name, run.elapsed(), err)
	run.finish(processed, err)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		run.log.Warn("job timed out", zap.Duration("timeout", timeout))
		return nil
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

func (s *Scheduler) renewPlans(ctx context.Context) (int, error) {
	res, err := s.renewer.RunOnce(ctx, s.clock.Now())
	if res.Renewed > 0 {
		s.logger(ctx).Info("plan renewal granted credits",
			zap.Int("accounts", res.Renewed),
			zap.Int64("credits", res.Credits),
		)
	}
	return res.Renewed, err
}

func (s *Scheduler) reconcileLedger(ctx context.Context) (int, error) {
	drift, err := s.creditSvc.Reconcile(ctx)
	return len(drift), err
}

func (s *Scheduler) cleanupSessions(ctx context.Context) (int, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.clock.Now())
	return int(n), err
}
