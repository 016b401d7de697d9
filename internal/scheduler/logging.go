package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	obscontext "github.com/smallbiznis/creditkit/internal/observability/context"
	obslogger "github.com/smallbiznis/creditkit/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun carries one execution's identity into every log line it emits.
type jobRun struct {
	log       *zap.Logger
	startedAt time.Time
}

// beginRun stamps ctx with the scheduler as system actor and returns a run
// logger tagged with the job name and a fresh run id.
func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *jobRun) {
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler")
	return ctx, &jobRun{
		log: obslogger.WithContext(ctx, s.log).With(
			zap.String("job", job),
			zap.String("run_id", s.genID.Generate().String()),
		),
		startedAt: time.Now(),
	}
}

func (r *jobRun) elapsed() time.Duration {
	return time.Since(r.startedAt)
}

func (r *jobRun) finish(processed int, err error) {
	fields := []zap.Field{
		zap.Int64("duration_ms", r.elapsed().Milliseconds()),
		zap.Int("processed_count", max(processed, 0)),
	}
	if err != nil {
		r.log.Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// cronLogger routes cron's own messages (panics, skipped overlaps) to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

var _ cron.Logger = cronLogger{}

func newCronLogger(log *zap.Logger) cronLogger {
	return cronLogger{log: log.Named("cron").Sugar()}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
