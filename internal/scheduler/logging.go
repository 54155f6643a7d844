package scheduler

import (
	"context"
	"strconv"
	"time"

	obscontext "github.com/smallbiznis/trialgate/internal/observability/context"
	obslogger "github.com/smallbiznis/trialgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/observability/tracing"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx, _ = correlation.EnsureCorrelationID(ctx, correlation.ScopeSweep)
	ctx = s.withLogContext(ctx, 0)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, subjectID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	if subjectID != 0 {
		ctx = obscontext.WithSubjectID(ctx, strconv.FormatInt(subjectID, 10))
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// logItemFailure records a per-subject failure. The pass moves on to the next row.
func (s *Scheduler) logItemFailure(ctx context.Context, run *jobRun, pass string, subjectID int64, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	job := ""
	if run != nil {
		run.IncError()
		job = run.job
	}
	s.metrics.IncItemFailure(job, pass, err)

	ctx = s.withLogContext(ctx, subjectID)
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("pass", pass),
		zap.Int64("subject_id", subjectID),
		zap.String("error_type", obsmetrics.ClassifyErrorType(err)),
		zap.String("error_kind", platform.Kind(err)),
		zap.Bool("retryable", obsmetrics.IsRetryable(err)),
		zap.Error(tracing.SafeError(err)),
	}
	s.logger(ctx).Error("scheduler.item.failed", append(baseFields, fields...)...)
}

func (s *Scheduler) logRemoval(ctx context.Context, pass string, subjectID int64, unbanAt time.Time) {
	ctx = s.withLogContext(ctx, subjectID)
	s.logger(ctx).Info("member.removed",
		zap.String("pass", pass),
		zap.Int64("subject_id", subjectID),
		zap.Time("unban_at", unbanAt),
	)
}

func (s *Scheduler) logConflict(ctx context.Context, pass string, subjectID int64) {
	ctx = s.withLogContext(ctx, subjectID)
	s.logger(ctx).Debug("scheduler.claim.lost",
		zap.String("pass", pass),
		zap.Int64("subject_id", subjectID),
	)
}
