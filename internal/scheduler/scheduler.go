// Package scheduler runs the periodic membership sweeps: the reconciler that
// removes, unbans and heals, and the notifier that warns before access ends.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/join"
	"github.com/smallbiznis/trialgate/internal/lock"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	obsmetrics "github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/platform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
	ErrJobDisabled   = errors.New("job_disabled")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AppConfig  config.Config
	Policy     *config.MembershipPolicyHolder
	InviteRepo invitedomain.Repository
	Invites    invitedomain.Service
	MemberRepo memberdomain.Repository
	Members    memberdomain.Service
	Join       *join.Service
	Platform   platform.Platform
	Notifier   notification.Sender
	Guard      lock.Guard
	Metrics    *obsmetrics.MembershipMetrics `optional:"true"`
	Config     Config                        `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	groupID    int64
	policy     *config.MembershipPolicyHolder
	inviteRepo invitedomain.Repository
	invites    invitedomain.Service
	memberRepo memberdomain.Repository
	members    memberdomain.Service
	join       *join.Service
	platform   platform.Platform
	notifier   notification.Sender
	guard      lock.Guard
	metrics    *obsmetrics.MembershipMetrics
}

type job struct {
	name     string
	interval func(config.MembershipPolicy) time.Duration
	run      func(ctx context.Context) error
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Policy == nil ||
		p.InviteRepo == nil || p.Invites == nil || p.MemberRepo == nil || p.Members == nil ||
		p.Join == nil || p.Platform == nil || p.Notifier == nil || p.Guard == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Membership()
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		groupID:    p.AppConfig.Telegram.GroupID,
		policy:     p.Policy,
		inviteRepo: p.InviteRepo,
		invites:    p.Invites,
		memberRepo: p.MemberRepo,
		members:    p.Members,
		join:       p.Join,
		platform:   p.Platform,
		notifier:   p.Notifier,
		guard:      p.Guard,
		metrics:    m,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{
			name:     JobReconcile,
			interval: func(p config.MembershipPolicy) time.Duration { return p.ReconcileInterval },
			run:      s.ReconcileJob,
		},
		{
			name:     JobNotify,
			interval: func(p config.MembershipPolicy) time.Duration { return p.NotifyInterval },
			run:      s.NotifyJob,
		},
	}
}

func (s *Scheduler) lookup(name string) (job, bool) {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return j, true
		}
	}
	return job{}, false
}

// JobNames lists every job the scheduler knows, enabled or not.
func (s *Scheduler) JobNames() []string {
	jobs := s.jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.name)
	}
	return names
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, span := otel.Tracer("trialgate/scheduler").Start(ctx, "scheduler."+name)
	defer span.End()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	span.SetAttributes(
		attribute.Int("processed_count", run.processedCount),
		attribute.Int("error_count", run.errorCount),
	)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; remaining rows are picked up next sweep
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, obsmetrics.ClassifyJobReason(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunJob runs one sweep under its guard. It reports false without running
// when another holder has the guard. The sweep is detached from the caller's
// cancellation and bounded by the policy sweep timeout.
func (s *Scheduler) RunJob(ctx context.Context, name string) (bool, error) {
	j, ok := s.lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.isJobEnabled(j.name) {
		return false, fmt.Errorf("%w: %s", ErrJobDisabled, j.name)
	}

	policy := s.policy.Get()
	release, acquired, err := s.guard.TryAcquire(ctx, "sweep:"+j.name, policy.SweepTimeout+s.cfg.GuardSlack)
	if err != nil {
		return false, fmt.Errorf("acquire %s guard: %w", j.name, err)
	}
	if !acquired {
		s.metrics.IncSweepSkipped(j.name)
		s.logger(ctx).Info("scheduler.job.skipped", zap.String("job", j.name))
		return false, nil
	}
	defer release()

	return true, s.runJob(context.WithoutCancel(ctx), j.name, policy.BatchSize, policy.SweepTimeout, j.run)
}

// RunOnce runs every enabled job once, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		_, runErr := s.RunJob(parent, j.name)
		err = errors.Join(err, runErr)
	}
	return err
}

// RunForever runs each enabled job in its own loop until ctx is cancelled. A
// loop waits for its sweep to finish before scheduling the next one.
func (s *Scheduler) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	nextRun := time.Now()
	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(j.name, lag)
		}
		started := time.Now()
		if _, err := s.RunJob(ctx, j.name); err != nil {
			s.log.Warn("scheduler run failed", zap.String("job", j.name), zap.Error(err))
		}

		interval := j.interval(s.policy.Get())
		nextRun = started.Add(interval)
		wait := time.Until(nextRun)
		if wait < 0 {
			wait = 0
			nextRun = time.Now()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
