package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/lock"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability/logger"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/observability/tracing"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/internal/trialclock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Policy   *config.MembershipPolicyHolder
	Repo     invitedomain.Repository
	Members  memberdomain.Service
	Platform platform.Platform
	Notifier notification.Sender
	Locks    *lock.KeyedMutex
	Metrics  *metrics.Metrics           `optional:"true"`
	Counters *metrics.MembershipMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	groupID  int64
	policy   *config.MembershipPolicyHolder
	repo     invitedomain.Repository
	members  memberdomain.Service
	platform platform.Platform
	notifier notification.Sender
	locks    *lock.KeyedMutex
	metrics  *metrics.Metrics
	counters *metrics.MembershipMetrics
}

func NewService(p ServiceParam) invitedomain.Service {
	return New(p)
}

func New(p ServiceParam) *Service {
	svcClock := p.Clock
	if svcClock == nil {
		svcClock = clock.New()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicyHolder(config.DefaultMembershipPolicy())
	}
	locks := p.Locks
	if locks == nil {
		locks = lock.NewKeyedMutex()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invite.service"),
		genID:    p.GenID,
		clock:    svcClock,
		groupID:  p.Config.Telegram.GroupID,
		policy:   policy,
		repo:     p.Repo,
		members:  p.Members,
		platform: p.Platform,
		notifier: p.Notifier,
		locks:    locks,
		metrics:  p.Metrics,
		counters: p.Counters,
	}
}

func (s *Service) lockSubject(subjectID int64) func() {
	return s.locks.Lock("invite:" + strconv.FormatInt(subjectID, 10))
}

func (s *Service) CheckLink(ctx context.Context, link string) (invitedomain.LinkValidity, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return invitedomain.LinkValidity{}, invitedomain.ErrInvalidLink
	}

	inv, err := s.repo.FindByLink(ctx, s.db, link)
	if err != nil {
		return invitedomain.LinkValidity{}, err
	}
	switch {
	case inv == nil:
		return invitedomain.LinkValidity{Reason: invitedomain.LinkReasonNotFound}, nil
	case inv.Status == invitedomain.StatusUsed:
		return invitedomain.LinkValidity{Reason: invitedomain.LinkReasonUsed}, nil
	case inv.Status == invitedomain.StatusExpired:
		return invitedomain.LinkValidity{Reason: invitedomain.LinkReasonExpired}, nil
	case inv.LinkExpired(s.clock.Now()):
		return invitedomain.LinkValidity{Reason: invitedomain.LinkReasonTimeExpired}, nil
	}
	return invitedomain.LinkValidity{Valid: true, Reason: invitedomain.LinkReasonOK}, nil
}

func (s *Service) List(ctx context.Context, subjectID int64) ([]invitedomain.Invite, error) {
	if subjectID == 0 {
		return nil, invitedomain.ErrInvalidSubject
	}
	return s.repo.ListBySubject(ctx, s.db, subjectID)
}

func (s *Service) Status(ctx context.Context, subjectID int64) (invitedomain.StatusReport, error) {
	if subjectID == 0 {
		return invitedomain.StatusReport{}, invitedomain.ErrInvalidSubject
	}
	latest, err := s.repo.FindLatestBySubject(ctx, s.db, subjectID)
	if err != nil {
		return invitedomain.StatusReport{}, err
	}

	state := trialclock.Evaluate(latest, s.clock.Now(), s.policy.Get().TrialDuration)
	return invitedomain.StatusReport{
		SubjectID: subjectID,
		Phase:     string(state.Phase),
		Remaining: state.Remaining,
		EndsAt:    state.EndsAt,
		Invite:    latest,
	}, nil
}

func (s *Service) RevokeAndExpire(ctx context.Context, invite *invitedomain.Invite, at time.Time) (*invitedomain.Invite, error) {
	if invite == nil {
		return nil, invitedomain.ErrInviteNotFound
	}
	next, err := invite.Expire(at)
	if err != nil {
		return nil, err
	}
	if err := s.compareAndSwap(ctx, "expire", next, invite.Version); err != nil {
		return nil, err
	}
	s.counters.IncTransition(metrics.TransitionExpired)
	s.revokeBestEffort(ctx, next)
	return next, nil
}

func (s *Service) compareAndSwap(ctx context.Context, op string, next *invitedomain.Invite, expectedVersion int64) error {
	err := s.repo.CompareAndSwap(ctx, s.db, next, expectedVersion)
	if errors.Is(err, invitedomain.ErrStateConflict) {
		s.counters.IncStateConflict(op)
	}
	return err
}

// revokeBestEffort revokes the platform link of a retired invite. Failures
// leave the row as is; a member-limited link dies on its own after one use.
func (s *Service) revokeBestEffort(ctx context.Context, inv *invitedomain.Invite) {
	if inv == nil || inv.Link == "" {
		return
	}
	if err := s.platform.RevokeInviteLink(ctx, s.groupID, inv.Link); err != nil {
		logger.WithContext(ctx, s.log).Warn("revoke invite link failed",
			zap.String("invite_id", inv.ID.String()),
			zap.Int64("subject_id", inv.SubjectID),
			zap.String("error_kind", platform.Kind(err)),
			zap.Error(tracing.SafeError(err)),
		)
	}
}
