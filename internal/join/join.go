// Package join correlates platform membership events with pending invites.
package join

import (
	"context"
	"errors"

	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
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

type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnmatched   Outcome = "unmatched"
	OutcomeMatched     Outcome = "matched"
	OutcomeAlreadyUsed Outcome = "already_used"
	OutcomeLeft        Outcome = "left"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Policy   *config.MembershipPolicyHolder
	Repo     invitedomain.Repository
	Members  memberdomain.Service
	Platform platform.Platform
	Notifier notification.Sender
	Metrics  *metrics.Metrics           `optional:"true"`
	Counters *metrics.MembershipMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	groupID  int64
	policy   *config.MembershipPolicyHolder
	repo     invitedomain.Repository
	members  memberdomain.Service
	platform platform.Platform
	notifier notification.Sender
	metrics  *metrics.Metrics
	counters *metrics.MembershipMetrics
}

func NewService(p Params) *Service {
	svcClock := p.Clock
	if svcClock == nil {
		svcClock = clock.New()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicyHolder(config.DefaultMembershipPolicy())
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("join.service"),
		clock:    svcClock,
		groupID:  p.Config.Telegram.GroupID,
		policy:   policy,
		repo:     p.Repo,
		members:  p.Members,
		platform: p.Platform,
		notifier: p.Notifier,
		metrics:  p.Metrics,
		counters: p.Counters,
	}
}

// HandleEvent routes a raw membership event to the join or leave handler.
func (s *Service) HandleEvent(ctx context.Context, event platform.MembershipEvent) error {
	var (
		outcome Outcome
		err     error
	)
	switch {
	case event.Joined():
		outcome, err = s.OnMemberJoined(ctx, event)
	case event.Left():
		outcome, err = s.OnMemberLeft(ctx, event)
	default:
		return nil
	}

	logger.WithContext(ctx, s.log).Debug("membership event handled",
		zap.Int64("subject_id", event.SubjectID),
		zap.String("old_status", event.OldStatus),
		zap.String("new_status", event.NewStatus),
		zap.String("outcome", string(outcome)),
	)
	return err
}

// OnMemberJoined matches an edge into membership with the subject's latest invite.
func (s *Service) OnMemberJoined(ctx context.Context, event platform.MembershipEvent) (Outcome, error) {
	if event.GroupID != s.groupID || !event.Joined() {
		return OutcomeIgnored, nil
	}
	log := logger.WithContext(ctx, s.log).With(zap.Int64("subject_id", event.SubjectID))

	if _, err := s.members.Register(ctx, memberdomain.RegisterRequest{
		SubjectID:   event.SubjectID,
		DisplayName: event.DisplayName,
		Username:    event.Username,
	}); err != nil {
		log.Warn("member profile refresh failed", zap.Error(err))
	}

	latest, err := s.repo.FindLatestBySubject(ctx, s.db, event.SubjectID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		log.Info("join without invite")
		return s.record(ctx, OutcomeUnmatched), nil
	}

	switch latest.Status {
	case invitedomain.StatusUsed:
		return s.record(ctx, OutcomeAlreadyUsed), nil
	case invitedomain.StatusExpired:
		log.Info("join with expired invite", zap.String("invite_id", latest.ID.String()))
		return s.record(ctx, OutcomeUnmatched), nil
	}

	return s.AdmitInvite(ctx, latest)
}

// AdmitInvite records the subject of an active invite as joined now. The
// reconciler uses it for joins whose event was missed.
func (s *Service) AdmitInvite(ctx context.Context, inv *invitedomain.Invite) (Outcome, error) {
	now := s.clock.Now()
	log := logger.WithContext(ctx, s.log).With(
		zap.Int64("subject_id", inv.SubjectID),
		zap.String("invite_id", inv.ID.String()),
	)

	joined, err := inv.Join(now)
	if err != nil {
		return "", err
	}
	if err := s.repo.CompareAndSwap(ctx, s.db, joined, inv.Version); err != nil {
		if !errors.Is(err, invitedomain.ErrStateConflict) {
			return "", err
		}
		s.counters.IncStateConflict("join")
		current, findErr := s.repo.FindByID(ctx, s.db, inv.ID)
		if findErr != nil {
			return "", findErr
		}
		if current != nil && current.Status == invitedomain.StatusUsed {
			return s.record(ctx, OutcomeAlreadyUsed), nil
		}
		return "", err
	}
	s.counters.IncTransition(metrics.TransitionJoined)
	log.Info("invite matched to join")

	policy := s.policy.Get()
	if policy.FreshInvitePerAdmission {
		if err := s.platform.RevokeInviteLink(ctx, s.groupID, joined.Link); err != nil {
			log.Warn("revoke used invite link failed", zap.String("error_kind", platform.Kind(err)), zap.Error(tracing.SafeError(err)))
		}
	}

	member, err := s.members.MarkActive(ctx, joined.SubjectID)
	if err != nil {
		log.Warn("mark member active failed", zap.Error(err))
	}

	name := joined.DisplayName
	if member != nil && member.DisplayName != "" {
		name = member.DisplayName
	}
	notice := notification.Notice{
		ChatID: joined.SubjectID,
		Kind:   notification.KindWelcome,
		Text:   notification.WelcomeText(name, trialclock.Evaluate(joined, now, policy.TrialDuration).Remaining, joined.HasPaid),
	}
	if err := s.notifier.Send(ctx, notice); err != nil {
		log.Warn("welcome notice not delivered", zap.String("error_kind", platform.Kind(err)))
	}

	return s.record(ctx, OutcomeMatched), nil
}

// OnMemberLeft clears group bookkeeping when a subject leaves or is kicked
// by someone else. Rows already out of the group are left alone.
func (s *Service) OnMemberLeft(ctx context.Context, event platform.MembershipEvent) (Outcome, error) {
	if event.GroupID != s.groupID || !event.Left() {
		return OutcomeIgnored, nil
	}

	inv, err := s.repo.FindInGroupBySubject(ctx, s.db, event.SubjectID)
	if err != nil {
		return "", err
	}
	if inv == nil {
		return OutcomeIgnored, nil
	}

	left, err := inv.Leave(s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.repo.CompareAndSwap(ctx, s.db, left, inv.Version); err != nil {
		if !errors.Is(err, invitedomain.ErrStateConflict) {
			return "", err
		}
		s.counters.IncStateConflict("leave")
		current, findErr := s.repo.FindByID(ctx, s.db, inv.ID)
		if findErr != nil {
			return "", findErr
		}
		if current != nil && !current.IsInGroup {
			return OutcomeIgnored, nil
		}
		return "", err
	}

	s.counters.IncTransition(metrics.TransitionLeft)
	logger.WithContext(ctx, s.log).Info("member left group",
		zap.Int64("subject_id", event.SubjectID),
		zap.String("invite_id", inv.ID.String()),
	)
	return OutcomeLeft, nil
}

func (s *Service) record(ctx context.Context, outcome Outcome) Outcome {
	s.counters.IncJoinOutcome(string(outcome))
	s.metrics.RecordJoin(ctx, string(outcome))
	return outcome
}
