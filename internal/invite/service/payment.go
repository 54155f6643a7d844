package service

import (
	"context"
	"errors"

	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability/logger"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/platform"
	"go.uber.org/zap"
)

// Payment outcomes recorded on the payments counter.
const (
	paymentInGroup     = "in_group"
	paymentAlreadyPaid = "already_paid"
	paymentReissued    = "reissued"
)

// RecordPayment marks the subject as paid and makes sure it can get into
// the group: an in-group invite is flagged paid, a pending trial link is
// swapped for a paid one, and a removed subject is unbanned and re-invited.
func (s *Service) RecordPayment(ctx context.Context, subjectID int64) (invitedomain.PaymentOutcome, error) {
	if subjectID == 0 {
		return invitedomain.PaymentOutcome{}, invitedomain.ErrInvalidSubject
	}
	unlock := s.lockSubject(subjectID)
	defer unlock()

	log := logger.WithContext(ctx, s.log).With(zap.Int64("subject_id", subjectID))
	member, err := s.members.Register(ctx, memberdomain.RegisterRequest{SubjectID: subjectID})
	if err != nil {
		return invitedomain.PaymentOutcome{}, err
	}
	now := s.clock.Now()

	inGroup, err := s.repo.FindInGroupBySubject(ctx, s.db, subjectID)
	if err != nil {
		return invitedomain.PaymentOutcome{}, err
	}
	if inGroup != nil {
		outcome := invitedomain.PaymentOutcome{AlreadyPaid: inGroup.HasPaid, Invite: inGroup}
		if !inGroup.HasPaid {
			next, err := inGroup.MarkPaid(now)
			if err != nil {
				return invitedomain.PaymentOutcome{}, err
			}
			if err := s.compareAndSwap(ctx, "pay", next, inGroup.Version); err != nil {
				return invitedomain.PaymentOutcome{}, err
			}
			s.counters.IncTransition(metrics.TransitionPaid)
			outcome.Invite = next
		}
		if err := s.grantAccess(ctx, subjectID); err != nil {
			return invitedomain.PaymentOutcome{}, err
		}
		s.metrics.RecordPayment(ctx, paymentInGroup)
		log.Info("payment recorded for in-group subject", zap.Bool("already_paid", outcome.AlreadyPaid))
		return outcome, nil
	}

	active, err := s.repo.FindActiveBySubject(ctx, s.db, subjectID)
	if err != nil {
		return invitedomain.PaymentOutcome{}, err
	}
	if active != nil && active.HasPaid && !active.LinkExpired(now) {
		s.metrics.RecordPayment(ctx, paymentAlreadyPaid)
		return invitedomain.PaymentOutcome{AlreadyPaid: true, Invite: active, NewLink: active.Link}, nil
	}
	if active != nil {
		if _, err := s.RevokeAndExpire(ctx, active, now); err != nil {
			return invitedomain.PaymentOutcome{}, err
		}
	}

	latest, err := s.repo.FindLatestBySubject(ctx, s.db, subjectID)
	if err != nil {
		return invitedomain.PaymentOutcome{}, err
	}
	if latest != nil && latest.RemovedAt != nil {
		if err := s.settleRemoved(ctx, latest); err != nil {
			return invitedomain.PaymentOutcome{}, err
		}
	}

	result, err := s.issueLocked(ctx, invitedomain.IssueRequest{
		SubjectID:   subjectID,
		DisplayName: member.DisplayName,
	}, invitedomain.KindPaid)
	if err != nil {
		return invitedomain.PaymentOutcome{}, err
	}
	s.counters.IncTransition(metrics.TransitionPaid)
	if err := s.grantAccess(ctx, subjectID); err != nil {
		return invitedomain.PaymentOutcome{}, err
	}

	if s.notifier != nil {
		notice := notification.Notice{
			ChatID: subjectID,
			Kind:   notification.KindPaidInvite,
			Text:   notification.PaidInviteText(member.DisplayName, result.Link),
		}
		if err := s.notifier.Send(ctx, notice); err != nil {
			// the admin API returns the link, so delivery failure is not fatal
			log.Warn("paid invite not delivered", zap.String("error_kind", platform.Kind(err)))
		}
	}

	s.metrics.RecordPayment(ctx, paymentReissued)
	log.Info("payment recorded, paid invite issued", zap.String("invite_id", result.Invite.ID.String()))
	return invitedomain.PaymentOutcome{Invite: result.Invite, NewLink: result.Link}, nil
}

// settleRemoved flags the removed row as paid and lifts a pending ban early
// so the paid link can be used right away.
func (s *Service) settleRemoved(ctx context.Context, removed *invitedomain.Invite) error {
	now := s.clock.Now()
	current := removed
	if !current.HasPaid {
		next, err := current.MarkPaid(now)
		if err != nil {
			return err
		}
		if err := s.compareAndSwap(ctx, "pay", next, current.Version); err != nil {
			return err
		}
		current = next
	}
	if !current.PendingUnban() {
		return nil
	}

	if err := s.platform.UnbanChatMember(ctx, s.groupID, current.SubjectID); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return s.externalError(ctx, "unban member", err)
	}
	next, err := current.Unban(now)
	if err != nil {
		return err
	}
	if err := s.compareAndSwap(ctx, "unban", next, current.Version); err != nil {
		return err
	}
	s.counters.IncTransition(metrics.TransitionUnbanned)
	return nil
}

func (s *Service) grantAccess(ctx context.Context, subjectID int64) error {
	_, err := s.members.GrantPaidAccess(ctx, subjectID, s.clock.Now(), s.policy.Get().PaidPeriod)
	return err
}
