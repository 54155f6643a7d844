package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/scheduler/guard"
	"github.com/smallbiznis/trialgate/internal/trialclock"
	"go.uber.org/zap"
)

// NotifyJob sends trial warnings and paid expiry reminders.
func (s *Scheduler) NotifyJob(ctx context.Context) error {
	policy := s.policy.Get()
	ctx, run, owner := s.ensureJobRun(ctx, JobNotify, policy.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	err := s.sendTrialWarnings(ctx, policy)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(err, ctxErr)
	}
	if policy.MaxPaidReminders > 0 {
		err = errors.Join(err, s.sendPaidReminders(ctx, policy))
	}
	return err
}

// sendTrialWarnings claims the warning level before sending, and hands the
// level back when the send fails. A level is therefore delivered at least
// once and never twice for the same bucket.
func (s *Scheduler) sendTrialWarnings(ctx context.Context, policy config.MembershipPolicy) error {
	inGroup, unpaid := true, false
	filter := invitedomain.Filter{InGroup: &inGroup, HasPaid: &unpaid}
	buckets := policy.SortedBuckets()
	return s.forEachInvite(ctx, passTrialWarnings, filter, func(ctx context.Context, inv *invitedomain.Invite) error {
		now := s.clock.Now()
		state := trialclock.Evaluate(inv, now, policy.TrialDuration)
		level, err := guard.EnsureWarningDue(inv, state, buckets)
		if err != nil {
			return errNotDue
		}

		claimed, err := inv.ClaimWarning(now, level)
		if err != nil {
			return err
		}
		if err := s.claimInvite(ctx, inv, claimed); err != nil {
			return err
		}

		notice := notification.Notice{
			ChatID: inv.SubjectID,
			Kind:   notification.KindTrialWarning,
			Text:   notification.TrialWarningText(inv.DisplayName, state.Remaining),
		}
		if sendErr := s.notifier.Send(ctx, notice); sendErr != nil {
			reverted, err := claimed.RevertWarning(s.clock.Now(), inv.LastWarningLevel)
			if err == nil {
				err = s.inviteRepo.CompareAndSwap(ctx, s.db, reverted, claimed.Version)
			}
			if err != nil {
				s.logger(ctx).Error("warning level not reverted",
					zap.Int64("subject_id", inv.SubjectID),
					zap.Int("level", level),
					zap.Error(err),
				)
			}
			return sendErr
		}

		s.metrics.IncWarning("trial")
		return nil
	})
}

// sendPaidReminders counts the reminder before sending it. A failed send is
// not retried, so a subject gets at most max_paid_reminders.
func (s *Scheduler) sendPaidReminders(ctx context.Context, policy config.MembershipPolicy) error {
	active := memberdomain.StatusActive
	filter := memberdomain.Filter{Status: &active, WithAccessExpiry: true}
	return s.forEachMember(ctx, passPaidReminders, filter, func(ctx context.Context, member *memberdomain.Member) error {
		now := s.clock.Now()
		if err := guard.EnsurePaidReminderDue(member, policy, now); err != nil {
			return errNotDue
		}
		if _, err := s.members.RecordReminder(ctx, member, now); err != nil {
			return err
		}

		notice := notification.Notice{
			ChatID: member.SubjectID,
			Kind:   notification.KindPaidReminder,
			Text:   notification.PaidReminderText(member.DisplayName, *member.AccessExpiresAt, now),
		}
		if err := s.notifier.Send(ctx, notice); err != nil {
			return fmt.Errorf("paid reminder: %w", err)
		}
		s.metrics.IncWarning("paid")
		return nil
	})
}
