package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	obsmetrics "github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/observability/tracing"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/internal/scheduler/guard"
	"github.com/smallbiznis/trialgate/internal/trialclock"
	"go.uber.org/zap"
)

// ReconcileJob brings the group in line with the invite records. Each pass
// runs even when an earlier one failed.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	policy := s.policy.Get()
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcile, policy.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	passes := []struct {
		name    string
		enabled bool
		run     func(context.Context, config.MembershipPolicy) error
	}{
		{passRemoveExpiredTrials, true, s.removeExpiredTrials},
		{passRemoveLapsedPaid, policy.PaidPeriod > 0, s.removeLapsedPaid},
		{passLiftBans, true, s.liftBans},
		{passExpireStaleLinks, true, s.expireStaleLinks},
		{passHealMissedJoins, true, s.healMissedJoins},
		{passHealMissingInvites, policy.SelfHeal, s.healMissingInvites},
	}

	var err error
	for _, pass := range passes {
		if !pass.enabled {
			continue
		}
		passErr := pass.run(ctx, policy)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		err = errors.Join(err, passErr)
	}
	return err
}

func (s *Scheduler) removeExpiredTrials(ctx context.Context, policy config.MembershipPolicy) error {
	inGroup, unpaid := true, false
	filter := invitedomain.Filter{InGroup: &inGroup, HasPaid: &unpaid}
	return s.forEachInvite(ctx, passRemoveExpiredTrials, filter, func(ctx context.Context, inv *invitedomain.Invite) error {
		state := trialclock.Evaluate(inv, s.clock.Now(), policy.TrialDuration)
		if err := guard.EnsureTrialCanBeRemoved(inv, state); err != nil {
			return errNotDue
		}
		return s.removeFromGroup(ctx, passRemoveExpiredTrials, inv, policy)
	})
}

func (s *Scheduler) removeLapsedPaid(ctx context.Context, policy config.MembershipPolicy) error {
	active := memberdomain.StatusActive
	filter := memberdomain.Filter{Status: &active, WithAccessExpiry: true}
	return s.forEachMember(ctx, passRemoveLapsedPaid, filter, func(ctx context.Context, member *memberdomain.Member) error {
		if err := guard.EnsurePaidAccessLapsed(member, s.clock.Now()); err != nil {
			return errNotDue
		}
		inv, err := s.inviteRepo.FindInGroupBySubject(ctx, s.db, member.SubjectID)
		if err != nil {
			return err
		}
		if inv == nil || !inv.HasPaid {
			// nothing to remove from the group; the access itself is over
			_, err := s.members.MarkExpired(ctx, member.SubjectID)
			return err
		}
		return s.removeFromGroup(ctx, passRemoveLapsedPaid, inv, policy)
	})
}

// removeFromGroup claims the removal first and bans second. A ban that fails
// for any reason other than the subject already being gone hands the claim
// back so the next sweep tries again.
func (s *Scheduler) removeFromGroup(ctx context.Context, pass string, inv *invitedomain.Invite, policy config.MembershipPolicy) error {
	claimed, err := inv.Remove(s.clock.Now(), policy.BanCooldown)
	if err != nil {
		return err
	}
	if err := s.claimInvite(ctx, inv, claimed); err != nil {
		return err
	}

	banErr := s.platform.BanChatMember(ctx, s.groupID, inv.SubjectID, *claimed.UnbanAt)
	if banErr != nil && !errors.Is(banErr, platform.ErrNotFound) {
		if err := s.releaseClaim(ctx, inv, claimed); err != nil {
			s.logger(ctx).Error("removal claim not released",
				zap.Int64("subject_id", inv.SubjectID),
				zap.String("invite_id", inv.ID.String()),
				zap.Error(err),
			)
		}
		if !platform.IsTransient(banErr) {
			s.notifier.AlertAdmin(ctx, notification.RemovalFailedAlert(inv.SubjectID, tracing.SafeError(banErr)))
		}
		return fmt.Errorf("ban subject: %w", banErr)
	}

	s.metrics.IncTransition(obsmetrics.TransitionRemoved)
	s.logRemoval(ctx, pass, inv.SubjectID, *claimed.UnbanAt)

	member, err := s.members.MarkExpired(ctx, inv.SubjectID)
	if err != nil {
		s.logger(ctx).Warn("mark member expired failed", zap.Int64("subject_id", inv.SubjectID), zap.Error(err))
	}
	name := inv.DisplayName
	if member != nil && member.DisplayName != "" {
		name = member.DisplayName
	}

	notice := notification.Notice{ChatID: inv.SubjectID, Kind: notification.KindRemoval, Text: notification.RemovalText(name)}
	if inv.HasPaid {
		notice.Kind = notification.KindPaidRemoval
		notice.Text = notification.PaidRemovalText(name)
	}
	if err := s.notifier.Send(ctx, notice); err != nil {
		s.logger(ctx).Warn("removal notice not delivered",
			zap.Int64("subject_id", inv.SubjectID),
			zap.String("error_kind", platform.Kind(err)),
		)
	}
	return nil
}

func (s *Scheduler) liftBans(ctx context.Context, _ config.MembershipPolicy) error {
	filter := invitedomain.Filter{PendingUnban: true}
	return s.forEachInvite(ctx, passLiftBans, filter, func(ctx context.Context, inv *invitedomain.Invite) error {
		now := s.clock.Now()
		if err := guard.EnsureBanCanBeLifted(inv, now); err != nil {
			return errNotDue
		}
		if err := s.platform.UnbanChatMember(ctx, s.groupID, inv.SubjectID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("unban subject: %w", err)
		}
		next, err := inv.Unban(now)
		if err != nil {
			return err
		}
		if err := s.claimInvite(ctx, inv, next); err != nil {
			return err
		}
		s.metrics.IncTransition(obsmetrics.TransitionUnbanned)
		return nil
	})
}

func (s *Scheduler) expireStaleLinks(ctx context.Context, _ config.MembershipPolicy) error {
	active := invitedomain.StatusActive
	filter := invitedomain.Filter{Status: &active}
	return s.forEachInvite(ctx, passExpireStaleLinks, filter, func(ctx context.Context, inv *invitedomain.Invite) error {
		now := s.clock.Now()
		if err := guard.EnsureLinkCanBeExpired(inv, now); err != nil {
			return errNotDue
		}
		_, err := s.invites.RevokeAndExpire(ctx, inv, now)
		return err
	})
}
