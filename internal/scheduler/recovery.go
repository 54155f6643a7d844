package scheduler

import (
	"context"
	"fmt"

	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/join"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	obsmetrics "github.com/smallbiznis/trialgate/internal/observability/metrics"
	"go.uber.org/zap"
)

// healMissedJoins admits subjects that are in the group while their invite is
// still active, which happens when the join event never arrived.
func (s *Scheduler) healMissedJoins(ctx context.Context, _ config.MembershipPolicy) error {
	active := invitedomain.StatusActive
	filter := invitedomain.Filter{Status: &active}
	return s.forEachInvite(ctx, passHealMissedJoins, filter, func(ctx context.Context, inv *invitedomain.Invite) error {
		if inv.LinkExpired(s.clock.Now()) {
			return errNotDue
		}
		member, err := s.platform.GetChatMember(ctx, s.groupID, inv.SubjectID)
		if err != nil {
			return fmt.Errorf("get chat member: %w", err)
		}
		if !member.InGroup() {
			return errNotDue
		}

		outcome, err := s.join.AdmitInvite(ctx, inv)
		if err != nil {
			return err
		}
		if outcome == join.OutcomeMatched {
			s.metrics.IncTransition(obsmetrics.TransitionHealed)
			s.logger(s.withLogContext(ctx, inv.SubjectID)).Info("missed join healed",
				zap.Int64("subject_id", inv.SubjectID),
				zap.String("invite_id", inv.ID.String()),
			)
		}
		return nil
	})
}

// healMissingInvites issues an invite to active subjects that have none and
// messages them the link.
func (s *Scheduler) healMissingInvites(ctx context.Context, policy config.MembershipPolicy) error {
	active := memberdomain.StatusActive
	filter := memberdomain.Filter{Status: &active}
	return s.forEachMember(ctx, passHealMissingInvites, filter, func(ctx context.Context, member *memberdomain.Member) error {
		latest, err := s.inviteRepo.FindLatestBySubject(ctx, s.db, member.SubjectID)
		if err != nil {
			return err
		}
		if latest != nil {
			return errNotDue
		}

		req := invitedomain.IssueRequest{SubjectID: member.SubjectID, DisplayName: member.DisplayName}
		notice := notification.Notice{ChatID: member.SubjectID}
		var result invitedomain.IssueResult
		if member.HasPaid() {
			result, err = s.invites.IssuePaid(ctx, req)
			notice.Kind = notification.KindPaidInvite
			notice.Text = notification.PaidInviteText(member.DisplayName, result.Link)
		} else {
			result, err = s.invites.IssueTrial(ctx, req)
			notice.Kind = notification.KindTrialInvite
			notice.Text = notification.TrialInviteText(member.DisplayName, result.Link, policy.TrialDuration)
		}
		if err != nil {
			return fmt.Errorf("issue invite: %w", err)
		}

		s.metrics.IncTransition(obsmetrics.TransitionHealed)
		if err := s.notifier.Send(ctx, notice); err != nil {
			return fmt.Errorf("deliver healed invite: %w", err)
		}
		return nil
	})
}
