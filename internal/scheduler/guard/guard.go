package guard

import (
	"errors"
	"time"

	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/trialclock"
)

var (
	ErrNotInGroup        = errors.New("invite_not_in_group")
	ErrInvitePaid        = errors.New("invite_paid")
	ErrTrialNotExpired   = errors.New("trial_not_expired")
	ErrBanNotDue         = errors.New("ban_not_due")
	ErrLinkNotExpired    = errors.New("link_not_expired")
	ErrWarningNotDue     = errors.New("warning_not_due")
	ErrAccessNotLapsed   = errors.New("paid_access_not_lapsed")
	ErrMemberNotActive   = errors.New("member_not_active")
	ErrReminderNotDue    = errors.New("paid_reminder_not_due")
	ErrRemindersDisabled = errors.New("paid_reminders_disabled")
)

func EnsureTrialCanBeRemoved(inv *invitedomain.Invite, state trialclock.State) error {
	if inv == nil || !inv.IsInGroup {
		return ErrNotInGroup
	}
	if inv.HasPaid {
		return ErrInvitePaid
	}
	if state.Phase != trialclock.PhaseExpired {
		return ErrTrialNotExpired
	}
	return nil
}

func EnsureBanCanBeLifted(inv *invitedomain.Invite, now time.Time) error {
	if inv == nil || !inv.PendingUnban() || now.Before(*inv.UnbanAt) {
		return ErrBanNotDue
	}
	return nil
}

func EnsureLinkCanBeExpired(inv *invitedomain.Invite, now time.Time) error {
	if inv == nil || inv.Status != invitedomain.StatusActive || !inv.LinkExpired(now) {
		return ErrLinkNotExpired
	}
	return nil
}

// EnsureWarningDue returns the warning level to claim for an in-group trial.
func EnsureWarningDue(inv *invitedomain.Invite, state trialclock.State, buckets []time.Duration) (int, error) {
	if inv == nil || inv.HasPaid || state.Phase != trialclock.PhaseActive {
		return 0, ErrWarningNotDue
	}
	level := trialclock.WarningLevel(state.Remaining, buckets)
	if level == 0 || level <= inv.LastWarningLevel {
		return 0, ErrWarningNotDue
	}
	return level, nil
}

func EnsurePaidAccessLapsed(member *memberdomain.Member, now time.Time) error {
	if member == nil || member.Status != memberdomain.StatusActive {
		return ErrMemberNotActive
	}
	if !trialclock.PaidAccess(member.AccessExpiresAt, now).Lapsed {
		return ErrAccessNotLapsed
	}
	return nil
}

func EnsurePaidReminderDue(member *memberdomain.Member, policy config.MembershipPolicy, now time.Time) error {
	if policy.MaxPaidReminders <= 0 {
		return ErrRemindersDisabled
	}
	if member == nil || member.Status != memberdomain.StatusActive {
		return ErrMemberNotActive
	}
	state := trialclock.PaidAccess(member.AccessExpiresAt, now)
	if state.Lifetime || state.Lapsed || state.Remaining > policy.PaidWarningWindow {
		return ErrReminderNotDue
	}
	if member.NotificationCount >= policy.MaxPaidReminders {
		return ErrReminderNotDue
	}
	if member.LastNotifiedAt != nil && now.Sub(*member.LastNotifiedAt) < policy.PaidReminderSpacing {
		return ErrReminderNotDue
	}
	return nil
}
