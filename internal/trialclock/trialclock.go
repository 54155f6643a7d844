// Package trialclock computes trial and paid access state. Every function is
// pure: callers pass the current time in.
package trialclock

import (
	"sort"
	"time"

	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
)

type Phase string

const (
	PhaseNotStarted    Phase = "not_started"
	PhasePaid          Phase = "paid"
	PhaseInvitePending Phase = "invite_pending"
	PhaseActive        Phase = "active"
	PhaseExpired       Phase = "expired"
)

type State struct {
	Phase Phase `json:"phase"`
	// Remaining is set only in PhaseActive.
	Remaining time.Duration `json:"remaining"`
	// EndsAt is the trial end for an in-group unpaid invite.
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

// Evaluate derives the trial state of an invite at now.
func Evaluate(inv *invitedomain.Invite, now time.Time, trial time.Duration) State {
	switch {
	case inv == nil:
		return State{Phase: PhaseNotStarted}
	case inv.HasPaid:
		return State{Phase: PhasePaid}
	case !inv.IsInGroup || inv.JoinedAt == nil:
		return State{Phase: PhaseInvitePending}
	}

	endsAt := inv.JoinedAt.Add(trial)
	if !now.Before(endsAt) {
		return State{Phase: PhaseExpired, EndsAt: &endsAt}
	}
	return State{Phase: PhaseActive, Remaining: endsAt.Sub(now), EndsAt: &endsAt}
}

// WarningLevel maps remaining time onto buckets. Buckets are ordered widest
// first; the level is the 1-based position of the narrowest bucket that still
// contains remaining, and 0 means remaining is outside every bucket.
func WarningLevel(remaining time.Duration, buckets []time.Duration) int {
	sorted := append([]time.Duration(nil), buckets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	level := 0
	for i, b := range sorted {
		if remaining <= b {
			level = i + 1
		}
	}
	return level
}

type PaidState struct {
	Lifetime  bool          `json:"lifetime"`
	Lapsed    bool          `json:"lapsed"`
	Remaining time.Duration `json:"remaining"`
}

// PaidAccess reports paid access at now. A nil expiry is lifetime access.
func PaidAccess(expiresAt *time.Time, now time.Time) PaidState {
	if expiresAt == nil {
		return PaidState{Lifetime: true}
	}
	if !now.Before(*expiresAt) {
		return PaidState{Lapsed: true}
	}
	return PaidState{Remaining: expiresAt.Sub(now)}
}
