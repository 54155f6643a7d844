package trialclock

import (
	"testing"
	"time"

	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func joinedInvite(at time.Time) *invitedomain.Invite {
	return &invitedomain.Invite{
		Status:    invitedomain.StatusUsed,
		UsedAt:    &at,
		IsInGroup: true,
		JoinedAt:  &at,
	}
}

func TestEvaluatePhases(t *testing.T) {
	trial := 10 * time.Second
	paid := joinedInvite(t0)
	paid.HasPaid = true
	removed := &invitedomain.Invite{Status: invitedomain.StatusUsed, UsedAt: &t0}

	tests := []struct {
		name string
		inv  *invitedomain.Invite
		now  time.Time
		want Phase
	}{
		{"no invite", nil, t0, PhaseNotStarted},
		{"paid", paid, t0.Add(time.Hour), PhasePaid},
		{"pending", &invitedomain.Invite{Status: invitedomain.StatusActive}, t0, PhaseInvitePending},
		{"removed row is not in group", removed, t0, PhaseInvitePending},
		{"active", joinedInvite(t0), t0.Add(5 * time.Second), PhaseActive},
		{"expires exactly at end", joinedInvite(t0), t0.Add(trial), PhaseExpired},
		{"just before end", joinedInvite(t0), t0.Add(trial - time.Nanosecond), PhaseActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.inv, tt.now, trial).Phase)
		})
	}
}

func TestEvaluateIsDeterministicAndRemainingDecreases(t *testing.T) {
	inv := joinedInvite(t0)
	trial := time.Minute

	prev := Evaluate(inv, t0, trial)
	require.Equal(t, PhaseActive, prev.Phase)
	assert.Equal(t, trial, prev.Remaining)
	assert.Equal(t, prev, Evaluate(inv, t0, trial))

	for step := time.Second; step < trial; step += time.Second {
		cur := Evaluate(inv, t0.Add(step), trial)
		require.Equal(t, PhaseActive, cur.Phase)
		assert.Less(t, cur.Remaining, prev.Remaining)
		prev = cur
	}
	assert.Equal(t, PhaseExpired, Evaluate(inv, t0.Add(trial), trial).Phase)
}

func TestWarningLevel(t *testing.T) {
	buckets := []time.Duration{10 * time.Minute, time.Hour}
	tests := []struct {
		remaining time.Duration
		want      int
	}{
		{2 * time.Hour, 0},
		{time.Hour + time.Second, 0},
		{time.Hour, 1},
		{30 * time.Minute, 1},
		{10 * time.Minute, 2},
		{time.Second, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WarningLevel(tt.remaining, buckets), tt.remaining.String())
	}
	assert.Equal(t, 0, WarningLevel(time.Second, nil))
	assert.Equal(t, []time.Duration{10 * time.Minute, time.Hour}, buckets, "input must not be reordered")
}

func TestPaidAccess(t *testing.T) {
	assert.True(t, PaidAccess(nil, t0).Lifetime)

	end := t0.Add(time.Hour)
	st := PaidAccess(&end, t0)
	assert.False(t, st.Lapsed)
	assert.Equal(t, time.Hour, st.Remaining)

	assert.True(t, PaidAccess(&end, end).Lapsed)
}
