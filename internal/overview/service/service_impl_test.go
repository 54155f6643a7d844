package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	inviterepo "github.com/smallbiznis/trialgate/internal/invite/repository"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	memberrepo "github.com/smallbiznis/trialgate/internal/member/repository"
	overview "github.com/smallbiznis/trialgate/internal/overview/domain"
	"github.com/smallbiznis/trialgate/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

// newSeededService stores one subject per lifecycle position:
//
//	1 holds an unused link, 2 is mid-trial, 3 is past the trial,
//	4 paid and ending in 2h, 5 was removed, 6 paid far out, 7 lapsed.
func newSeededService(t *testing.T) overview.Service {
	t.Helper()
	db := storetest.Open(t)
	ctx := context.Background()
	invites := inviterepo.Provide()
	members := memberrepo.Provide()

	policy := config.DefaultMembershipPolicy()
	policy.TrialDuration = 10 * time.Hour
	policy.BatchSize = 2

	seedInvites := []invitedomain.Invite{
		{ID: 1, SubjectID: 1, Kind: invitedomain.KindTrial, Status: invitedomain.StatusActive},
		{ID: 2, SubjectID: 2, DisplayName: "Bo", Kind: invitedomain.KindTrial, Status: invitedomain.StatusUsed,
			UsedAt: ptr(t0.Add(-time.Hour)), IsInGroup: true, JoinedAt: ptr(t0.Add(-time.Hour))},
		{ID: 3, SubjectID: 3, Kind: invitedomain.KindTrial, Status: invitedomain.StatusUsed,
			UsedAt: ptr(t0.Add(-11 * time.Hour)), IsInGroup: true, JoinedAt: ptr(t0.Add(-11 * time.Hour))},
		{ID: 4, SubjectID: 4, Kind: invitedomain.KindPaid, Status: invitedomain.StatusUsed, HasPaid: true,
			PaidAt: ptr(t0.Add(-48 * time.Hour)), UsedAt: ptr(t0.Add(-48 * time.Hour)), IsInGroup: true, JoinedAt: ptr(t0.Add(-48 * time.Hour))},
		{ID: 5, SubjectID: 5, Kind: invitedomain.KindTrial, Status: invitedomain.StatusUsed,
			UsedAt: ptr(t0.Add(-20 * time.Hour)), RemovedAt: ptr(t0.Add(-time.Minute)), UnbanAt: ptr(t0.Add(time.Minute))},
	}
	for i := range seedInvites {
		inv := seedInvites[i]
		inv.Link = "https://t.me/+seed" + inv.ID.String()
		inv.CreatedAt = t0.Add(-72 * time.Hour)
		inv.UpdatedAt = inv.CreatedAt
		require.NoError(t, invites.Insert(ctx, db, &inv))
	}

	seedMembers := []memberdomain.Member{
		{ID: 1, SubjectID: 1, Status: memberdomain.StatusPending},
		{ID: 2, SubjectID: 2, Status: memberdomain.StatusActive},
		{ID: 3, SubjectID: 3, Status: memberdomain.StatusActive},
		{ID: 4, SubjectID: 4, DisplayName: "Dee", Status: memberdomain.StatusActive,
			PaidAt: ptr(t0.Add(-48 * time.Hour)), AccessExpiresAt: ptr(t0.Add(2 * time.Hour))},
		{ID: 5, SubjectID: 5, Status: memberdomain.StatusExpired},
		{ID: 6, SubjectID: 6, Status: memberdomain.StatusActive,
			PaidAt: ptr(t0.Add(-time.Hour)), AccessExpiresAt: ptr(t0.Add(30 * 24 * time.Hour))},
		{ID: 7, SubjectID: 7, Status: memberdomain.StatusActive,
			PaidAt: ptr(t0.Add(-40 * 24 * time.Hour)), AccessExpiresAt: ptr(t0.Add(-time.Hour))},
	}
	for i := range seedMembers {
		m := seedMembers[i]
		m.CreatedAt = t0.Add(-72 * time.Hour)
		m.UpdatedAt = m.CreatedAt
		require.NoError(t, members.Upsert(ctx, db, &m))
	}

	return NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(t0),
		Policy:  config.NewStaticPolicyHolder(policy),
		Invites: invites,
		Members: members,
	})
}

func TestGetStats(t *testing.T) {
	svc := newSeededService(t)

	stats, err := svc.GetStats(context.Background(), overview.Request{})
	require.NoError(t, err)

	assert.Equal(t, overview.DefaultWithin, stats.Within)
	assert.True(t, stats.GeneratedAt.Equal(t0))
	assert.Equal(t, int64(7), stats.MembersTotal)
	assert.Equal(t, map[string]int64{"pending": 1, "active": 5, "expired": 1}, stats.Members)
	assert.Equal(t, map[string]int64{"active": 1, "used": 4}, stats.Invites)
	assert.Equal(t, map[string]int64{"invite_pending": 1, "active": 1, "expired": 1, "paid": 1}, stats.Phases)
	assert.Equal(t, int64(1), stats.PendingUnbans)
	assert.Equal(t, int64(1), stats.TrialsEnding)
	assert.Equal(t, int64(1), stats.PaidEnding)
}

func TestGetStatsNarrowWindow(t *testing.T) {
	svc := newSeededService(t)

	stats, err := svc.GetStats(context.Background(), overview.Request{Within: time.Hour})
	require.NoError(t, err)
	assert.Zero(t, stats.TrialsEnding)
	assert.Zero(t, stats.PaidEnding)

	_, err = svc.GetStats(context.Background(), overview.Request{Within: -time.Second})
	assert.ErrorIs(t, err, overview.ErrInvalidWithin)
}

func TestListExpiringSoonestFirst(t *testing.T) {
	svc := newSeededService(t)

	got, err := svc.ListExpiring(context.Background(), overview.Request{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(4), got[0].SubjectID)
	assert.Equal(t, overview.AccessPaid, got[0].Access)
	assert.Equal(t, "Dee", got[0].DisplayName)
	assert.Equal(t, 2*time.Hour, got[0].Remaining)

	assert.Equal(t, int64(2), got[1].SubjectID)
	assert.Equal(t, overview.AccessTrial, got[1].Access)
	assert.Equal(t, 9*time.Hour, got[1].Remaining)
	assert.True(t, got[1].EndsAt.Equal(t0.Add(9*time.Hour)))

	limited, err := svc.ListExpiring(context.Background(), overview.Request{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(4), limited[0].SubjectID)
}

func TestEmptyStoreReportsZeroes(t *testing.T) {
	svc := NewService(Params{
		DB:      storetest.Open(t),
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(t0),
		Policy:  config.NewStaticPolicyHolder(config.DefaultMembershipPolicy()),
		Invites: inviterepo.Provide(),
		Members: memberrepo.Provide(),
	})

	stats, err := svc.GetStats(context.Background(), overview.Request{})
	require.NoError(t, err)
	assert.Zero(t, stats.MembersTotal)
	assert.Empty(t, stats.Members)
	assert.Equal(t, int64(0), stats.Phases["active"])

	expiring, err := svc.ListExpiring(context.Background(), overview.Request{})
	require.NoError(t, err)
	assert.Empty(t, expiring)
}

