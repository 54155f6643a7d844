package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedInvite(t *testing.T, id snowflake.ID, subjectID int64, status invitedomain.Status, createdAt time.Time) *invitedomain.Invite {
	t.Helper()
	inv := &invitedomain.Invite{
		ID:        id,
		SubjectID: subjectID,
		Link:      "https://t.me/+" + id.String(),
		Kind:      invitedomain.KindTrial,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if status == invitedomain.StatusUsed {
		inv.UsedAt = &createdAt
	}
	return inv
}

func TestInsertAndFind(t *testing.T) {
	db := storetest.Open(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := seedInvite(t, 1, 42, invitedomain.StatusExpired, now.Add(-time.Hour))
	newer := seedInvite(t, 2, 42, invitedomain.StatusActive, now)
	require.NoError(t, r.Insert(ctx, db, older))
	require.NoError(t, r.Insert(ctx, db, newer))

	latest, err := r.FindLatestBySubject(ctx, db, 42)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snowflake.ID(2), latest.ID)
	assert.Equal(t, int64(1), latest.Version)
	assert.True(t, latest.CreatedAt.Equal(now))

	active, err := r.FindActiveBySubject(ctx, db, 42)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, snowflake.ID(2), active.ID)

	byLink, err := r.FindByLink(ctx, db, older.Link)
	require.NoError(t, err)
	require.NotNil(t, byLink)
	assert.Equal(t, snowflake.ID(1), byLink.ID)

	missing, err := r.FindLatestBySubject(ctx, db, 7)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := r.ListBySubject(ctx, db, 42)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, snowflake.ID(2), all[0].ID)
}

func TestCompareAndSwap(t *testing.T) {
	db := storetest.Open(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inv := seedInvite(t, 10, 42, invitedomain.StatusActive, now)
	require.NoError(t, r.Insert(ctx, db, inv))

	joined, err := inv.Join(now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, r.CompareAndSwap(ctx, db, joined, inv.Version))
	assert.Equal(t, int64(2), joined.Version)

	stale, err := inv.Expire(now)
	require.NoError(t, err)
	assert.ErrorIs(t, r.CompareAndSwap(ctx, db, stale, inv.Version), invitedomain.ErrStateConflict)

	stored, err := r.FindByID(ctx, db, 10)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, invitedomain.StatusUsed, stored.Status)
	assert.True(t, stored.IsInGroup)
	require.NotNil(t, stored.JoinedAt)
	assert.True(t, stored.JoinedAt.Equal(now.Add(time.Minute)))
	assert.Equal(t, int64(2), stored.Version)
}

func TestCompareAndSwapKeepsPaymentMonotonic(t *testing.T) {
	db := storetest.Open(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inv := seedInvite(t, 11, 42, invitedomain.StatusActive, now)
	require.NoError(t, r.Insert(ctx, db, inv))

	paid, err := inv.MarkPaid(now)
	require.NoError(t, err)
	require.NoError(t, r.CompareAndSwap(ctx, db, paid, 1))

	unpaid := *paid
	unpaid.HasPaid = false
	unpaid.PaidAt = nil
	require.NoError(t, r.CompareAndSwap(ctx, db, &unpaid, 2))

	stored, err := r.FindByID(ctx, db, 11)
	require.NoError(t, err)
	assert.True(t, stored.HasPaid)
	require.NotNil(t, stored.PaidAt)
}

func TestListPageFiltersAndPaginates(t *testing.T) {
	db := storetest.Open(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		inv := seedInvite(t, snowflake.ID(i), int64(100+i), invitedomain.StatusActive, now)
		require.NoError(t, r.Insert(ctx, db, inv))
		if i%2 == 0 {
			joined, err := inv.Join(now)
			require.NoError(t, err)
			require.NoError(t, r.CompareAndSwap(ctx, db, joined, inv.Version))
		}
	}

	inGroup := true
	unpaid := false
	page, err := r.ListPage(ctx, db, invitedomain.Filter{InGroup: &inGroup, HasPaid: &unpaid}, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, snowflake.ID(2), page[0].ID)

	page, err = r.ListPage(ctx, db, invitedomain.Filter{InGroup: &inGroup, HasPaid: &unpaid}, page[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, snowflake.ID(4), page[0].ID)

	active := invitedomain.StatusActive
	page, err = r.ListPage(ctx, db, invitedomain.Filter{Status: &active, SubjectIDs: []int64{101, 105}}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
