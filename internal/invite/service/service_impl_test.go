package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	inviterepo "github.com/smallbiznis/trialgate/internal/invite/repository"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	memberrepo "github.com/smallbiznis/trialgate/internal/member/repository"
	memberservice "github.com/smallbiznis/trialgate/internal/member/service"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/internal/platform/platformtest"
	"github.com/smallbiznis/trialgate/internal/storetest"
	"github.com/smallbiznis/trialgate/internal/trialclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testGroupID   = int64(-1001)
	testAdminChat = int64(-2002)
	botID         = int64(777)
)

type harness struct {
	svc     *Service
	db      *gorm.DB
	repo    invitedomain.Repository
	members memberdomain.Service
	fake    *platformtest.Fake
	clock   *clock.FakeClock
	policy  config.MembershipPolicy
}

func newHarness(t *testing.T, repo invitedomain.Repository) *harness {
	t.Helper()
	db := storetest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := platformtest.New(botID)
	if repo == nil {
		repo = inviterepo.Provide()
	}

	policy := config.DefaultMembershipPolicy()
	members := memberservice.NewService(memberservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: memberrepo.Provide(),
	})
	dispatcher := notification.New(fake, testAdminChat, notification.RetryConfig{
		MaxTries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
	}, zap.NewNop(), nil)

	svc := New(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fc,
		Config:   config.Config{Telegram: config.TelegramConfig{GroupID: testGroupID}},
		Policy:   config.NewStaticPolicyHolder(policy),
		Repo:     repo,
		Members:  members,
		Platform: fake,
		Notifier: dispatcher,
	})
	return &harness{svc: svc, db: db, repo: repo, members: members, fake: fake, clock: fc, policy: policy}
}

func (h *harness) join(t *testing.T, inv *invitedomain.Invite) *invitedomain.Invite {
	t.Helper()
	joined, err := inv.Join(h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.repo.CompareAndSwap(context.Background(), h.db, joined, inv.Version))
	return joined
}

func countInvites(t *testing.T, db *gorm.DB, subjectID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&invitedomain.Invite{}).Where("subject_id = ?", subjectID).Count(&n).Error)
	return n
}

func TestIssueTrialIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42, DisplayName: "Ada Lovelace"})
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.NotEmpty(t, first.Link)

	second, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42, DisplayName: "Ada Lovelace"})
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Link, second.Link)
	assert.Equal(t, first.Invite.Version, second.Invite.Version)

	assert.Equal(t, int64(1), countInvites(t, h.db, 42))
	creates := h.fake.Calls(platformtest.OpCreateInviteLink)
	require.Len(t, creates, 1)
	assert.Equal(t, 1, creates[0].Options.MemberLimit)
	assert.Equal(t, "trial-ada-lovelace", creates[0].Options.Name)
	require.NotNil(t, creates[0].Options.ExpireAt)
	assert.True(t, creates[0].Options.ExpireAt.Equal(h.clock.Now().Add(h.policy.TrialDuration)))

	m, err := h.members.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", m.DisplayName)
}

func TestIssueConcurrentSameSubjectCreatesOneRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	links := make([]string, 8)
	for i := range links {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
			if assert.NoError(t, err) {
				links[i] = res.Link
			}
		}(i)
	}
	wg.Wait()

	for _, link := range links {
		assert.Equal(t, links[0], link)
	}
	assert.Equal(t, int64(1), countInvites(t, h.db, 42))
}

func TestIssuePreconditions(t *testing.T) {
	t.Run("not a group", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fake.SetChatType(platform.ChatTypeChannel)

		_, err := h.svc.IssueTrial(context.Background(), invitedomain.IssueRequest{SubjectID: 42})
		assert.ErrorIs(t, err, invitedomain.ErrPermissionDenied)
		assert.Empty(t, h.fake.Calls(platformtest.OpCreateInviteLink))
		assert.Equal(t, int64(0), countInvites(t, h.db, 42))
	})

	t.Run("bot without invite rights", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fake.SetMember(botID, platform.ChatMember{Status: platform.MemberStatusAdministrator, CanInviteUsers: false})

		_, err := h.svc.IssueTrial(context.Background(), invitedomain.IssueRequest{SubjectID: 42})
		assert.ErrorIs(t, err, invitedomain.ErrPermissionDenied)
		assert.Empty(t, h.fake.Calls(platformtest.OpCreateInviteLink))
		assert.Equal(t, int64(0), countInvites(t, h.db, 42))

		alerts := h.fake.Calls(platformtest.OpSendMessage)
		require.Len(t, alerts, 1)
		assert.Equal(t, testAdminChat, alerts[0].ChatID)
	})
}

func TestIssueExternalFailureWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.FailNext(platformtest.OpCreateInviteLink, platform.NewError(platformtest.OpCreateInviteLink, platform.ErrTransient, 502, "bad gateway"))

	_, err := h.svc.IssueTrial(context.Background(), invitedomain.IssueRequest{SubjectID: 42})
	assert.ErrorIs(t, err, invitedomain.ErrExternalFailure)
	assert.ErrorIs(t, err, platform.ErrTransient)
	assert.Equal(t, int64(0), countInvites(t, h.db, 42))
}

func TestIssueReplacesTimeExpiredLink(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)

	h.clock.Advance(h.policy.TrialDuration)
	second, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.NotEqual(t, first.Link, second.Link)

	old, err := h.repo.FindByID(ctx, h.db, first.Invite.ID)
	require.NoError(t, err)
	assert.Equal(t, invitedomain.StatusExpired, old.Status)

	revokes := h.fake.Calls(platformtest.OpRevokeInviteLink)
	require.Len(t, revokes, 1)
	assert.Equal(t, first.Link, revokes[0].Link)
}

func TestIssuePaid(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.IssuePaid(context.Background(), invitedomain.IssueRequest{SubjectID: 42, DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, invitedomain.KindPaid, res.Invite.Kind)
	assert.True(t, res.Invite.HasPaid)
	assert.Nil(t, res.Invite.ExpiresAt)

	creates := h.fake.Calls(platformtest.OpCreateInviteLink)
	require.Len(t, creates, 1)
	assert.Nil(t, creates[0].Options.ExpireAt)
}

// staleRepo hides the first active-invite lookup, as a second process would
// see it just before the other one commits.
type staleRepo struct {
	invitedomain.Repository
	mu    sync.Mutex
	armed bool
}

func (r *staleRepo) FindActiveBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*invitedomain.Invite, error) {
	r.mu.Lock()
	hide := r.armed
	r.armed = false
	r.mu.Unlock()
	if hide {
		return nil, nil
	}
	return r.Repository.FindActiveBySubject(ctx, db, subjectID)
}

func TestIssueLoserRevokesAndReusesWinner(t *testing.T) {
	repo := &staleRepo{Repository: inviterepo.Provide()}
	h := newHarness(t, repo)
	ctx := context.Background()

	winner, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.armed = true
	repo.mu.Unlock()

	loser, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	assert.True(t, loser.Reused)
	assert.Equal(t, winner.Link, loser.Link)
	assert.Equal(t, int64(1), countInvites(t, h.db, 42))

	creates := h.fake.Calls(platformtest.OpCreateInviteLink)
	require.Len(t, creates, 2)
	revokes := h.fake.Calls(platformtest.OpRevokeInviteLink)
	require.Len(t, revokes, 1)
	assert.NotEqual(t, winner.Link, revokes[0].Link)
}

func TestCheckLink(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.CheckLink(ctx, " ")
	assert.ErrorIs(t, err, invitedomain.ErrInvalidLink)

	v, err := h.svc.CheckLink(ctx, "https://t.me/+missing")
	require.NoError(t, err)
	assert.Equal(t, invitedomain.LinkValidity{Reason: invitedomain.LinkReasonNotFound}, v)

	res, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	v, err = h.svc.CheckLink(ctx, res.Link)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	h.clock.Advance(h.policy.TrialDuration + time.Second)
	v, err = h.svc.CheckLink(ctx, res.Link)
	require.NoError(t, err)
	assert.Equal(t, invitedomain.LinkReasonTimeExpired, v.Reason)

	other, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 43})
	require.NoError(t, err)
	h.join(t, other.Invite)
	v, err = h.svc.CheckLink(ctx, other.Link)
	require.NoError(t, err)
	assert.Equal(t, invitedomain.LinkReasonUsed, v.Reason)

	v, err = h.svc.CheckLink(ctx, res.Link)
	require.NoError(t, err)
	assert.Equal(t, invitedomain.LinkReasonTimeExpired, v.Reason)
}

func TestRecordPaymentForPendingTrialSwapsLink(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	trial, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42, DisplayName: "Ada"})
	require.NoError(t, err)

	out, err := h.svc.RecordPayment(ctx, 42)
	require.NoError(t, err)
	assert.False(t, out.AlreadyPaid)
	require.NotEmpty(t, out.NewLink)
	assert.NotEqual(t, trial.Link, out.NewLink)
	assert.Equal(t, invitedomain.KindPaid, out.Invite.Kind)

	old, err := h.repo.FindByID(ctx, h.db, trial.Invite.ID)
	require.NoError(t, err)
	assert.Equal(t, invitedomain.StatusExpired, old.Status)

	sends := h.fake.Calls(platformtest.OpSendMessage)
	require.Len(t, sends, 1)
	assert.Equal(t, int64(42), sends[0].ChatID)
	assert.Contains(t, sends[0].Text, out.NewLink)

	m, err := h.members.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, memberdomain.StatusActive, m.Status)
	assert.True(t, m.HasPaid())
	assert.Nil(t, m.AccessExpiresAt)
}

func TestRecordPaymentForInGroupSubject(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	trial, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	h.join(t, trial.Invite)

	out, err := h.svc.RecordPayment(ctx, 42)
	require.NoError(t, err)
	assert.False(t, out.AlreadyPaid)
	assert.Empty(t, out.NewLink)
	assert.True(t, out.Invite.HasPaid)
	assert.True(t, out.Invite.IsInGroup)

	again, err := h.svc.RecordPayment(ctx, 42)
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)
	assert.Len(t, h.fake.Calls(platformtest.OpCreateInviteLink), 1)

	report, err := h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, string(trialclock.PhasePaid), report.Phase)
}

func TestRecordPaymentForRemovedSubjectLiftsBan(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	trial, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	joined := h.join(t, trial.Invite)
	removed, err := joined.Remove(h.clock.Now(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.repo.CompareAndSwap(ctx, h.db, removed, joined.Version))

	out, err := h.svc.RecordPayment(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, out.NewLink)

	require.Len(t, h.fake.Calls(platformtest.OpUnbanChatMember), 1)
	old, err := h.repo.FindByID(ctx, h.db, trial.Invite.ID)
	require.NoError(t, err)
	assert.True(t, old.HasPaid)
	assert.NotNil(t, old.UnbannedAt)
	assert.False(t, old.PendingUnban())
}

func TestStatusFollowsTrialClock(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	report, err := h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, string(trialclock.PhaseNotStarted), report.Phase)

	res, err := h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	report, err = h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, string(trialclock.PhaseInvitePending), report.Phase)

	h.join(t, res.Invite)
	h.clock.Advance(time.Hour)
	report, err = h.svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, string(trialclock.PhaseActive), report.Phase)
	assert.Equal(t, h.policy.TrialDuration-time.Hour, report.Remaining)
}

func TestList(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.List(ctx, 0)
	assert.ErrorIs(t, err, invitedomain.ErrInvalidSubject)

	_, err = h.svc.IssueTrial(ctx, invitedomain.IssueRequest{SubjectID: 42})
	require.NoError(t, err)
	invites, err := h.svc.List(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, invites, 1)
}

func TestLinkName(t *testing.T) {
	assert.Equal(t, "trial-ada", linkName(invitedomain.KindTrial, "Ada"))
	name := linkName(invitedomain.KindPaid, "A very long display name that keeps going")
	assert.LessOrEqual(t, len(name), maxLinkNameLength)
	assert.NotEqual(t, '-', rune(name[len(name)-1]))
}
