package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	overview "github.com/smallbiznis/trialgate/internal/overview/domain"
	"github.com/smallbiznis/trialgate/internal/trialclock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.MembershipPolicyHolder
	Invites invitedomain.Repository
	Members memberdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.MembershipPolicyHolder
	invites invitedomain.Repository
	members memberdomain.Repository
}

func NewService(p Params) overview.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("overview.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		invites: p.Invites,
		members: p.Members,
	}
}

type statusCount struct {
	Status string
	Count  int64
}

func (s *Service) GetStats(ctx context.Context, req overview.Request) (overview.Stats, error) {
	within, err := normalizeWithin(req.Within)
	if err != nil {
		return overview.Stats{}, err
	}
	now := s.clock.Now()

	members, err := s.countByStatus(ctx, "members")
	if err != nil {
		return overview.Stats{}, err
	}
	invites, err := s.countByStatus(ctx, "invites")
	if err != nil {
		return overview.Stats{}, err
	}
	var pendingUnbans int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invites WHERE unban_at IS NOT NULL AND unbanned_at IS NULL`,
	).Scan(&pendingUnbans).Error; err != nil {
		return overview.Stats{}, err
	}

	stats := overview.Stats{
		GeneratedAt:   now,
		Within:        within,
		Members:       members,
		Invites:       invites,
		PendingUnbans: pendingUnbans,
		Phases: map[string]int64{
			string(trialclock.PhaseInvitePending): invites[string(invitedomain.StatusActive)],
			string(trialclock.PhaseActive):        0,
			string(trialclock.PhaseExpired):       0,
			string(trialclock.PhasePaid):          0,
		},
	}
	for _, count := range members {
		stats.MembersTotal += count
	}

	trial := s.policy.Get().TrialDuration
	err = s.eachInGroup(ctx, func(inv *invitedomain.Invite) {
		state := trialclock.Evaluate(inv, now, trial)
		stats.Phases[string(state.Phase)]++
		if state.Phase == trialclock.PhaseActive && state.Remaining <= within {
			stats.TrialsEnding++
		}
	})
	if err != nil {
		return overview.Stats{}, err
	}

	err = s.eachPaidMember(ctx, func(m *memberdomain.Member) {
		paid := trialclock.PaidAccess(m.AccessExpiresAt, now)
		if !paid.Lifetime && !paid.Lapsed && paid.Remaining <= within {
			stats.PaidEnding++
		}
	})
	if err != nil {
		return overview.Stats{}, err
	}

	return stats, nil
}

// ListExpiring returns in-group trials and paid periods ending within the
// window, soonest first. Already lapsed entries are left to the sweeps.
func (s *Service) ListExpiring(ctx context.Context, req overview.Request) ([]overview.Expiring, error) {
	within, err := normalizeWithin(req.Within)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	now := s.clock.Now()
	trial := s.policy.Get().TrialDuration

	var out []overview.Expiring
	err = s.eachInGroup(ctx, func(inv *invitedomain.Invite) {
		state := trialclock.Evaluate(inv, now, trial)
		if state.Phase != trialclock.PhaseActive || state.Remaining > within {
			return
		}
		out = append(out, overview.Expiring{
			SubjectID:   inv.SubjectID,
			DisplayName: inv.DisplayName,
			Access:      overview.AccessTrial,
			EndsAt:      *state.EndsAt,
			Remaining:   state.Remaining,
		})
	})
	if err != nil {
		return nil, err
	}

	err = s.eachPaidMember(ctx, func(m *memberdomain.Member) {
		paid := trialclock.PaidAccess(m.AccessExpiresAt, now)
		if paid.Lifetime || paid.Lapsed || paid.Remaining > within {
			return
		}
		out = append(out, overview.Expiring{
			SubjectID:   m.SubjectID,
			DisplayName: m.DisplayName,
			Access:      overview.AccessPaid,
			EndsAt:      *m.AccessExpiresAt,
			Remaining:   paid.Remaining,
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EndsAt.Equal(out[j].EndsAt) {
			return out[i].EndsAt.Before(out[j].EndsAt)
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func normalizeWithin(within time.Duration) (time.Duration, error) {
	if within < 0 {
		return 0, overview.ErrInvalidWithin
	}
	if within == 0 {
		return overview.DefaultWithin, nil
	}
	return within, nil
}

func (s *Service) countByStatus(ctx context.Context, table string) (map[string]int64, error) {
	var rows []statusCount
	if err := s.db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM ` + table + ` GROUP BY status`,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (s *Service) batchSize() int {
	if size := s.policy.Get().BatchSize; size > 0 {
		return size
	}
	return defaultLimit
}

func (s *Service) eachInGroup(ctx context.Context, fn func(inv *invitedomain.Invite)) error {
	inGroup := true
	filter := invitedomain.Filter{InGroup: &inGroup}
	size := s.batchSize()
	var after snowflake.ID
	for {
		batch, err := s.invites.ListPage(ctx, s.db, filter, after, size)
		if err != nil {
			return err
		}
		for i := range batch {
			fn(&batch[i])
		}
		if len(batch) < size {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *Service) eachPaidMember(ctx context.Context, fn func(m *memberdomain.Member)) error {
	active := memberdomain.StatusActive
	filter := memberdomain.Filter{Status: &active, WithAccessExpiry: true}
	size := s.batchSize()
	var after snowflake.ID
	for {
		batch, err := s.members.ListPage(ctx, s.db, filter, after, size)
		if err != nil {
			return err
		}
		for i := range batch {
			fn(&batch[i])
		}
		if len(batch) < size {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}
