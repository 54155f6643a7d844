package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
)

const fetchTimeout = 5 * time.Second

// errNotDue marks a row a pass looked at and left alone.
var errNotDue = errors.New("not_due")

func (s *Scheduler) fetchInvitesForWork(ctx context.Context, filter invitedomain.Filter, afterID snowflake.ID, limit int) ([]invitedomain.Invite, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return s.inviteRepo.ListPage(fetchCtx, s.db, filter, afterID, limit)
}

func (s *Scheduler) fetchMembersForWork(ctx context.Context, filter memberdomain.Filter, afterID snowflake.ID, limit int) ([]memberdomain.Member, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return s.memberRepo.ListPage(fetchCtx, s.db, filter, afterID, limit)
}

// forEachInvite walks every invite matching filter in id order and applies fn.
// Failures of fn are logged per subject and never stop the walk; only a failed
// fetch or an expired context is returned.
func (s *Scheduler) forEachInvite(ctx context.Context, pass string, filter invitedomain.Filter, fn func(ctx context.Context, inv *invitedomain.Invite) error) error {
	run := jobRunFromContext(ctx)
	limit := s.policy.Get().BatchSize
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.fetchInvitesForWork(ctx, filter, afterID, limit)
		if err != nil {
			return fmt.Errorf("%s: fetch invites: %w", pass, err)
		}
		for i := range page {
			inv := page[i]
			if err := s.applyItem(ctx, run, pass, inv.SubjectID, func() error { return fn(ctx, &inv) }); err != nil {
				return err
			}
		}
		if len(page) < limit {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}

func (s *Scheduler) forEachMember(ctx context.Context, pass string, filter memberdomain.Filter, fn func(ctx context.Context, member *memberdomain.Member) error) error {
	run := jobRunFromContext(ctx)
	limit := s.policy.Get().BatchSize
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.fetchMembersForWork(ctx, filter, afterID, limit)
		if err != nil {
			return fmt.Errorf("%s: fetch members: %w", pass, err)
		}
		for i := range page {
			m := page[i]
			if err := s.applyItem(ctx, run, pass, m.SubjectID, func() error { return fn(ctx, &m) }); err != nil {
				return err
			}
		}
		if len(page) < limit {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}

// applyItem runs one row of a pass. It only returns an error when the sweep
// context is done.
func (s *Scheduler) applyItem(ctx context.Context, run *jobRun, pass string, subjectID int64, fn func() error) error {
	err := fn()
	switch {
	case err == nil:
		run.AddProcessed(1)
		if run != nil {
			s.metrics.AddItemsProcessed(run.job, pass, 1)
		}
		return nil
	case errors.Is(err, errNotDue):
		return nil
	case errors.Is(err, invitedomain.ErrStateConflict), errors.Is(err, memberdomain.ErrStateConflict):
		s.metrics.IncStateConflict(pass)
		s.logConflict(ctx, pass, subjectID)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.logItemFailure(ctx, run, pass, subjectID, err)
		return nil
	}
}

// claimInvite writes next over inv when nobody else changed it in between.
func (s *Scheduler) claimInvite(ctx context.Context, inv, next *invitedomain.Invite) error {
	return s.inviteRepo.CompareAndSwap(ctx, s.db, next, inv.Version)
}

// releaseClaim undoes a claim by writing the pre-claim state back. A lost
// race here leaves the newer state in place.
func (s *Scheduler) releaseClaim(ctx context.Context, prev, claimed *invitedomain.Invite) error {
	restored, err := claimed.Restore(prev, s.clock.Now())
	if err != nil {
		return err
	}
	return s.inviteRepo.CompareAndSwap(ctx, s.db, restored, claimed.Version)
}
