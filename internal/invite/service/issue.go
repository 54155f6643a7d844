package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability/logger"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/observability/tracing"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/pkg/db"
	"go.uber.org/zap"
)

// maxLinkNameLength is the platform limit on invite link names.
const maxLinkNameLength = 32

func (s *Service) IssueTrial(ctx context.Context, req invitedomain.IssueRequest) (invitedomain.IssueResult, error) {
	if req.SubjectID == 0 {
		return invitedomain.IssueResult{}, invitedomain.ErrInvalidSubject
	}
	unlock := s.lockSubject(req.SubjectID)
	defer unlock()
	return s.issueLocked(ctx, req, invitedomain.KindTrial)
}

func (s *Service) IssuePaid(ctx context.Context, req invitedomain.IssueRequest) (invitedomain.IssueResult, error) {
	if req.SubjectID == 0 {
		return invitedomain.IssueResult{}, invitedomain.ErrInvalidSubject
	}
	unlock := s.lockSubject(req.SubjectID)
	defer unlock()
	return s.issueLocked(ctx, req, invitedomain.KindPaid)
}

// issueLocked must run under the subject lock.
func (s *Service) issueLocked(ctx context.Context, req invitedomain.IssueRequest, kind invitedomain.Kind) (invitedomain.IssueResult, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.Int64("subject_id", req.SubjectID),
		zap.String("kind", string(kind)),
	)

	member, err := s.members.Register(ctx, memberdomain.RegisterRequest{
		SubjectID:   req.SubjectID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return invitedomain.IssueResult{}, err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = member.DisplayName
	}

	now := s.clock.Now()
	existing, err := s.repo.FindActiveBySubject(ctx, s.db, req.SubjectID)
	if err != nil {
		return invitedomain.IssueResult{}, err
	}
	if existing != nil {
		if !existing.LinkExpired(now) {
			s.metrics.RecordInviteIssued(ctx, string(existing.Kind), true)
			return invitedomain.IssueResult{Link: existing.Link, Invite: existing, Reused: true}, nil
		}
		// the platform link is dead, retire it before issuing a new one
		if _, err := s.RevokeAndExpire(ctx, existing, now); err != nil {
			return invitedomain.IssueResult{}, err
		}
		log.Info("retired time-expired invite before reissue", zap.String("invite_id", existing.ID.String()))
	}

	if err := s.checkPreconditions(ctx); err != nil {
		log.Warn("invite preconditions failed", zap.Error(tracing.SafeError(err)))
		return invitedomain.IssueResult{}, err
	}

	policy := s.policy.Get()
	opts := platform.InviteLinkOptions{
		Name:        linkName(kind, displayName),
		MemberLimit: 1,
	}
	var expiresAt *time.Time
	if kind == invitedomain.KindTrial {
		at := now.Add(policy.TrialDuration)
		expiresAt = &at
		opts.ExpireAt = &at
	}

	created, err := s.platform.CreateInviteLink(ctx, s.groupID, opts)
	if err != nil {
		return invitedomain.IssueResult{}, s.externalError(ctx, "create invite link", err)
	}
	if created.ExpireAt != nil && expiresAt != nil {
		expiresAt = created.ExpireAt
	}

	inv := &invitedomain.Invite{
		ID:          s.genID.Generate(),
		SubjectID:   req.SubjectID,
		DisplayName: displayName,
		Link:        created.Link,
		Kind:        kind,
		Status:      invitedomain.StatusActive,
		ExpiresAt:   expiresAt,
		HasPaid:     kind == invitedomain.KindPaid,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inv.HasPaid {
		inv.PaidAt = &now
	}
	if err := inv.Validate(); err != nil {
		return invitedomain.IssueResult{}, err
	}

	if err := s.repo.Insert(ctx, s.db, inv); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			s.revokeBestEffort(ctx, inv)
			return invitedomain.IssueResult{}, err
		}
		// another process issued first; hand out its link and drop ours
		s.revokeBestEffort(ctx, inv)
		winner, findErr := s.repo.FindActiveBySubject(ctx, s.db, req.SubjectID)
		if findErr != nil {
			return invitedomain.IssueResult{}, findErr
		}
		if winner == nil {
			return invitedomain.IssueResult{}, invitedomain.ErrStateConflict
		}
		log.Info("concurrent issuance lost, reusing winner", zap.String("invite_id", winner.ID.String()))
		s.metrics.RecordInviteIssued(ctx, string(winner.Kind), true)
		return invitedomain.IssueResult{Link: winner.Link, Invite: winner, Reused: true}, nil
	}

	s.counters.IncTransition(metrics.TransitionIssued)
	s.metrics.RecordInviteIssued(ctx, string(kind), false)
	log.Info("invite issued", zap.String("invite_id", inv.ID.String()))
	return invitedomain.IssueResult{Link: inv.Link, Invite: inv}, nil
}

// checkPreconditions verifies the target is a group in which the bot may
// create invite links. It runs before any link is created.
func (s *Service) checkPreconditions(ctx context.Context) error {
	info, err := s.platform.GetChatInfo(ctx, s.groupID)
	if err != nil {
		return s.externalError(ctx, "get chat info", err)
	}
	if !info.IsGroup() {
		return fmt.Errorf("%w: chat %d is a %s, not a group", invitedomain.ErrPermissionDenied, s.groupID, info.Type)
	}

	self, err := s.platform.GetChatMember(ctx, s.groupID, s.platform.PrincipalID())
	if err != nil {
		return s.externalError(ctx, "get bot membership", err)
	}
	if !self.CanInvite() {
		err := fmt.Errorf("%w: bot is %s without invite rights", invitedomain.ErrPermissionDenied, self.Status)
		s.alertAdmin(ctx, notification.PermissionAlert("invite links", err))
		return err
	}
	return nil
}

// externalError maps a platform failure onto the invite error taxonomy.
func (s *Service) externalError(ctx context.Context, op string, err error) error {
	if errors.Is(err, platform.ErrPermissionDenied) {
		s.alertAdmin(ctx, notification.PermissionAlert(op, err))
		return fmt.Errorf("%w: %s: %w", invitedomain.ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %w", invitedomain.ErrExternalFailure, op, err)
}

func (s *Service) alertAdmin(ctx context.Context, text string) {
	if s.notifier != nil {
		s.notifier.AlertAdmin(ctx, tracing.RedactLinks(text))
	}
}

// linkName builds the platform-visible name of an invite link.
func linkName(kind invitedomain.Kind, displayName string) string {
	name := slug.Make(string(kind) + " " + displayName)
	if len(name) > maxLinkNameLength {
		name = strings.TrimRight(name[:maxLinkNameLength], "-")
	}
	return name
}
