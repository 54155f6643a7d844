package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// casAttempts bounds re-reads when a concurrent writer bumps the version.
const casAttempts = 3

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  memberdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  memberdomain.Repository
}

func NewService(p ServiceParam) memberdomain.Service {
	svcClock := p.Clock
	if svcClock == nil {
		svcClock = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("member.service"),
		genID: p.GenID,
		clock: svcClock,
		repo:  p.Repo,
	}
}

// Register inserts the member or refreshes its non-empty profile fields.
// The lifecycle status of an existing member is kept.
func (s *Service) Register(ctx context.Context, req memberdomain.RegisterRequest) (*memberdomain.Member, error) {
	if req.SubjectID == 0 {
		return nil, memberdomain.ErrInvalidSubject
	}
	displayName := strings.TrimSpace(req.DisplayName)
	username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")

	existing, err := s.repo.FindBySubject(ctx, s.db, req.SubjectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.mutate(ctx, req.SubjectID, func(m *memberdomain.Member, _ time.Time) bool {
			changed := false
			if displayName != "" && displayName != m.DisplayName {
				m.DisplayName = displayName
				changed = true
			}
			if username != "" && username != m.Username {
				m.Username = username
				changed = true
			}
			if len(req.Metadata) > 0 {
				if m.Metadata == nil {
					m.Metadata = datatypes.JSONMap{}
				}
				for k, v := range req.Metadata {
					m.Metadata[k] = v
				}
				changed = true
			}
			return changed
		})
	}

	now := s.clock.Now()
	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	member := &memberdomain.Member{
		ID:          s.genID.Generate(),
		SubjectID:   req.SubjectID,
		DisplayName: displayName,
		Username:    username,
		Status:      memberdomain.StatusPending,
		Metadata:    metadata,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// a concurrent insert for the same subject turns into a profile refresh
	if err := s.repo.Upsert(ctx, s.db, member); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindBySubject(ctx, s.db, req.SubjectID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return stored, nil
}

func (s *Service) Get(ctx context.Context, subjectID int64) (*memberdomain.Member, error) {
	if subjectID == 0 {
		return nil, memberdomain.ErrInvalidSubject
	}
	member, err := s.repo.FindBySubject(ctx, s.db, subjectID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) MarkActive(ctx context.Context, subjectID int64) (*memberdomain.Member, error) {
	return s.mutate(ctx, subjectID, func(m *memberdomain.Member, _ time.Time) bool {
		if m.Status == memberdomain.StatusActive {
			return false
		}
		m.Status = memberdomain.StatusActive
		return true
	})
}

func (s *Service) MarkExpired(ctx context.Context, subjectID int64) (*memberdomain.Member, error) {
	return s.mutate(ctx, subjectID, func(m *memberdomain.Member, _ time.Time) bool {
		if m.Status == memberdomain.StatusExpired {
			return false
		}
		m.Status = memberdomain.StatusExpired
		return true
	})
}

func (s *Service) GrantPaidAccess(ctx context.Context, subjectID int64, paidAt time.Time, period time.Duration) (*memberdomain.Member, error) {
	paidAt = paidAt.UTC()
	return s.mutate(ctx, subjectID, func(m *memberdomain.Member, _ time.Time) bool {
		m.Status = memberdomain.StatusActive
		m.PaidAt = &paidAt
		m.AccessExpiresAt = nil
		if period > 0 {
			expiresAt := paidAt.Add(period)
			m.AccessExpiresAt = &expiresAt
		}
		m.NotificationCount = 0
		m.LastNotifiedAt = nil
		return true
	})
}

func (s *Service) RecordReminder(ctx context.Context, member *memberdomain.Member, at time.Time) (*memberdomain.Member, error) {
	if member == nil || member.ID == 0 {
		return nil, memberdomain.ErrMemberNotFound
	}
	at = at.UTC()
	next := *member
	next.NotificationCount++
	next.LastNotifiedAt = &at
	next.UpdatedAt = s.clock.Now()
	if err := s.repo.CompareAndSwap(ctx, s.db, &next, member.Version); err != nil {
		return nil, err
	}
	return &next, nil
}

// mutate applies fn to a fresh copy of the member and writes it with a
// version check, re-reading on conflict. fn returns false when no write is needed.
func (s *Service) mutate(ctx context.Context, subjectID int64, fn func(m *memberdomain.Member, now time.Time) bool) (*memberdomain.Member, error) {
	if subjectID == 0 {
		return nil, memberdomain.ErrInvalidSubject
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := s.repo.FindBySubject(ctx, s.db, subjectID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, memberdomain.ErrMemberNotFound
		}

		now := s.clock.Now()
		next := *current
		if !fn(&next, now) {
			return current, nil
		}
		next.UpdatedAt = now

		err = s.repo.CompareAndSwap(ctx, s.db, &next, current.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, memberdomain.ErrStateConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("member version conflict, retrying",
			zap.Int64("subject_id", subjectID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}
