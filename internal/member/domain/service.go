package domain

import (
	"context"
	"errors"
	"time"
)

type RegisterRequest struct {
	SubjectID   int64          `json:"subject_id"`
	DisplayName string         `json:"display_name"`
	Username    string         `json:"username,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Member, error)
	Get(ctx context.Context, subjectID int64) (*Member, error)
	MarkActive(ctx context.Context, subjectID int64) (*Member, error)
	MarkExpired(ctx context.Context, subjectID int64) (*Member, error)
	// GrantPaidAccess activates the member with access until paidAt+period,
	// or without an end when period is zero, and resets reminders.
	GrantPaidAccess(ctx context.Context, subjectID int64, paidAt time.Time, period time.Duration) (*Member, error)
	// RecordReminder counts one paid reminder against the given snapshot.
	RecordReminder(ctx context.Context, member *Member, at time.Time) (*Member, error)
}

var (
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrMemberNotFound = errors.New("member_not_found")
	ErrStateConflict  = errors.New("state_conflict")
)
