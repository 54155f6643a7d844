package domain

import (
	"context"
	"time"
)

type IssueRequest struct {
	SubjectID   int64  `json:"subject_id"`
	DisplayName string `json:"display_name"`
}

type IssueResult struct {
	Link   string  `json:"link"`
	Invite *Invite `json:"invite"`
	// Reused is true when an existing active invite was returned unchanged.
	Reused bool `json:"reused"`
}

type PaymentOutcome struct {
	AlreadyPaid bool    `json:"already_paid"`
	Invite      *Invite `json:"invite,omitempty"`
	// NewLink is set when the payment required a fresh paid invite.
	NewLink string `json:"new_link,omitempty"`
}

// Link validity reasons.
const (
	LinkReasonOK          = "ok"
	LinkReasonNotFound    = "not_found"
	LinkReasonUsed        = "used"
	LinkReasonExpired     = "expired"
	LinkReasonTimeExpired = "time_expired"
)

type LinkValidity struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// StatusReport is the trial state of a subject together with its latest invite.
type StatusReport struct {
	SubjectID int64         `json:"subject_id"`
	Phase     string        `json:"phase"`
	Remaining time.Duration `json:"remaining"`
	EndsAt    *time.Time    `json:"ends_at,omitempty"`
	Invite    *Invite       `json:"invite,omitempty"`
}

type Service interface {
	IssueTrial(ctx context.Context, req IssueRequest) (IssueResult, error)
	IssuePaid(ctx context.Context, req IssueRequest) (IssueResult, error)
	RecordPayment(ctx context.Context, subjectID int64) (PaymentOutcome, error)
	CheckLink(ctx context.Context, link string) (LinkValidity, error)
	List(ctx context.Context, subjectID int64) ([]Invite, error)
	Status(ctx context.Context, subjectID int64) (StatusReport, error)
	// RevokeAndExpire retires an active invite and revokes its link best-effort.
	RevokeAndExpire(ctx context.Context, invite *Invite, at time.Time) (*Invite, error)
}
