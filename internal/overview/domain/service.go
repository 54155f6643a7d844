package domain

import (
	"context"
	"errors"
	"time"
)

// DefaultWithin is the look-ahead used when a request leaves Within unset.
const DefaultWithin = 7 * 24 * time.Hour

type Request struct {
	// Within bounds how far ahead an ending trial or paid period counts as expiring.
	Within time.Duration
	// Limit caps ListExpiring. Zero means 100.
	Limit int
}

// Access names what an expiring entry loses.
type Access string

const (
	AccessTrial Access = "trial"
	AccessPaid  Access = "paid"
)

type Stats struct {
	GeneratedAt   time.Time        `json:"generated_at"`
	Within        time.Duration    `json:"within"`
	MembersTotal  int64            `json:"members_total"`
	Members       map[string]int64 `json:"members"`
	Invites       map[string]int64 `json:"invites"`
	Phases        map[string]int64 `json:"phases"`
	PendingUnbans int64            `json:"pending_unbans"`
	TrialsEnding  int64            `json:"trials_ending"`
	PaidEnding    int64            `json:"paid_ending"`
}

type Expiring struct {
	SubjectID   int64         `json:"subject_id"`
	DisplayName string        `json:"display_name"`
	Access      Access        `json:"access"`
	EndsAt      time.Time     `json:"ends_at"`
	Remaining   time.Duration `json:"remaining"`
}

// Service reports membership counts and upcoming expiries for operators.
type Service interface {
	GetStats(ctx context.Context, req Request) (Stats, error)
	ListExpiring(ctx context.Context, req Request) ([]Expiring, error)
}

var (
	ErrInvalidWithin = errors.New("invalid_within")
)
