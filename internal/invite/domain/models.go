// Package domain contains the invite record and its lifecycle transitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindTrial Kind = "trial"
	KindPaid  Kind = "paid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Invite is one issuance attempt for a subject. Rows are never deleted.
type Invite struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	SubjectID        int64        `gorm:"not null;index" json:"subject_id"`
	DisplayName      string       `gorm:"type:text" json:"display_name"`
	Link             string       `gorm:"type:text;not null;index" json:"link"`
	Kind             Kind         `gorm:"type:text;not null" json:"kind"`
	Status           Status       `gorm:"type:text;not null;index" json:"status"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	UsedAt           *time.Time   `json:"used_at,omitempty"`
	HasPaid          bool         `gorm:"not null;default:false" json:"has_paid"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	IsInGroup        bool         `gorm:"not null;default:false;index" json:"is_in_group"`
	JoinedAt         *time.Time   `json:"joined_at,omitempty"`
	LeftAt           *time.Time   `json:"left_at,omitempty"`
	RemovedAt        *time.Time   `json:"removed_at,omitempty"`
	UnbanAt          *time.Time   `json:"unban_at,omitempty"`
	UnbannedAt       *time.Time   `json:"unbanned_at,omitempty"`
	LastWarningLevel int          `gorm:"not null;default:0" json:"last_warning_level"`
	Version          int64        `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invite) TableName() string { return "invites" }

// LinkExpired reports whether the platform-side expiry has passed.
func (i *Invite) LinkExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// PendingUnban reports whether a ban placed by a removal still has to be lifted.
func (i *Invite) PendingUnban() bool {
	return i.UnbanAt != nil && i.UnbannedAt == nil
}
