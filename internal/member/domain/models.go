// Package domain contains the subject registry used by the membership lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	// StatusPending is registered without access.
	StatusPending Status = "pending"
	// StatusActive has access through a trial or a payment.
	StatusActive Status = "active"
	// StatusExpired was removed from the group.
	StatusExpired Status = "expired"
)

// Member is one external identity.
type Member struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	SubjectID         int64             `gorm:"not null;uniqueIndex" json:"subject_id"`
	DisplayName       string            `gorm:"type:text" json:"display_name"`
	Username          string            `gorm:"type:text" json:"username,omitempty"`
	Status            Status            `gorm:"type:text;not null;index" json:"status"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	AccessExpiresAt   *time.Time        `json:"access_expires_at,omitempty"`
	NotificationCount int               `gorm:"not null;default:0" json:"notification_count"`
	LastNotifiedAt    *time.Time        `json:"last_notified_at,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	Version           int64             `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

// HasPaid reports whether a payment was ever recorded.
func (m *Member) HasPaid() bool {
	return m != nil && m.PaidAt != nil
}
