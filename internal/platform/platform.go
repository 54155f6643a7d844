// Package platform describes the chat platform operations the membership
// lifecycle depends on. Adapters translate their failures into *Error so the
// rest of the module can branch on ErrPermissionDenied, ErrTransient and
// ErrNotFound with errors.Is.
package platform

import (
	"context"
	"time"
)

// Chat types returned by GetChatInfo.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Member statuses returned by GetChatMember and carried in membership events.
const (
	MemberStatusCreator       = "creator"
	MemberStatusAdministrator = "administrator"
	MemberStatusMember        = "member"
	MemberStatusRestricted    = "restricted"
	MemberStatusLeft          = "left"
	MemberStatusKicked        = "kicked"
)

type InviteLinkOptions struct {
	Name        string
	ExpireAt    *time.Time
	MemberLimit int
}

type InviteLink struct {
	Link     string
	ExpireAt *time.Time
}

type ChatInfo struct {
	Type  string
	Title string
}

// IsGroup reports whether the chat accepts invite links.
func (c ChatInfo) IsGroup() bool {
	return c.Type == ChatTypeGroup || c.Type == ChatTypeSupergroup
}

type ChatMember struct {
	Status         string
	CanInviteUsers bool
}

// InGroup reports whether the status counts as present in the group.
func (m ChatMember) InGroup() bool {
	switch m.Status {
	case MemberStatusCreator, MemberStatusAdministrator, MemberStatusMember, MemberStatusRestricted:
		return true
	}
	return false
}

// CanInvite reports whether the member may create invite links.
func (m ChatMember) CanInvite() bool {
	switch m.Status {
	case MemberStatusCreator:
		return true
	case MemberStatusAdministrator:
		return m.CanInviteUsers
	}
	return false
}

type MessageOptions struct {
	DisablePreview bool
}

// Platform is the chat platform surface used by the lifecycle.
type Platform interface {
	CreateInviteLink(ctx context.Context, groupID int64, opts InviteLinkOptions) (InviteLink, error)
	RevokeInviteLink(ctx context.Context, groupID int64, link string) error
	GetChatInfo(ctx context.Context, chatID int64) (ChatInfo, error)
	GetChatMember(ctx context.Context, chatID, subjectID int64) (ChatMember, error)
	BanChatMember(ctx context.Context, groupID, subjectID int64, until time.Time) error
	UnbanChatMember(ctx context.Context, groupID, subjectID int64) error
	SendMessage(ctx context.Context, chatID int64, text string, opts MessageOptions) error
	// PrincipalID is the platform identity the service acts as.
	PrincipalID() int64
}

// MembershipEvent is a change of a subject's status in a chat.
type MembershipEvent struct {
	GroupID     int64
	SubjectID   int64
	DisplayName string
	Username    string
	OldStatus   string
	NewStatus   string
	// InviteLink is the link used to join, when the platform reports it.
	InviteLink string
	At         time.Time
}

// Joined reports an edge into plain membership.
func (e MembershipEvent) Joined() bool {
	return e.NewStatus == MemberStatusMember && e.OldStatus != MemberStatusMember
}

// Left reports a transition from inside the group to outside it.
func (e MembershipEvent) Left() bool {
	return (ChatMember{Status: e.OldStatus}).InGroup() && !(ChatMember{Status: e.NewStatus}).InGroup()
}
