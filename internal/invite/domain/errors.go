package domain

import "errors"

var (
	ErrInvalidSubject   = errors.New("invalid_subject")
	ErrInvalidKind      = errors.New("invalid_invite_kind")
	ErrInvalidLink      = errors.New("invalid_link")
	ErrInviteNotFound   = errors.New("invite_not_found")
	ErrInvalidState     = errors.New("invalid_invite_state")
	ErrStateConflict    = errors.New("state_conflict")
	ErrPermissionDenied = errors.New("permission_denied")
	ErrExternalFailure  = errors.New("external_failure")
)
