package domain

import (
	"fmt"
	"time"
)

// Validate checks the cross-field invariants of an invite row.
func (i *Invite) Validate() error {
	switch i.Status {
	case StatusActive, StatusUsed, StatusExpired:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, i.Status)
	}
	switch i.Kind {
	case KindTrial, KindPaid:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidState, i.Kind)
	}
	if (i.UsedAt != nil) != (i.Status == StatusUsed) {
		return fmt.Errorf("%w: used_at must be set exactly when used", ErrInvalidState)
	}
	if (i.JoinedAt != nil) != i.IsInGroup {
		return fmt.Errorf("%w: joined_at must be set exactly when in group", ErrInvalidState)
	}
	if i.IsInGroup && i.Status != StatusUsed {
		return fmt.Errorf("%w: in group requires a used invite", ErrInvalidState)
	}
	if i.Kind == KindPaid && !i.HasPaid {
		return fmt.Errorf("%w: paid invite without payment", ErrInvalidState)
	}
	if i.LastWarningLevel < 0 {
		return fmt.Errorf("%w: negative warning level", ErrInvalidState)
	}
	return nil
}

// apply runs mutate on a copy and returns it only when the result is valid.
// The receiver is never modified.
func (i *Invite) apply(now time.Time, mutate func(next *Invite) error) (*Invite, error) {
	next := *i
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

// Join consumes an active invite and places the subject in the group.
func (i *Invite) Join(now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if next.Status != StatusActive {
			return fmt.Errorf("%w: join requires an active invite, got %s", ErrInvalidState, next.Status)
		}
		next.Status = StatusUsed
		next.UsedAt = &now
		next.IsInGroup = true
		next.JoinedAt = &now
		return nil
	})
}

// Leave records the subject leaving the group on its own.
func (i *Invite) Leave(now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if !next.IsInGroup {
			return fmt.Errorf("%w: leave requires an in-group invite", ErrInvalidState)
		}
		next.IsInGroup = false
		next.JoinedAt = nil
		next.LeftAt = &now
		return nil
	})
}

// Remove claims the removal of an in-group subject. The ban lifts at now+cooldown.
func (i *Invite) Remove(now time.Time, cooldown time.Duration) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if !next.IsInGroup {
			return fmt.Errorf("%w: remove requires an in-group invite", ErrInvalidState)
		}
		unbanAt := now.Add(cooldown)
		next.IsInGroup = false
		next.JoinedAt = nil
		next.RemovedAt = &now
		next.UnbanAt = &unbanAt
		next.UnbannedAt = nil
		return nil
	})
}

// Unban stamps the lift of a pending ban.
func (i *Invite) Unban(now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if !next.PendingUnban() {
			return fmt.Errorf("%w: no pending ban", ErrInvalidState)
		}
		next.UnbannedAt = &now
		return nil
	})
}

// Expire retires an active invite whose link must no longer be handed out.
func (i *Invite) Expire(now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if next.Status != StatusActive {
			return fmt.Errorf("%w: expire requires an active invite, got %s", ErrInvalidState, next.Status)
		}
		next.Status = StatusExpired
		return nil
	})
}

// MarkPaid records a payment. It is idempotent and keeps the first paid_at.
func (i *Invite) MarkPaid(now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		next.HasPaid = true
		if next.PaidAt == nil {
			next.PaidAt = &now
		}
		return nil
	})
}

// ClaimWarning raises the last warning level. Levels only move forward here;
// RevertWarning is the single way back.
func (i *Invite) ClaimWarning(now time.Time, level int) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if level <= next.LastWarningLevel {
			return fmt.Errorf("%w: warning level %d already reached", ErrInvalidState, level)
		}
		next.LastWarningLevel = level
		return nil
	})
}

// RevertWarning restores a warning level after a failed send.
func (i *Invite) RevertWarning(now time.Time, level int) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		if level > next.LastWarningLevel {
			return fmt.Errorf("%w: cannot revert forward", ErrInvalidState)
		}
		next.LastWarningLevel = level
		return nil
	})
}

// Restore returns prev with the receiver's version so it can be written back
// over a claim that must be undone.
func (i *Invite) Restore(prev *Invite, now time.Time) (*Invite, error) {
	return i.apply(now, func(next *Invite) error {
		version := next.Version
		*next = *prev
		next.Version = version
		// payment is never undone
		next.HasPaid = next.HasPaid || i.HasPaid
		if next.PaidAt == nil {
			next.PaidAt = i.PaidAt
		}
		return nil
	})
}
