package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"gorm.io/gorm"
)

const inviteColumns = `id, subject_id, display_name, link, kind, status, expires_at, used_at,
	has_paid, paid_at, is_in_group, joined_at, left_at, removed_at, unban_at, unbanned_at,
	last_warning_level, version, created_at, updated_at`

type repo struct{}

func Provide() invitedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invite *invitedomain.Invite) error {
	if invite.Version == 0 {
		invite.Version = 1
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO invites (`+inviteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invite.ID,
		invite.SubjectID,
		invite.DisplayName,
		invite.Link,
		invite.Kind,
		invite.Status,
		invite.ExpiresAt,
		invite.UsedAt,
		invite.HasPaid,
		invite.PaidAt,
		invite.IsInGroup,
		invite.JoinedAt,
		invite.LeftAt,
		invite.RemovedAt,
		invite.UnbanAt,
		invite.UnbannedAt,
		invite.LastWarningLevel,
		invite.Version,
		invite.CreatedAt,
		invite.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invitedomain.Invite, error) {
	return r.findOne(ctx, db, `SELECT `+inviteColumns+` FROM invites WHERE id = ? LIMIT 1`, id)
}

func (r *repo) FindLatestBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*invitedomain.Invite, error) {
	return r.findOne(ctx, db,
		`SELECT `+inviteColumns+` FROM invites
		WHERE subject_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		subjectID,
	)
}

func (r *repo) FindActiveBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*invitedomain.Invite, error) {
	return r.findOne(ctx, db,
		`SELECT `+inviteColumns+` FROM invites
		WHERE subject_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		subjectID, invitedomain.StatusActive,
	)
}

func (r *repo) FindInGroupBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*invitedomain.Invite, error) {
	return r.findOne(ctx, db,
		`SELECT `+inviteColumns+` FROM invites
		WHERE subject_id = ? AND is_in_group = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		subjectID, true,
	)
}

func (r *repo) FindByLink(ctx context.Context, db *gorm.DB, link string) (*invitedomain.Invite, error) {
	return r.findOne(ctx, db,
		`SELECT `+inviteColumns+` FROM invites
		WHERE link = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		link,
	)
}

func (r *repo) ListBySubject(ctx context.Context, db *gorm.DB, subjectID int64) ([]invitedomain.Invite, error) {
	var invites []invitedomain.Invite
	err := db.WithContext(ctx).Raw(
		`SELECT `+inviteColumns+` FROM invites
		WHERE subject_id = ?
		ORDER BY created_at DESC, id DESC`,
		subjectID,
	).Scan(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (r *repo) ListPage(ctx context.Context, db *gorm.DB, filter invitedomain.Filter, afterID snowflake.ID, limit int) ([]invitedomain.Invite, error) {
	if limit <= 0 {
		limit = 100
	}

	clauses := []string{"id > ?"}
	args := []any{afterID}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Kind != nil {
		clauses = append(clauses, "kind = ?")
		args = append(args, *filter.Kind)
	}
	if filter.InGroup != nil {
		clauses = append(clauses, "is_in_group = ?")
		args = append(args, *filter.InGroup)
	}
	if filter.HasPaid != nil {
		clauses = append(clauses, "has_paid = ?")
		args = append(args, *filter.HasPaid)
	}
	if filter.PendingUnban {
		clauses = append(clauses, "unban_at IS NOT NULL AND unbanned_at IS NULL")
	}
	if len(filter.SubjectIDs) > 0 {
		clauses = append(clauses, "subject_id IN ?")
		args = append(args, filter.SubjectIDs)
	}
	args = append(args, limit)

	var invites []invitedomain.Invite
	err := db.WithContext(ctx).Raw(
		`SELECT `+inviteColumns+` FROM invites
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY id ASC
		LIMIT ?`,
		args...,
	).Scan(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (r *repo) CompareAndSwap(ctx context.Context, db *gorm.DB, next *invitedomain.Invite, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE invites SET
			display_name = ?,
			status = ?,
			expires_at = ?,
			used_at = ?,
			has_paid = has_paid OR ?,
			paid_at = COALESCE(paid_at, ?),
			is_in_group = ?,
			joined_at = ?,
			left_at = ?,
			removed_at = ?,
			unban_at = ?,
			unbanned_at = ?,
			last_warning_level = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		next.DisplayName,
		next.Status,
		next.ExpiresAt,
		next.UsedAt,
		next.HasPaid,
		next.PaidAt,
		next.IsInGroup,
		next.JoinedAt,
		next.LeftAt,
		next.RemovedAt,
		next.UnbanAt,
		next.UnbannedAt,
		next.LastWarningLevel,
		next.UpdatedAt,
		next.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invitedomain.ErrStateConflict
	}
	next.Version = expectedVersion + 1
	return nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*invitedomain.Invite, error) {
	var invite invitedomain.Invite
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invite).Error; err != nil {
		return nil, err
	}
	if invite.ID == 0 {
		return nil, nil
	}
	return &invite, nil
}
