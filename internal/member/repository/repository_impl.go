package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const memberColumns = `id, subject_id, display_name, username, status, paid_at, access_expires_at,
	notification_count, last_notified_at, metadata, version, created_at, updated_at`

type repo struct{}

func Provide() memberdomain.Repository {
	return &repo{}
}

// Upsert inserts the member or refreshes its profile fields. Lifecycle
// columns of an existing row are left untouched.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, member *memberdomain.Member) error {
	if member.Version == 0 {
		member.Version = 1
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "username", "updated_at"}),
	}).Create(member).Error
}

func (r *repo) FindBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*memberdomain.Member, error) {
	var member memberdomain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members WHERE subject_id = ? LIMIT 1`,
		subjectID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) ListPage(ctx context.Context, db *gorm.DB, filter memberdomain.Filter, afterID snowflake.ID, limit int) ([]memberdomain.Member, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id > ?"}
	args := []any{afterID}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.WithAccessExpiry {
		clauses = append(clauses, "access_expires_at IS NOT NULL")
	}
	args = append(args, limit)

	var members []memberdomain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT `+memberColumns+` FROM members
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY id ASC
		LIMIT ?`,
		args...,
	).Scan(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repo) CompareAndSwap(ctx context.Context, db *gorm.DB, next *memberdomain.Member, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE members SET
			display_name = ?,
			username = ?,
			status = ?,
			paid_at = ?,
			access_expires_at = ?,
			notification_count = ?,
			last_notified_at = ?,
			metadata = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		next.DisplayName,
		next.Username,
		next.Status,
		next.PaidAt,
		next.AccessExpiresAt,
		next.NotificationCount,
		next.LastNotifiedAt,
		next.Metadata,
		next.UpdatedAt,
		next.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return memberdomain.ErrStateConflict
	}
	next.Version = expectedVersion + 1
	return nil
}
