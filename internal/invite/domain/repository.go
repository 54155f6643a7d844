package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Filter selects invites for keyset pagination. Nil fields are not filtered.
type Filter struct {
	Status       *Status
	InGroup      *bool
	HasPaid      *bool
	Kind         *Kind
	PendingUnban bool
	SubjectIDs   []int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invite *Invite) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invite, error)
	FindLatestBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*Invite, error)
	FindActiveBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*Invite, error)
	FindInGroupBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*Invite, error)
	FindByLink(ctx context.Context, db *gorm.DB, link string) (*Invite, error)
	ListBySubject(ctx context.Context, db *gorm.DB, subjectID int64) ([]Invite, error)
	// ListPage returns up to limit invites matching filter with id > afterID, ordered by id.
	ListPage(ctx context.Context, db *gorm.DB, filter Filter, afterID snowflake.ID, limit int) ([]Invite, error)
	// CompareAndSwap writes the mutable state of next when the stored version
	// equals expectedVersion and bumps next.Version. It returns ErrStateConflict
	// when no row matched.
	CompareAndSwap(ctx context.Context, db *gorm.DB, next *Invite, expectedVersion int64) error
}
