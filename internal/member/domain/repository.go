package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Filter struct {
	Status *Status
	// WithAccessExpiry selects members whose paid access has an end.
	WithAccessExpiry bool
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, member *Member) error
	FindBySubject(ctx context.Context, db *gorm.DB, subjectID int64) (*Member, error)
	ListPage(ctx context.Context, db *gorm.DB, filter Filter, afterID snowflake.ID, limit int) ([]Member, error)
	CompareAndSwap(ctx context.Context, db *gorm.DB, next *Member, expectedVersion int64) error
}
