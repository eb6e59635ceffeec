package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter carries a decoded keyset cursor. Zero values mean "from the top".
type ListFilter struct {
	CursorCreatedAt *time.Time
	CursorID        snowflake.ID
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, txn *LoyaltyTransaction) error
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter) ([]*LoyaltyTransaction, error)
	SumSigned(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
