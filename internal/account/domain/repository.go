package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("account_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	// FindForUpdate locks the account row for the duration of the caller's
	// transaction. This is the serialization point for all balance writes.
	FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Account, error)
	// UpdatePoints overwrites the cached balance. Callers must hold the row
	// lock taken by FindForUpdate in the same transaction.
	UpdatePoints(ctx context.Context, tx *gorm.DB, id snowflake.ID, points int64) error
	// ListWithPoints returns ids of accounts whose cached balance is nonzero.
	ListWithPoints(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
