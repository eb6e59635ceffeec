package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// MarkCancelled transitions the order to cancelled unless it is already
	// terminal. It returns the number of rows updated; zero means another
	// cancellation (or delivery) won the race.
	MarkCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID) (int64, error)
}
