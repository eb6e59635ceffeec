package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the order lifecycle state owned by the order subsystem. This
// core only reads it and performs the guarded transition to cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further point movements are allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered
}

// Order is the points snapshot captured at order-creation time. PointsUsed,
// PointsEarned and FinalAmount are immutable inputs; this core never
// recomputes them.
type Order struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;index" json:"user_id"`
	OrderNumber  string       `gorm:"not null;uniqueIndex:ux_orders_order_number" json:"order_number"`
	PointsUsed   int64        `gorm:"not null;default:0" json:"points_used"`
	PointsEarned int64        `gorm:"not null;default:0" json:"points_earned"`
	FinalAmount  int64        `gorm:"not null;default:0" json:"final_amount"`
	Status       Status       `gorm:"type:text;not null;default:'pending'" json:"status"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

var (
	ErrNotFound = errors.New("order_not_found")
)
