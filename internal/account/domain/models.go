package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account carries the denormalized loyalty balance. The balance is a cache
// of the signed transaction sum and is only ever written inside the same
// transaction that appends the corresponding ledger row.
type Account struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Email         string       `gorm:"not null;uniqueIndex:ux_accounts_email" json:"email"`
	FullName      string       `gorm:"not null;default:''" json:"full_name"`
	LoyaltyPoints int64        `gorm:"not null;default:0" json:"loyalty_points"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
