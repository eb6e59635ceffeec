package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType is the closed set of ledger movement kinds. Sign is
// implied by the type; amounts are stored as non-negative magnitudes.
type TransactionType string

const (
	TypeEarned   TransactionType = "EARNED"
	TypeUsed     TransactionType = "USED"
	TypeRefunded TransactionType = "REFUNDED"
	TypeDeducted TransactionType = "DEDUCTED"
)

// Valid reports whether t belongs to the closed enumeration.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeEarned, TypeUsed, TypeRefunded, TypeDeducted:
		return true
	default:
		return false
	}
}

// Sign returns +1 for balance-increasing types and -1 for decreasing ones.
func (t TransactionType) Sign() int64 {
	switch t {
	case TypeEarned, TypeRefunded:
		return 1
	default:
		return -1
	}
}

// Signed converts a stored magnitude into its signed contribution.
func Signed(t TransactionType, amount int64) int64 {
	return t.Sign() * amount
}

// LoyaltyTransaction is one immutable ledger row. points_after must equal
// points_before plus the signed amount; rows are never updated or deleted,
// corrections are new rows.
type LoyaltyTransaction struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID          snowflake.ID    `gorm:"not null;index:ix_loyalty_transactions_user_created,priority:1" json:"user_id"`
	OrderID         *snowflake.ID   `gorm:"index" json:"order_id,omitempty"`
	TransactionType TransactionType `gorm:"type:text;not null" json:"transaction_type"`
	PointsAmount    int64           `gorm:"not null" json:"points_amount"`
	PointsBefore    int64           `gorm:"not null" json:"points_before"`
	PointsAfter     int64           `gorm:"not null" json:"points_after"`
	Description     string          `gorm:"not null;default:''" json:"description"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_loyalty_transactions_user_created,priority:2" json:"created_at"`
	CreatedBy       string          `gorm:"not null;default:'system'" json:"created_by"`
}

// TableName sets the database table name.
func (LoyaltyTransaction) TableName() string { return "loyalty_transactions" }
