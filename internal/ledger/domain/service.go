package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"gorm.io/gorm"
)

// AppendRequest describes one ledger movement. The balance snapshots are
// computed by the service under the account row lock, never by callers.
type AppendRequest struct {
	UserID      snowflake.ID
	OrderID     *snowflake.ID
	Type        TransactionType
	Amount      int64
	Description string
	CreatedBy   string
}

type HistoryRequest struct {
	UserID    string
	PageToken string
	PageSize  int
}

type HistoryResponse struct {
	pagination.PageInfo
	Transactions []LoyaltyTransaction `json:"transactions"`
}

type Service interface {
	// Append writes one transaction and the matching balance update in a
	// single atomic unit, retrying bounded times on lock conflicts.
	Append(ctx context.Context, req AppendRequest) (LoyaltyTransaction, error)
	// AppendInTx is Append running inside a caller-owned transaction. The
	// caller decides atomicity across multiple appends; no retry happens
	// here because the whole enclosing transaction is the retry unit.
	AppendInTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (LoyaltyTransaction, error)
	// History lists a user's transactions newest first with cursor paging.
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	// SumSigned computes the balance implied by the full ledger.
	SumSigned(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}

var (
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrNegativeAmount         = errors.New("negative_amount")
	ErrInvalidUser            = errors.New("invalid_user")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrConcurrentUpdate       = errors.New("concurrent_update_conflict")
)
