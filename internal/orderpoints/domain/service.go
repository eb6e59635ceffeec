package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ProcessRequest is the points work for one freshly created order. The
// amounts are the order subsystem's snapshot; this core never recomputes
// them.
type ProcessRequest struct {
	UserID       snowflake.ID
	OrderID      snowflake.ID
	OrderNumber  string
	PointsUsed   int64
	PointsEarned int64
	OrderAmount  int64
	CreatedBy    string
}

type ProcessResult struct {
	Success      bool  `json:"success"`
	PointsUsed   int64 `json:"points_used"`
	PointsEarned int64 `json:"points_earned"`
}

type Service interface {
	// Process applies the use step then the earn step. A failed earn step
	// after a committed use step is compensated with a refund so the net
	// ledger effect of the failed attempt is zero.
	Process(ctx context.Context, req ProcessRequest) (ProcessResult, error)
}

var (
	ErrInvalidOrder = errors.New("invalid_order")
	// ErrCompensationFailed means a committed USED transaction could not be
	// reversed after the earn step failed. The ledger still balances against
	// the cached total, but the order-level outcome is wrong until an
	// operator intervenes; callers must treat this as an alert.
	ErrCompensationFailed = errors.New("compensation_failed")
)
