package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CancelRequest struct {
	OrderID     snowflake.ID
	CancelledBy string
}

type CancelResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	PointsDeducted int64  `json:"points_deducted"`
	PointsRefunded int64  `json:"points_refunded"`
}

type Service interface {
	// Cancel refunds the points spent on the order, claws back the points
	// it earned plus the tier penalty, and marks the order cancelled, all
	// in one atomic unit. The deduction may drive the balance negative;
	// debt is tracked rather than the penalty being dropped.
	Cancel(ctx context.Context, req CancelRequest) (CancelResult, error)
}

var (
	ErrInvalidOrder = errors.New("invalid_order")
	ErrNotFound     = errors.New("order_not_found")
	// ErrAlreadyFinalized guards idempotency by order state: a second
	// cancellation, or cancelling a delivered order, writes nothing.
	ErrAlreadyFinalized = errors.New("order_already_finalized")
)
