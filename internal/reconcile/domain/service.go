package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// PointsValidation compares the cached balance against the ledger-derived
// value. Drift is an expected outcome surfaced as data, never as an error.
type PointsValidation struct {
	UserID           snowflake.ID `json:"user_id"`
	CurrentPoints    int64        `json:"current_points"`
	CalculatedPoints int64        `json:"calculated_points"`
	Difference       int64        `json:"difference"`
	IsValid          bool         `json:"is_valid"`
}

// FixResult reports one correction. Difference zero means the account was
// already valid and nothing was written.
type FixResult struct {
	UserID     snowflake.ID `json:"user_id"`
	OldPoints  int64        `json:"old_points"`
	NewPoints  int64        `json:"new_points"`
	Difference int64        `json:"difference"`
}

type Service interface {
	Validate(ctx context.Context, userID snowflake.ID) (PointsValidation, error)
	// Fix overwrites the cached balance with the ledger-derived value by
	// appending exactly one correcting transaction. The correction is part
	// of the ledger, so a subsequent Validate reports valid.
	Fix(ctx context.Context, userID snowflake.ID) (FixResult, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrAccountNotFound = errors.New("account_not_found")
	ErrFixLocked       = errors.New("fix_already_in_progress")
)
