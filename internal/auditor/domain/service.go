package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
)

// InvalidDetail is one drifted account found by the batch scan.
type InvalidDetail struct {
	UserID           snowflake.ID `json:"user_id"`
	CurrentPoints    int64        `json:"current_points"`
	CalculatedPoints int64        `json:"calculated_points"`
	Difference       int64        `json:"difference"`
}

// Report aggregates one audit run over all accounts with a nonzero cached
// balance. Zero-balance accounts are skipped: they cannot hide drift a
// customer would notice, and they dominate the table.
type Report struct {
	TotalUsers     int             `json:"total_users"`
	ValidUsers     int             `json:"valid_users"`
	InvalidUsers   int             `json:"invalid_users"`
	InvalidDetails []InvalidDetail `json:"invalid_details"`
}

// FixOutcome is one bulk-correction result.
type FixOutcome struct {
	UserID snowflake.ID              `json:"user_id"`
	Fixed  bool                      `json:"fixed"`
	Result reconciledomain.FixResult `json:"result"`
	Error  string                    `json:"error,omitempty"`
}

type Service interface {
	// AuditAll is read-only: it detects and reports, it never corrects.
	AuditAll(ctx context.Context) (Report, error)
	// FixAll is the explicit operator-triggered bulk correction pass.
	FixAll(ctx context.Context) ([]FixOutcome, error)
}
