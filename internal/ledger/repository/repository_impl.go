package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, txn *domain.LoyaltyTransaction) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO loyalty_transactions (
			id, user_id, order_id, transaction_type, points_amount,
			points_before, points_after, description, created_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		txn.OrderID,
		txn.TransactionType,
		txn.PointsAmount,
		txn.PointsBefore,
		txn.PointsAfter,
		txn.Description,
		txn.CreatedAt,
		txn.CreatedBy,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter) ([]*domain.LoyaltyTransaction, error) {
	var txns []*domain.LoyaltyTransaction
	stmt := db.WithContext(ctx).
		Model(&domain.LoyaltyTransaction{}).
		Where("user_id = ?", userID)

	if at := filter.CursorCreatedAt; at != nil {
		// Keyset continuation for a (created_at desc, id desc) scan.
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			*at, *at, filter.CursorID,
		)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) SumSigned(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE
			WHEN transaction_type IN (?, ?) THEN points_amount
			ELSE -points_amount
		 END), 0)
		 FROM loyalty_transactions WHERE user_id = ?`,
		domain.TypeEarned,
		domain.TypeRefunded,
		userID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
