package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/redislock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	fixLockTTL = 30 * time.Second

	maxFixAttempts = 5
	fixBackoff     = 25 * time.Millisecond
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Accounts   accountdomain.Repository
	Ledger     ledgerdomain.Service
	Locker     *redislock.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	accounts   accountdomain.Repository
	ledger     ledgerdomain.Service
	locker     *redislock.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) reconciledomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile.service"),
		accounts:   p.Accounts,
		ledger:     p.Ledger,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Validate(ctx context.Context, userID snowflake.ID) (reconciledomain.PointsValidation, error) {
	if userID == 0 {
		return reconciledomain.PointsValidation{}, reconciledomain.ErrInvalidUser
	}

	account, err := s.accounts.FindByID(ctx, s.db, userID)
	if err != nil {
		return reconciledomain.PointsValidation{}, err
	}
	if account == nil {
		return reconciledomain.PointsValidation{}, reconciledomain.ErrAccountNotFound
	}

	calculated, err := s.ledger.SumSigned(ctx, s.db, userID)
	if err != nil {
		return reconciledomain.PointsValidation{}, err
	}

	validation := reconciledomain.PointsValidation{
		UserID:           userID,
		CurrentPoints:    account.LoyaltyPoints,
		CalculatedPoints: calculated,
		Difference:       account.LoyaltyPoints - calculated,
		IsValid:          account.LoyaltyPoints == calculated,
	}
	if !validation.IsValid {
		s.obsMetrics.RecordDriftDetected(ctx)
		s.log.Warn("balance drift detected",
			zap.String("user_id", userID.String()),
			zap.Int64("current_points", validation.CurrentPoints),
			zap.Int64("calculated_points", validation.CalculatedPoints),
			zap.Int64("difference", validation.Difference),
		)
	}
	return validation, nil
}

func (s *Service) Fix(ctx context.Context, userID snowflake.ID) (reconciledomain.FixResult, error) {
	if userID == 0 {
		return reconciledomain.FixResult{}, reconciledomain.ErrInvalidUser
	}

	// Cross-instance guard: two admins fixing the same user concurrently
	// must not both append a correction.
	lockKey := fmt.Sprintf("loyalty:fix:%s", userID)
	token, ok, err := s.locker.TryLock(ctx, lockKey, fixLockTTL)
	if err != nil {
		return reconciledomain.FixResult{}, err
	}
	if !ok {
		return reconciledomain.FixResult{}, reconciledomain.ErrFixLocked
	}
	defer func() {
		if releaseErr := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); releaseErr != nil {
			s.log.Warn("failed to release fix lock", zap.String("user_id", userID.String()), zap.Error(releaseErr))
		}
	}()

	var result reconciledomain.FixResult
	runFix := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, findErr := s.accounts.FindForUpdate(ctx, tx, userID)
			if findErr != nil {
				return findErr
			}
			if account == nil {
				return reconciledomain.ErrAccountNotFound
			}

			calculated, sumErr := s.ledger.SumSigned(ctx, tx, userID)
			if sumErr != nil {
				return sumErr
			}

			current := account.LoyaltyPoints
			difference := current - calculated
			result = reconciledomain.FixResult{
				UserID:     userID,
				OldPoints:  current,
				NewPoints:  calculated,
				Difference: difference,
			}
			if difference == 0 {
				// Already consistent; corrections are never written "just in case".
				result.NewPoints = current
				return nil
			}

			txType := ledgerdomain.TypeEarned
			magnitude := difference
			if difference > 0 {
				// Cached balance overshoots the ledger: claw the excess back.
				txType = ledgerdomain.TypeDeducted
			} else {
				magnitude = -difference
			}

			// The append recomputes before/after under the same row lock, so
			// the new balance lands exactly on the calculated value.
			_, appendErr := s.ledger.AppendInTx(ctx, tx, ledgerdomain.AppendRequest{
				UserID:      userID,
				Type:        txType,
				Amount:      magnitude,
				Description: fmt.Sprintf("system correction: balance drift of %d points", difference),
				CreatedBy:   "reconciler",
			})
			return appendErr
		})
	}

	// Each attempt recomputes the drift inside its own transaction, so a
	// retry always corrects against the latest committed balance.
	var lastErr error
	for attempt := 1; attempt <= maxFixAttempts; attempt++ {
		err = runFix()
		if err == nil {
			break
		}
		if !db.IsSerializationErr(err) {
			return reconciledomain.FixResult{}, err
		}
		lastErr = err
		s.log.Warn("fix conflict, retrying",
			zap.String("user_id", userID.String()),
			zap.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return reconciledomain.FixResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * fixBackoff):
		}
	}
	if err != nil {
		s.log.Error("fix exhausted retries",
			zap.String("user_id", userID.String()),
			zap.Error(lastErr),
		)
		return reconciledomain.FixResult{}, ledgerdomain.ErrConcurrentUpdate
	}

	if result.Difference != 0 {
		s.obsMetrics.RecordDriftCorrected(ctx)
		s.log.Info("balance drift corrected",
			zap.String("user_id", userID.String()),
			zap.Int64("old_points", result.OldPoints),
			zap.Int64("new_points", result.NewPoints),
			zap.Int64("difference", result.Difference),
		)
	}
	return result, nil
}
