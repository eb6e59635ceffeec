package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	cancellationdomain "github.com/smallbiznis/loyalty/internal/cancellation/domain"
	"github.com/smallbiznis/loyalty/internal/config"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/loyalty/internal/order/domain"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxCancelAttempts = 5
	cancelBackoff     = 25 * time.Millisecond
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Orders orderdomain.Repository
	Ledger ledgerdomain.Service
	Policy *config.PolicyHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	orders orderdomain.Repository
	ledger ledgerdomain.Service
	policy *config.PolicyHolder
}

func New(p Params) cancellationdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("cancellation.service"),
		orders: p.Orders,
		ledger: p.Ledger,
		policy: p.Policy,
	}
}

func (s *Service) Cancel(ctx context.Context, req cancellationdomain.CancelRequest) (cancellationdomain.CancelResult, error) {
	if req.OrderID == 0 {
		return cancellationdomain.CancelResult{}, cancellationdomain.ErrInvalidOrder
	}

	order, err := s.orders.FindByID(ctx, s.db, req.OrderID)
	if err != nil {
		return cancellationdomain.CancelResult{}, err
	}
	if order == nil {
		return cancellationdomain.CancelResult{}, cancellationdomain.ErrNotFound
	}
	if order.Status.Terminal() {
		return cancellationdomain.CancelResult{}, cancellationdomain.ErrAlreadyFinalized
	}

	penalty := s.policy.Get().PenaltyFor(order.FinalAmount)
	deduct := order.PointsEarned + penalty
	orderID := order.ID

	createdBy := strings.TrimSpace(req.CancelledBy)
	if createdBy == "" {
		createdBy = "system"
	}

	runCancel := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// The guarded transition doubles as the idempotency check: a
			// racing cancellation or delivery commits first and leaves zero
			// rows for us to update.
			rows, markErr := s.orders.MarkCancelled(ctx, tx, order.ID)
			if markErr != nil {
				return markErr
			}
			if rows == 0 {
				return cancellationdomain.ErrAlreadyFinalized
			}

			if order.PointsUsed > 0 {
				if _, appendErr := s.ledger.AppendInTx(ctx, tx, ledgerdomain.AppendRequest{
					UserID:      order.UserID,
					OrderID:     &orderID,
					Type:        ledgerdomain.TypeRefunded,
					Amount:      order.PointsUsed,
					Description: fmt.Sprintf("refund of points used for cancelled order #%s", order.OrderNumber),
					CreatedBy:   createdBy,
				}); appendErr != nil {
					return appendErr
				}
			}

			if deduct > 0 {
				if _, appendErr := s.ledger.AppendInTx(ctx, tx, ledgerdomain.AppendRequest{
					UserID:      order.UserID,
					OrderID:     &orderID,
					Type:        ledgerdomain.TypeDeducted,
					Amount:      deduct,
					Description: fmt.Sprintf("clawback of %d earned points plus %d cancellation penalty for order #%s", order.PointsEarned, penalty, order.OrderNumber),
					CreatedBy:   createdBy,
				}); appendErr != nil {
					return appendErr
				}
			}

			return nil
		})
	}

	// Each attempt rolls back whole, so a retry re-runs the guarded
	// transition against the untouched order row.
	var lastErr error
	for attempt := 1; attempt <= maxCancelAttempts; attempt++ {
		err = runCancel()
		if err == nil {
			break
		}
		if !db.IsSerializationErr(err) {
			return cancellationdomain.CancelResult{}, err
		}
		lastErr = err
		s.log.Warn("cancellation conflict, retrying",
			zap.String("order_id", order.ID.String()),
			zap.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return cancellationdomain.CancelResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * cancelBackoff):
		}
	}
	if err != nil {
		s.log.Error("cancellation exhausted retries",
			zap.String("order_id", order.ID.String()),
			zap.Error(lastErr),
		)
		return cancellationdomain.CancelResult{}, ledgerdomain.ErrConcurrentUpdate
	}

	s.log.Info("order cancelled",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.Int64("points_refunded", order.PointsUsed),
		zap.Int64("points_deducted", deduct),
		zap.Int64("tier_penalty", penalty),
	)

	return cancellationdomain.CancelResult{
		Success:        true,
		Message:        fmt.Sprintf("order #%s cancelled: %d points refunded, %d points deducted", order.OrderNumber, order.PointsUsed, deduct),
		PointsDeducted: deduct,
		PointsRefunded: order.PointsUsed,
	}, nil
}
