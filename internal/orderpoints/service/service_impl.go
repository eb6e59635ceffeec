package service

import (
	"context"
	"fmt"
	"time"

	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	orderpointsdomain "github.com/smallbiznis/loyalty/internal/orderpoints/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	maxCompensationAttempts = 8
	compensationBackoff     = 50 * time.Millisecond
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) orderpointsdomain.Service {
	return &Service{
		log:        p.Log.Named("orderpoints.service"),
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Process(ctx context.Context, req orderpointsdomain.ProcessRequest) (orderpointsdomain.ProcessResult, error) {
	if req.UserID == 0 || req.OrderID == 0 {
		return orderpointsdomain.ProcessResult{}, orderpointsdomain.ErrInvalidOrder
	}
	if req.PointsUsed < 0 || req.PointsEarned < 0 {
		return orderpointsdomain.ProcessResult{}, ledgerdomain.ErrNegativeAmount
	}

	orderID := req.OrderID

	usedCommitted := false
	if req.PointsUsed > 0 {
		_, err := s.ledger.Append(ctx, ledgerdomain.AppendRequest{
			UserID:      req.UserID,
			OrderID:     &orderID,
			Type:        ledgerdomain.TypeUsed,
			Amount:      req.PointsUsed,
			Description: fmt.Sprintf("points used for order #%s", req.OrderNumber),
			CreatedBy:   req.CreatedBy,
		})
		if err != nil {
			// Nothing committed yet; the whole operation aborts here and
			// the earn step is never attempted.
			return orderpointsdomain.ProcessResult{}, fmt.Errorf("use step: %w", err)
		}
		usedCommitted = true
	}

	if req.PointsEarned > 0 {
		_, err := s.ledger.Append(ctx, ledgerdomain.AppendRequest{
			UserID:      req.UserID,
			OrderID:     &orderID,
			Type:        ledgerdomain.TypeEarned,
			Amount:      req.PointsEarned,
			Description: fmt.Sprintf("points earned from order #%s", req.OrderNumber),
			CreatedBy:   req.CreatedBy,
		})
		if err != nil {
			if usedCommitted {
				if compErr := s.compensateUse(ctx, req); compErr != nil {
					return orderpointsdomain.ProcessResult{}, compErr
				}
			}
			return orderpointsdomain.ProcessResult{}, fmt.Errorf("earn step: %w", err)
		}
	}

	return orderpointsdomain.ProcessResult{
		Success:      true,
		PointsUsed:   req.PointsUsed,
		PointsEarned: req.PointsEarned,
	}, nil
}

// compensateUse reverses a committed USED transaction after the earn step
// failed. A dangling USED row is the worst failure mode here, so the refund
// is retried hard before escalating.
func (s *Service) compensateUse(ctx context.Context, req orderpointsdomain.ProcessRequest) error {
	orderID := req.OrderID

	var lastErr error
	for attempt := 1; attempt <= maxCompensationAttempts; attempt++ {
		_, err := s.ledger.Append(ctx, ledgerdomain.AppendRequest{
			UserID:      req.UserID,
			OrderID:     &orderID,
			Type:        ledgerdomain.TypeRefunded,
			Amount:      req.PointsUsed,
			Description: fmt.Sprintf("reversal of points used for order #%s after earn failure", req.OrderNumber),
			CreatedBy:   req.CreatedBy,
		})
		if err == nil {
			s.obsMetrics.RecordCompensation(ctx)
			s.log.Info("compensated failed order-points operation",
				zap.String("user_id", req.UserID.String()),
				zap.String("order_id", req.OrderID.String()),
				zap.Int64("points_refunded", req.PointsUsed),
			)
			return nil
		}

		lastErr = err
		s.log.Warn("compensation attempt failed",
			zap.String("user_id", req.UserID.String()),
			zap.String("order_id", req.OrderID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(time.Duration(attempt) * compensationBackoff):
			continue
		}
		break
	}

	s.obsMetrics.RecordCompensationFailure(ctx)
	s.log.Error("compensation exhausted retries, ledger holds an unreversed USED transaction",
		zap.String("user_id", req.UserID.String()),
		zap.String("order_id", req.OrderID.String()),
		zap.Int64("points_used", req.PointsUsed),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%w: %v", orderpointsdomain.ErrCompensationFailed, lastErr)
}
