package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/clock"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	"github.com/smallbiznis/loyalty/pkg/db"
	"github.com/smallbiznis/loyalty/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxAppendAttempts = 5
	appendBackoff     = 25 * time.Millisecond
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	Accounts   accountdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	accounts   accountdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		accounts:   p.Accounts,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, req ledgerdomain.AppendRequest) (ledgerdomain.LoyaltyTransaction, error) {
	if err := validateAppend(req); err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}

	var txn ledgerdomain.LoyaltyTransaction
	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			appended, appendErr := s.appendLocked(ctx, tx, req)
			if appendErr != nil {
				return appendErr
			}
			txn = appended
			return nil
		})
		if err == nil {
			s.obsMetrics.RecordLedgerAppend(ctx, string(req.Type))
			return txn, nil
		}
		if !db.IsSerializationErr(err) {
			return ledgerdomain.LoyaltyTransaction{}, err
		}

		lastErr = err
		s.obsMetrics.RecordAppendConflict(ctx)
		s.log.Warn("ledger append conflict, retrying",
			zap.String("user_id", req.UserID.String()),
			zap.String("type", string(req.Type)),
			zap.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return ledgerdomain.LoyaltyTransaction{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * appendBackoff):
		}
	}

	s.log.Error("ledger append exhausted retries",
		zap.String("user_id", req.UserID.String()),
		zap.String("type", string(req.Type)),
		zap.Error(lastErr),
	)
	return ledgerdomain.LoyaltyTransaction{}, ledgerdomain.ErrConcurrentUpdate
}

func (s *Service) AppendInTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (ledgerdomain.LoyaltyTransaction, error) {
	if err := validateAppend(req); err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}
	txn, err := s.appendLocked(ctx, tx, req)
	if err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}
	s.obsMetrics.RecordLedgerAppend(ctx, string(req.Type))
	return txn, nil
}

// appendLocked performs the single serialization-critical write: lock the
// account row, snapshot the balance, insert the transaction, move the cache.
func (s *Service) appendLocked(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (ledgerdomain.LoyaltyTransaction, error) {
	account, err := s.accounts.FindForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}
	if account == nil {
		return ledgerdomain.LoyaltyTransaction{}, ledgerdomain.ErrAccountNotFound
	}

	before := account.LoyaltyPoints
	after := before + ledgerdomain.Signed(req.Type, req.Amount)

	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = "system"
	}

	txn := ledgerdomain.LoyaltyTransaction{
		ID:              s.genID.Generate(),
		UserID:          req.UserID,
		OrderID:         req.OrderID,
		TransactionType: req.Type,
		PointsAmount:    req.Amount,
		PointsBefore:    before,
		PointsAfter:     after,
		Description:     req.Description,
		CreatedAt:       s.clock.Now(),
		CreatedBy:       createdBy,
	}

	if err := s.repo.Insert(ctx, tx, &txn); err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}
	if err := s.accounts.UpdatePoints(ctx, tx, req.UserID, after); err != nil {
		return ledgerdomain.LoyaltyTransaction{}, err
	}

	return txn, nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return ledgerdomain.HistoryResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	filter := ledgerdomain.ListFilter{Limit: pageSize}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, decodeErr := pagination.DecodeCursor(token)
		if decodeErr != nil {
			return ledgerdomain.HistoryResponse{}, decodeErr
		}
		at, parseErr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if parseErr != nil {
			return ledgerdomain.HistoryResponse{}, parseErr
		}
		id, idErr := snowflake.ParseString(cursor.ID)
		if idErr != nil {
			return ledgerdomain.HistoryResponse{}, idErr
		}
		filter.CursorCreatedAt = &at
		filter.CursorID = id
	}

	items, err := s.repo.ListByUser(ctx, s.db, userID, filter)
	if err != nil {
		return ledgerdomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(txn *ledgerdomain.LoyaltyTransaction) string {
		token, encodeErr := pagination.EncodeCursor(pagination.Cursor{
			ID:        txn.ID.String(),
			CreatedAt: txn.CreatedAt.Format(time.RFC3339Nano),
		})
		if encodeErr != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	txns := make([]ledgerdomain.LoyaltyTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		txns = append(txns, *item)
	}

	resp := ledgerdomain.HistoryResponse{Transactions: txns}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) SumSigned(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (int64, error) {
	if conn == nil {
		conn = s.db
	}
	return s.repo.SumSigned(ctx, conn, userID)
}

func validateAppend(req ledgerdomain.AppendRequest) error {
	if req.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if !req.Type.Valid() {
		return ledgerdomain.ErrInvalidTransactionType
	}
	if req.Amount < 0 {
		return ledgerdomain.ErrNegativeAmount
	}
	return nil
}

func parseUserID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	return id, nil
}
