package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	accountrepo "github.com/smallbiznis/loyalty/internal/account/repository"
	"github.com/smallbiznis/loyalty/internal/clock"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/loyalty/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/loyalty/internal/ledger/service"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger ledgerdomain.Service
	svc    reconciledomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accountdomain.Account{}, &ledgerdomain.LoyaltyTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	accounts := accountrepo.Provide()
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:     ledgerrepo.Provide(),
		Accounts: accounts,
	})

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Accounts: accounts,
		Ledger:   ledgerSvc,
	})

	return &testEnv{db: db, node: node, ledger: ledgerSvc, svc: svc}
}

func (e *testEnv) seedAccount(t *testing.T) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	require.NoError(t, e.db.Create(&accountdomain.Account{
		ID:    id,
		Email: fmt.Sprintf("user-%s@example.com", id),
	}).Error)
	return id
}

func (e *testEnv) corruptBalance(t *testing.T, userID snowflake.ID, points int64) {
	t.Helper()
	require.NoError(t, e.db.Exec("UPDATE accounts SET loyalty_points = ? WHERE id = ?", points, userID).Error)
}

func (e *testEnv) countTransactions(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&ledgerdomain.LoyaltyTransaction{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

// flakyLedger fails the first few appends with a retryable lock error,
// then hands off to the real service.
type flakyLedger struct {
	ledgerdomain.Service
	failures int
}

func (f *flakyLedger) AppendInTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (ledgerdomain.LoyaltyTransaction, error) {
	if f.failures > 0 {
		f.failures--
		return ledgerdomain.LoyaltyTransaction{}, fmt.Errorf("database is locked")
	}
	return f.Service.AppendInTx(ctx, tx, req)
}

func TestValidate_ConsistentAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)

	validation, err := env.svc.Validate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
	assert.Equal(t, int64(100), validation.CurrentPoints)
	assert.Equal(t, int64(100), validation.CalculatedPoints)
	assert.Equal(t, int64(0), validation.Difference)
}

func TestValidate_ReportsDriftAsData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	env.corruptBalance(t, userID, 120)

	validation, err := env.svc.Validate(ctx, userID)
	require.NoError(t, err)
	assert.False(t, validation.IsValid)
	assert.Equal(t, int64(120), validation.CurrentPoints)
	assert.Equal(t, int64(100), validation.CalculatedPoints)
	assert.Equal(t, int64(20), validation.Difference)
}

func TestValidate_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Validate(context.Background(), env.node.Generate())
	assert.ErrorIs(t, err, reconciledomain.ErrAccountNotFound)

	_, err = env.svc.Validate(context.Background(), 0)
	assert.ErrorIs(t, err, reconciledomain.ErrInvalidUser)
}

func TestFix_OvershootAppendsDeduction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	env.corruptBalance(t, userID, 120)

	result, err := env.svc.Fix(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.OldPoints)
	assert.Equal(t, int64(100), result.NewPoints)
	assert.Equal(t, int64(20), result.Difference)

	var correction ledgerdomain.LoyaltyTransaction
	require.NoError(t, env.db.Where("user_id = ? AND created_by = ?", userID, "reconciler").First(&correction).Error)
	assert.Equal(t, ledgerdomain.TypeDeducted, correction.TransactionType)
	assert.Equal(t, int64(20), correction.PointsAmount)
	assert.Equal(t, int64(120), correction.PointsBefore)
	assert.Equal(t, int64(100), correction.PointsAfter)

	// The correction itself is ledger history, so the account now validates.
	validation, err := env.svc.Validate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

func TestFix_UndershootAppendsEarn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	env.corruptBalance(t, userID, 80)

	result, err := env.svc.Fix(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(-20), result.Difference)

	var correction ledgerdomain.LoyaltyTransaction
	require.NoError(t, env.db.Where("user_id = ? AND created_by = ?", userID, "reconciler").First(&correction).Error)
	assert.Equal(t, ledgerdomain.TypeEarned, correction.TransactionType)
	assert.Equal(t, int64(20), correction.PointsAmount)

	validation, err := env.svc.Validate(ctx, userID)
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
}

func TestFix_RetriesLockConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	env.corruptBalance(t, userID, 120)

	svc := New(Params{
		DB:       env.db,
		Log:      zap.NewNop(),
		Accounts: accountrepo.Provide(),
		Ledger:   &flakyLedger{Service: env.ledger, failures: 2},
	})

	result, err := svc.Fix(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.Difference)
	assert.Equal(t, int64(100), result.NewPoints)

	var correction ledgerdomain.LoyaltyTransaction
	require.NoError(t, env.db.Where("user_id = ? AND created_by = ?", userID, "reconciler").First(&correction).Error)
	assert.Equal(t, int64(20), correction.PointsAmount)
}

func TestFix_GivesUpAfterPersistentConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	env.corruptBalance(t, userID, 120)
	before := env.countTransactions(t, userID)

	svc := New(Params{
		DB:       env.db,
		Log:      zap.NewNop(),
		Accounts: accountrepo.Provide(),
		Ledger:   &flakyLedger{Service: env.ledger, failures: 100},
	})

	_, err = svc.Fix(ctx, userID)
	assert.ErrorIs(t, err, ledgerdomain.ErrConcurrentUpdate)
	assert.Equal(t, before, env.countTransactions(t, userID))
}

func TestFix_ValidAccountWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t)

	_, err := env.ledger.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: 100,
	})
	require.NoError(t, err)
	before := env.countTransactions(t, userID)

	result, err := env.svc.Fix(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Difference)
	assert.Equal(t, int64(100), result.OldPoints)
	assert.Equal(t, int64(100), result.NewPoints)
	assert.Equal(t, before, env.countTransactions(t, userID))

	// Fixing twice is the no-op twice, not two corrections.
	result, err = env.svc.Fix(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Difference)
	assert.Equal(t, before, env.countTransactions(t, userID))
}
