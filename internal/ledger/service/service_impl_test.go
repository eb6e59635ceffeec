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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   ledgerdomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accountdomain.Account{}, &ledgerdomain.LoyaltyTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Repo:     ledgerrepo.Provide(),
		Accounts: accountrepo.Provide(),
	})

	return &testEnv{db: db, node: node, clock: fake, svc: svc}
}

func (e *testEnv) seedAccount(t *testing.T, points int64) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	account := &accountdomain.Account{
		ID:            id,
		Email:         fmt.Sprintf("user-%s@example.com", id),
		LoyaltyPoints: points,
	}
	require.NoError(t, e.db.Create(account).Error)
	return id
}

func (e *testEnv) countTransactions(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&ledgerdomain.LoyaltyTransaction{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func (e *testEnv) balance(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	var account accountdomain.Account
	require.NoError(t, e.db.First(&account, "id = ?", userID).Error)
	return account.LoyaltyPoints
}

func TestAppend_MaintainsSnapshotsAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 0)

	earned, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID:      userID,
		Type:        ledgerdomain.TypeEarned,
		Amount:      100,
		Description: "signup bonus",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), earned.PointsBefore)
	assert.Equal(t, int64(100), earned.PointsAfter)
	assert.Equal(t, "system", earned.CreatedBy)

	env.clock.Advance(time.Second)

	used, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeUsed,
		Amount: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), used.PointsBefore)
	assert.Equal(t, int64(70), used.PointsAfter)

	assert.Equal(t, int64(70), env.balance(t, userID))

	sum, err := env.svc.SumSigned(ctx, nil, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), sum)
}

func TestAppend_AllTypeSigns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 0)

	steps := []struct {
		txType   ledgerdomain.TransactionType
		amount   int64
		expected int64
	}{
		{ledgerdomain.TypeEarned, 100, 100},
		{ledgerdomain.TypeUsed, 40, 60},
		{ledgerdomain.TypeRefunded, 40, 100},
		{ledgerdomain.TypeDeducted, 25, 75},
	}
	for _, step := range steps {
		env.clock.Advance(time.Second)
		txn, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
			UserID: userID,
			Type:   step.txType,
			Amount: step.amount,
		})
		require.NoError(t, err, "type %s", step.txType)
		assert.Equal(t, step.expected, txn.PointsAfter, "type %s", step.txType)
	}

	assert.Equal(t, int64(75), env.balance(t, userID))
}

func TestAppend_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 0)

	_, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TransactionType("EXPIRED"),
		Amount: 10,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidTransactionType)

	_, err = env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: -10,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrNegativeAmount)

	_, err = env.svc.Append(ctx, ledgerdomain.AppendRequest{
		Type:   ledgerdomain.TypeEarned,
		Amount: 10,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	_, err = env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID: env.node.Generate(),
		Type:   ledgerdomain.TypeEarned,
		Amount: 10,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	assert.Equal(t, int64(0), env.countTransactions(t, userID))
}

func TestAppend_ZeroAmountIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 50)

	txn, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeUsed,
		Amount: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), txn.PointsBefore)
	assert.Equal(t, int64(50), txn.PointsAfter)
}

func TestAppendInTx_RollsBackWithCaller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 0)

	boom := fmt.Errorf("boom")
	err := env.db.Transaction(func(tx *gorm.DB) error {
		if _, appendErr := env.svc.AppendInTx(ctx, tx, ledgerdomain.AppendRequest{
			UserID: userID,
			Type:   ledgerdomain.TypeEarned,
			Amount: 100,
		}); appendErr != nil {
			return appendErr
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), env.countTransactions(t, userID))
	assert.Equal(t, int64(0), env.balance(t, userID))
}

func TestHistory_NewestFirstWithCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedAccount(t, 0)

	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Minute)
		_, err := env.svc.Append(ctx, ledgerdomain.AppendRequest{
			UserID:      userID,
			Type:        ledgerdomain.TypeEarned,
			Amount:      int64(10 * (i + 1)),
			Description: fmt.Sprintf("batch %d", i),
		})
		require.NoError(t, err)
	}

	first, err := env.svc.History(ctx, ledgerdomain.HistoryRequest{
		UserID:   userID.String(),
		PageSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(50), first.Transactions[0].PointsAmount)
	assert.Equal(t, int64(40), first.Transactions[1].PointsAmount)

	second, err := env.svc.History(ctx, ledgerdomain.HistoryRequest{
		UserID:    userID.String(),
		PageSize:  2,
		PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 2)
	assert.True(t, second.HasMore)
	assert.Equal(t, int64(30), second.Transactions[0].PointsAmount)
	assert.Equal(t, int64(20), second.Transactions[1].PointsAmount)

	third, err := env.svc.History(ctx, ledgerdomain.HistoryRequest{
		UserID:    userID.String(),
		PageSize:  2,
		PageToken: second.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, third.Transactions, 1)
	assert.False(t, third.HasMore)
	assert.Equal(t, int64(10), third.Transactions[0].PointsAmount)
}

func TestHistory_InvalidUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.History(context.Background(), ledgerdomain.HistoryRequest{UserID: "not-a-number"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)
}
