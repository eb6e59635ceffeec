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
	"github.com/smallbiznis/loyalty/internal/config"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/loyalty/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/loyalty/internal/ledger/service"
	reconcileservice "github.com/smallbiznis/loyalty/internal/reconcile/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger ledgerdomain.Service
	svc    *Service
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
	reconciler := reconcileservice.New(reconcileservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Accounts: accounts,
		Ledger:   ledgerSvc,
	})

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Cfg:        config.Config{AuditWorkers: 2},
		Accounts:   accounts,
		Reconciler: reconciler,
	}).(*Service)

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

func (e *testEnv) earn(t *testing.T, userID snowflake.ID, amount int64) {
	t.Helper()
	_, err := e.ledger.Append(context.Background(), ledgerdomain.AppendRequest{
		UserID: userID,
		Type:   ledgerdomain.TypeEarned,
		Amount: amount,
	})
	require.NoError(t, err)
}

func (e *testEnv) corruptBalance(t *testing.T, userID snowflake.ID, points int64) {
	t.Helper()
	require.NoError(t, e.db.Exec("UPDATE accounts SET loyalty_points = ? WHERE id = ?", points, userID).Error)
}

func TestAuditAll_ReportsOnlyDriftedAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Zero balance, never transacted: outside the audit scope.
	env.seedAccount(t)

	validUser := env.seedAccount(t)
	env.earn(t, validUser, 500)

	driftedUser := env.seedAccount(t)
	env.earn(t, driftedUser, 280)
	env.corruptBalance(t, driftedUser, 300)

	report, err := env.svc.AuditAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalUsers)
	assert.Equal(t, 1, report.ValidUsers)
	assert.Equal(t, 1, report.InvalidUsers)
	require.Len(t, report.InvalidDetails, 1)

	detail := report.InvalidDetails[0]
	assert.Equal(t, driftedUser, detail.UserID)
	assert.Equal(t, int64(300), detail.CurrentPoints)
	assert.Equal(t, int64(280), detail.CalculatedPoints)
	assert.Equal(t, int64(20), detail.Difference)
}

func TestAuditAll_IsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	driftedUser := env.seedAccount(t)
	env.earn(t, driftedUser, 280)
	env.corruptBalance(t, driftedUser, 300)

	_, err := env.svc.AuditAll(ctx)
	require.NoError(t, err)

	var account accountdomain.Account
	require.NoError(t, env.db.First(&account, "id = ?", driftedUser).Error)
	assert.Equal(t, int64(300), account.LoyaltyPoints)

	var count int64
	require.NoError(t, env.db.Model(&ledgerdomain.LoyaltyTransaction{}).Where("user_id = ?", driftedUser).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAuditAll_ManyAccountsAcrossWorkers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	drifted := make(map[snowflake.ID]bool)
	for i := 0; i < 20; i++ {
		userID := env.seedAccount(t)
		env.earn(t, userID, int64(100+i))
		if i%5 == 0 {
			env.corruptBalance(t, userID, int64(100+i+7))
			drifted[userID] = true
		}
	}

	report, err := env.svc.AuditAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, report.TotalUsers)
	assert.Equal(t, 16, report.ValidUsers)
	assert.Equal(t, 4, report.InvalidUsers)
	require.Len(t, report.InvalidDetails, 4)

	for i := 1; i < len(report.InvalidDetails); i++ {
		assert.Less(t, report.InvalidDetails[i-1].UserID, report.InvalidDetails[i].UserID)
	}
	for _, detail := range report.InvalidDetails {
		assert.True(t, drifted[detail.UserID])
		assert.Equal(t, int64(7), detail.Difference)
	}
}

func TestFixAll_CorrectsEveryDriftedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	validUser := env.seedAccount(t)
	env.earn(t, validUser, 500)

	driftedUser := env.seedAccount(t)
	env.earn(t, driftedUser, 280)
	env.corruptBalance(t, driftedUser, 300)

	outcomes, err := env.svc.FixAll(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, driftedUser, outcomes[0].UserID)
	assert.True(t, outcomes[0].Fixed)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, int64(300), outcomes[0].Result.OldPoints)
	assert.Equal(t, int64(280), outcomes[0].Result.NewPoints)

	report, err := env.svc.AuditAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.InvalidUsers)
	assert.Equal(t, 2, report.ValidUsers)
}

func TestAuditAll_EmptyTable(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.svc.AuditAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalUsers)
	assert.Empty(t, report.InvalidDetails)
}
