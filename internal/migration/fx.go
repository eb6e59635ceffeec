package migration

import (
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/config"
	ledgerdomain "github.com/smallbiznis/loyalty/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/loyalty/internal/order/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// mysql/sqlite are dev and embedded targets; the versioned SQL
			// is postgres-flavored, so fall back to the model schema.
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&orderdomain.Order{},
				&ledgerdomain.LoyaltyTransaction{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
