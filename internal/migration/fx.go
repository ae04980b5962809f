package migration

import (
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
	"github.com/smallbiznis/meterline/internal/config"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// mysql and sqlite are dev conveniences; gorm derives
			// their schema from the models.
			return conn.AutoMigrate(
				&usagedomain.UsageRecord{},
				&usagedomain.UsageTotal{},
				&alertdomain.UsageAlert{},
				&subscriptiondomain.Subscription{},
				&billingdomain.Invoice{},
				&billingdomain.InvoiceLine{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
