package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	"github.com/smallbiznis/flowline/internal/config"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	meterdomain "github.com/smallbiznis/flowline/internal/meter/domain"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
	"github.com/smallbiznis/flowline/internal/seed"
	subscriptiondomain "github.com/smallbiznis/flowline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
	"github.com/smallbiznis/flowline/pkg/db"
)

// AutoMigrate creates the schema from the models. It serves the dialects the
// SQL migrations do not cover; postgres deployments get the embedded SQL
// including its row-level security policies.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.User{},
		&orgdomain.Membership{},
		&apikeydomain.APIKey{},
		&subscriptiondomain.Subscription{},
		&meterdomain.UsageMeter{},
		&usagedomain.UsageEvent{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerTransaction{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.UsageCredit{},
		&ledgerdomain.UsageCreditApplication{},
	)
}

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if db.SupportsRowLevelSecurity(cfg) {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := AutoMigrate(conn); err != nil {
			return err
		}

		if cfg.Bootstrap.EnsureDefaultOrgAndUser {
			return seed.EnsureDefaultOrgAndOwner(conn, cfg)
		}
		return nil
	}),
)
