package db

import (
	"fmt"

	"github.com/smallbiznis/flowline/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open("flowline.db"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// SupportsRowLevelSecurity reports whether the configured dialect can enforce
// tenant isolation with database RLS policies. Other dialects fall back to
// the tenant callback filter.
func SupportsRowLevelSecurity(cfg config.Config) bool {
	return cfg.DBType == "postgres"
}
