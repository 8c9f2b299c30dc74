package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/waypointhq/waypoint/backend/internal/dispatch"
	"github.com/waypointhq/waypoint/backend/internal/users"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open establishes the store connection for the configured driver and brings
// the schema up to date. The source is a file path for sqlite and a DSN for
// postgres.
func Open(driver, source string, logger *zap.Logger) (*gorm.DB, error) {
	if source == "" {
		return nil, fmt.Errorf("database source is required")
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		db, err = gorm.Open(sqlite.Open(source), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, dbErr
		}
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(source), &gorm.Config{})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.AutoMigrate(
		&dispatch.Driver{},
		&dispatch.Stop{},
		&dispatch.Client{},
		&dispatch.RouteRun{},
		&dispatch.RouteOrderEntry{},
		&users.Identity{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return db, nil
}
