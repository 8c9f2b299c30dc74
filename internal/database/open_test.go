package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/waypointhq/waypoint/backend/internal/dispatch"
)

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "waypoint.db")

	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"drivers", "stops", "clients", "route_runs", "driver_route_orders", "staff_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	driver := dispatch.Driver{ID: "driver-1", Day: "monday", Name: "Driver 1", Seq: 1}
	if err := database.Create(&driver).Error; err != nil {
		testContext.Fatalf("failed to write through schema: %v", err)
	}
}

func TestOpenIsIdempotent(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "waypoint.db")

	if _, err := Open(DriverSQLite, databasePath, nil); err != nil {
		testContext.Fatalf("first open failed: %v", err)
	}
	if _, err := Open(DriverSQLite, databasePath, nil); err != nil {
		testContext.Fatalf("second open failed: %v", err)
	}
}

func TestOpenRejectsBadInput(testContext *testing.T) {
	if _, err := Open(DriverSQLite, "", nil); err == nil {
		testContext.Fatalf("expected error for missing source")
	}
	if _, err := Open("oracle", filepath.Join(testContext.TempDir(), "x.db"), nil); err == nil {
		testContext.Fatalf("expected error for unsupported driver")
	}
}
