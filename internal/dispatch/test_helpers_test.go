package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testClockSeconds = 1735689600

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:waypoint_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Driver{}, &Stop{}, &Client{}, &RouteRun{}, &RouteOrderEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	generator := &staticIDGenerator{ids: ids}
	clock := func() time.Time { return time.Unix(testClockSeconds, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: generator,
	})
	if err != nil {
		t.Fatalf("failed to construct dispatch service: %v", err)
	}

	return service, db
}

func mustDriverID(t *testing.T, value string) DriverID {
	t.Helper()
	id, err := NewDriverID(value)
	if err != nil {
		t.Fatalf("unexpected driver id error: %v", err)
	}
	return id
}

func mustClientID(t *testing.T, value string) ClientID {
	t.Helper()
	id, err := NewClientID(value)
	if err != nil {
		t.Fatalf("unexpected client id error: %v", err)
	}
	return id
}

func mustStopID(t *testing.T, value string) StopID {
	t.Helper()
	id, err := NewStopID(value)
	if err != nil {
		t.Fatalf("unexpected stop id error: %v", err)
	}
	return id
}

func mustRunID(t *testing.T, value string) RunID {
	t.Helper()
	id, err := NewRunID(value)
	if err != nil {
		t.Fatalf("unexpected run id error: %v", err)
	}
	return id
}

// seedStops inserts count stops for the day with zero-padded ids so the
// id-ascending load order matches the numeric order.
func seedStops(t *testing.T, db *gorm.DB, day string, count int) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for index := 1; index <= count; index++ {
		stop := Stop{
			ID:           fmt.Sprintf("stop-%02d", index),
			Day:          day,
			DeliveryDate: "2025-01-06",
			ClientID:     fmt.Sprintf("client-%02d", index),
		}
		if err := db.Create(&stop).Error; err != nil {
			t.Fatalf("failed to seed stop %s: %v", stop.ID, err)
		}
		ids = append(ids, stop.ID)
	}
	return ids
}

func seedDriver(t *testing.T, db *gorm.DB, driver Driver) {
	t.Helper()
	if driver.StopIDs == nil {
		driver.StopIDs = StringList{}
	}
	if err := db.Create(&driver).Error; err != nil {
		t.Fatalf("failed to seed driver %s: %v", driver.ID, err)
	}
}

func seedClient(t *testing.T, db *gorm.DB, client Client) {
	t.Helper()
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("failed to seed client %s: %v", client.ID, err)
	}
}

func loadDriverByID(t *testing.T, db *gorm.DB, id string) Driver {
	t.Helper()
	var driver Driver
	if err := db.Where("id = ?", id).Take(&driver).Error; err != nil {
		t.Fatalf("failed to load driver %s: %v", id, err)
	}
	return driver
}

func loadStopByID(t *testing.T, db *gorm.DB, id string) Stop {
	t.Helper()
	var stop Stop
	if err := db.Where("id = ?", id).Take(&stop).Error; err != nil {
		t.Fatalf("failed to load stop %s: %v", id, err)
	}
	return stop
}

func stringPtr(value string) *string {
	return &value
}

func floatPtr(value float64) *float64 {
	return &value
}
