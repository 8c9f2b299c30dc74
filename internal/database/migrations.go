package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/waypointhq/waypoint/backend/internal/dispatch"
)

const (
	migrationBackfillDriverSequence = "2026-05-20_backfill_driver_sequence"
	migrationNormalizeDayLabels     = "2026-06-11_normalize_day_labels"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDriverSequence, apply: backfillDriverSequence},
		{name: migrationNormalizeDayLabels, apply: normalizeDayLabels},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDriverSequence derives the seq column for rosters imported before
// it existed, when the route number lived only in the display name.
func backfillDriverSequence(db *gorm.DB) error {
	var drivers []dispatch.Driver
	if err := db.Where("seq < 0").Find(&drivers).Error; err != nil {
		return err
	}
	for _, driver := range drivers {
		number, ok := dispatch.DriverNumberFromName(driver.Name)
		if !ok {
			continue
		}
		if err := db.Model(&dispatch.Driver{}).
			Where("id = ?", driver.ID).
			Update("seq", number).Error; err != nil {
			return err
		}
	}
	return nil
}

// normalizeDayLabels folds imported day values to the canonical lowercase
// form and moves unscoped rosters and runs under the all-days scope.
func normalizeDayLabels(db *gorm.DB) error {
	statements := []string{
		"UPDATE drivers SET day = lower(trim(day)) WHERE day <> lower(trim(day))",
		"UPDATE stops SET day = lower(trim(day)) WHERE day <> lower(trim(day))",
		"UPDATE clients SET day = lower(trim(day)) WHERE day <> lower(trim(day))",
		"UPDATE route_runs SET day = lower(trim(day)) WHERE day <> lower(trim(day))",
		"UPDATE drivers SET day = 'all' WHERE day = ''",
		"UPDATE route_runs SET day = 'all' WHERE day = ''",
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
