package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

const migrationBackfillLowestPriceColumns = "2026-07-10_backfill_lowest_price_columns"

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
		{name: migrationBackfillLowestPriceColumns, apply: backfillLowestPriceColumns},
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

// backfillLowestPriceColumns derives the lowest_category and lowest_price
// columns for samples recorded before those columns existed. The quote set in
// prices_json is authoritative.
func backfillLowestPriceColumns(db *gorm.DB) error {
	var samples []trips.PriceSample
	if err := db.Where("lowest_category = '' OR lowest_category IS NULL").Find(&samples).Error; err != nil {
		return err
	}

	for _, sample := range samples {
		prices, err := sample.Prices()
		if err != nil || len(prices) == 0 {
			continue
		}
		lowestCategory := ""
		lowestPrice := 0.0
		for category, price := range prices {
			if lowestCategory == "" ||
				price < lowestPrice ||
				(price == lowestPrice && category < lowestCategory) {
				lowestCategory = category
				lowestPrice = price
			}
		}
		err = db.Model(&trips.PriceSample{}).
			Where("sample_id = ?", sample.SampleID).
			Updates(map[string]any{
				"lowest_category": lowestCategory,
				"lowest_price":    lowestPrice,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
