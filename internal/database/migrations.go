package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillBindingMirrors = "2026-08-12_backfill_element_binding_mirrors"

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
		{name: migrationBackfillBindingMirrors, apply: backfillElementBindingMirrors},
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

// backfillElementBindingMirrors repairs elements whose denormalized binding
// fields drifted from the authoritative association rows.
func backfillElementBindingMirrors(db *gorm.DB) error {
	return db.Exec(`
		UPDATE elements
		SET bound_column = (
			SELECT a.sheet_column FROM associations a WHERE a.element_id = elements.id
		),
		binding_type = (
			SELECT a.binding_type FROM associations a WHERE a.element_id = elements.id
		)
		WHERE EXISTS (SELECT 1 FROM associations a WHERE a.element_id = elements.id)
	`).Error
}
