package db

import (
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// EnsureSchema creates schema if missing and migrates models into it.
func EnsureSchema(d *gorm.DB, schema string, models ...any) error {
	if err := d.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)).Error; err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if len(models) == 0 {
		return nil
	}
	if err := d.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate %s: %w", schema, err)
	}
	return nil
}
