package db

import (
	"github.com/malwarebo/partnersync/models"
	"gorm.io/gorm"
)

// RegisterMigrations adds the schema history of the service to m.
func RegisterMigrations(m *Migrator) {
	m.AddMigration("0001", "create_queue_items",
		func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.QueueItem{})
		},
		func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.QueueItem{})
		},
	)
}

// Migrate runs all registered migrations against db.
func Migrate(db *gorm.DB) error {
	m := CreateMigrator(db)
	RegisterMigrations(m)
	return m.Up()
}
