package db

import (
	"testing"

	"github.com/malwarebo/partnersync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 2; i++ {
		if err := Migrate(db); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}

	if !db.Migrator().HasTable(&models.QueueItem{}) {
		t.Fatal("queue_items table missing after Migrate()")
	}
	if !db.Migrator().HasIndex(&models.QueueItem{}, "idx_queue_items_ready") {
		t.Error("readiness index missing after Migrate()")
	}

	m := CreateMigrator(db)
	RegisterMigrations(m)
	statuses, err := m.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Applied {
		t.Errorf("Status() = %+v, want one applied migration", statuses)
	}
}

func TestMigrator_Down(t *testing.T) {
	db := openTestDB(t)
	m := CreateMigrator(db)
	RegisterMigrations(m)

	if err := m.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := m.Down("0000"); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if db.Migrator().HasTable(&models.QueueItem{}) {
		t.Error("queue_items table still present after Down()")
	}

	statuses, err := m.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if statuses[0].Applied {
		t.Error("Status() reports migration applied after Down()")
	}
}
