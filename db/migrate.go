package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Migration struct {
	Version string
	Name    string
	Up      func(*gorm.DB) error
	Down    func(*gorm.DB) error
}

// SchemaMigration is one applied row of the schema history.
type SchemaMigration struct {
	Version   string    `gorm:"primaryKey;size:255"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

type MigrationStatus struct {
	Version   string
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

type Migrator struct {
	db         *gorm.DB
	migrations []Migration
	logger     *utils.Logger
}

func CreateMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: utils.NewLogger("migrator"),
	}
}

// AddMigration registers a migration. Versions sort lexically, so keep them
// zero padded.
func (m *Migrator) AddMigration(version, name string, up, down func(*gorm.DB) error) {
	m.migrations = append(m.migrations, Migration{Version: version, Name: name, Up: up, Down: down})
	slices.SortStableFunc(m.migrations, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
}

func (m *Migrator) applied() (map[string]SchemaMigration, error) {
	if err := m.db.AutoMigrate(&SchemaMigration{}); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	var rows []SchemaMigration
	if err := m.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	applied := make(map[string]SchemaMigration, len(rows))
	for _, row := range rows {
		applied[row.Version] = row
	}
	return applied, nil
}

// Up applies every pending migration in version order. Each migration and
// its history row commit together.
func (m *Migrator) Up() error {
	applied, err := m.applied()
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&SchemaMigration{Version: migration.Version, Name: migration.Name}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		m.logger.Info(context.Background(), "migration applied",
			zap.String("version", migration.Version),
			zap.String("name", migration.Name),
		)
	}
	return nil
}

// Down rolls back applied migrations newer than version, newest first.
func (m *Migrator) Down(version string) error {
	applied, err := m.applied()
	if err != nil {
		return err
	}

	for _, migration := range slices.Backward(m.migrations) {
		if migration.Version <= version {
			break
		}
		if _, ok := applied[migration.Version]; !ok {
			continue
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if migration.Down != nil {
				if err := migration.Down(tx); err != nil {
					return err
				}
			}
			return tx.Delete(&SchemaMigration{}, "version = ?", migration.Version).Error
		})
		if err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
		}
		m.logger.Info(context.Background(), "migration rolled back", zap.String("version", migration.Version))
	}
	return nil
}

func (m *Migrator) Status() ([]MigrationStatus, error) {
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		status := MigrationStatus{Version: migration.Version, Name: migration.Name}
		if row, ok := applied[migration.Version]; ok {
			status.Applied = true
			status.AppliedAt = &row.AppliedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
