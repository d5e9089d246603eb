package db

import (
	"context"
	"fmt"
	"time"

	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type ClusterConfig struct {
	Driver       string
	PrimaryDSN   string
	ReplicaDSNs  []string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
	LogLevel     logger.LogLevel
}

type DB struct {
	*gorm.DB
}

func (db *DB) GetDB() *gorm.DB {
	return db.DB
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "", "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// CreateDB opens the primary connection and registers read replicas with
// dbresolver. Queue writes and claims always go to the primary.
func CreateDB(config ClusterConfig) (*DB, error) {
	log := utils.NewLogger("database")

	primary, err := dialector(config.Driver, config.PrimaryDSN)
	if err != nil {
		return nil, err
	}

	level := config.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	db, err := gorm.Open(primary, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}

	if len(config.ReplicaDSNs) > 0 {
		resolverConfig := dbresolver.Config{Policy: dbresolver.RandomPolicy{}}
		for _, replicaDSN := range config.ReplicaDSNs {
			replica, err := dialector(config.Driver, replicaDSN)
			if err != nil {
				return nil, err
			}
			resolverConfig.Replicas = append(resolverConfig.Replicas, replica)
		}

		err = db.Use(dbresolver.Register(resolverConfig).
			SetConnMaxIdleTime(time.Hour).
			SetConnMaxLifetime(24 * time.Hour).
			SetMaxIdleConns(10).
			SetMaxOpenConns(100))
		if err != nil {
			return nil, fmt.Errorf("failed to configure read replicas: %w", err)
		}

		log.Info(context.Background(), "read replicas configured", zap.Int("replicas", len(config.ReplicaDSNs)))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if config.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if config.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		}
	}
	if config.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.MaxLifetime)
	}
	if config.MaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	log.Info(context.Background(), "connected to database", zap.String("driver", config.Driver))
	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
