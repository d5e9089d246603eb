package stores

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

type txKey struct{}

// BaseStore carries the gorm handle and an optional transaction through ctx.
type BaseStore struct {
	db *gorm.DB
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// Primary pins the query to the primary. Reads that decide a state
// transition must not see replica lag.
func (s *BaseStore) Primary(ctx context.Context) *gorm.DB {
	return s.GetDB(ctx).Clauses(dbresolver.Write)
}

// WithTransaction runs fn in a transaction. A nested call joins the
// transaction already in ctx.
func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *BaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
