// Package gormstore implements persist.Store on gorm, which gives the job
// store sqlite, postgres, mysql and sqlserver backends.
package gormstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/persist"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a gorm backed persist.Store
type Store struct {
	db *gorm.DB
}

// New wraps a gorm connection
func New(db *gorm.DB) *Store {
	return &Store{
		db: db.Session(&gorm.Session{
			SkipDefaultTransaction: true,
		}),
	}
}

// DB returns the underlying gorm connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Insert uses ON CONFLICT DO NOTHING so the unique check and the write are a
// single atomic statement on every dialect. No affected row means a conflict.
func (s *Store) Insert(ctx context.Context, entity interface{}) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "insert failed")
	}
	if tx.RowsAffected == 0 {
		return persist.ErrDuplicateKey
	}
	return nil
}

// Update .
func (s *Store) Update(ctx context.Context, model interface{}, where []persist.Cond, values map[string]interface{}) (int64, error) {
	if len(where) == 0 {
		return 0, errors.New("update requires at least one condition")
	}
	db, err := applyWhere(s.db.WithContext(ctx).Model(model), where)
	if err != nil {
		return 0, err
	}
	tx := db.Updates(values)
	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "update failed")
	}
	return tx.RowsAffected, nil
}

// Delete .
func (s *Store) Delete(ctx context.Context, model interface{}, where []persist.Cond) (int64, error) {
	if len(where) == 0 {
		return 0, errors.New("delete requires at least one condition")
	}
	db, err := applyWhere(s.db.WithContext(ctx), where)
	if err != nil {
		return 0, err
	}
	tx := db.Delete(model)
	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "delete failed")
	}
	return tx.RowsAffected, nil
}

// Find .
func (s *Store) Find(ctx context.Context, dest interface{}, q persist.Query) error {
	db, err := applyWhere(s.db.WithContext(ctx), q.Where)
	if err != nil {
		return err
	}
	for _, o := range q.Order {
		if err := o.Validate(); err != nil {
			return err
		}
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Field}, Desc: o.Desc})
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if tx := db.Find(dest); tx.Error != nil {
		return errors.Wrap(tx.Error, "find failed")
	}
	return nil
}

// First loads with Find and a limit rather than gorm's First so a miss is
// not reported through the gorm logger as an error
func (s *Store) First(ctx context.Context, dest interface{}, where []persist.Cond) error {
	db, err := applyWhere(s.db.WithContext(ctx), where)
	if err != nil {
		return err
	}
	tx := db.Limit(1).Find(dest)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "find failed")
	}
	if tx.RowsAffected == 0 {
		return persist.ErrNotFound
	}
	return nil
}

// Count .
func (s *Store) Count(ctx context.Context, model interface{}, where []persist.Cond) (int64, error) {
	db, err := applyWhere(s.db.WithContext(ctx).Model(model), where)
	if err != nil {
		return 0, err
	}
	var n int64
	if tx := db.Count(&n); tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "count failed")
	}
	return n, nil
}

// Transaction .
func (s *Store) Transaction(ctx context.Context, fn func(tx persist.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Migrate .
func (s *Store) Migrate(ctx context.Context, entities ...interface{}) error {
	return errors.Wrap(s.db.WithContext(ctx).AutoMigrate(entities...), "migration failed")
}

func applyWhere(db *gorm.DB, where []persist.Cond) (*gorm.DB, error) {
	for _, c := range where {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		switch c.Op {
		case persist.OpIsNull, persist.OpNotNull:
			db = db.Where(c.Field + " " + string(c.Op))
		case persist.OpIn:
			db = db.Where(c.Field+" IN ?", c.Value)
		default:
			db = db.Where(c.Field+" "+string(c.Op)+" ?", c.Value)
		}
	}
	return db, nil
}
