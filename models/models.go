package models

import (
	"database/sql"
	"time"
)

// Entity is the identity contract shared by every stored record. Several
// logical schedulers may share one database, so every row carries the name of
// the scheduler it belongs to next to its store-unique ID.
type Entity interface {
	EntityID() int64
	Scheduler() string
}

// All returns every entity the job store persists, in migration order
func All() []interface{} {
	return []interface{}{
		&Job{},
		&Trigger{},
		&Calendar{},
		&FiredTrigger{},
		&Lock{},
		&SchedulerState{},
		&RecoveryMarker{},
	}
}

// NullToNilTime .
func NullToNilTime(t sql.NullTime) *time.Time {
	if t.Valid {
		tmp := t.Time
		return &tmp
	}
	return nil
}

// NewNullTime .
func NewNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Valid: true, Time: t}
}

// NullTime builds a NullTime from a value and its validity
func NullTime(t time.Time, valid bool) sql.NullTime {
	if !valid {
		return sql.NullTime{}
	}
	return sql.NullTime{Valid: true, Time: t}
}

// NewNullString .
func NewNullString(s string) sql.NullString {
	return sql.NullString{Valid: true, String: s}
}
