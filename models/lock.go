package models

import (
	"time"
)

// LockType names an advisory lock
type LockType string

const (
	// LockTriggerAccess guards trigger and fired trigger mutations
	LockTriggerAccess LockType = "TRIGGER_ACCESS"
	// LockStateAccess guards scheduler state and cluster bookkeeping
	LockStateAccess LockType = "STATE_ACCESS"
)

// Lock is an advisory lock row. The row existing means the lock is held.
type Lock struct {
	ID            int64     `gorm:"primaryKey"`
	SchedulerName string    `gorm:"uniqueIndex:idx_jobstore_locks_key;size:120;not null"`
	LockType      LockType  `gorm:"uniqueIndex:idx_jobstore_locks_key;size:40;not null"`
	InstanceID    string    `gorm:"index;size:190;not null"`
	AcquiredAt    time.Time `gorm:"not null"`
}

// TableName specifies the db table name
func (*Lock) TableName() string {
	return "jobstore_locks"
}

// EntityID .
func (l *Lock) EntityID() int64 { return l.ID }

// Scheduler .
func (l *Lock) Scheduler() string { return l.SchedulerName }
