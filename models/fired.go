package models

import (
	"database/sql"
	"time"
)

// FiredState is the state of a fired trigger record
type FiredState string

const (
	// FiredAcquired the trigger was acquired but not yet handed to a job
	FiredAcquired FiredState = "ACQUIRED"
	// FiredExecuting the job is running
	FiredExecuting FiredState = "EXECUTING"
)

// FiredTrigger marks a trigger as being fired by a specific instance. It lives
// from acquisition until the job completes.
type FiredTrigger struct {
	ID                            int64      `gorm:"primaryKey"`
	SchedulerName                 string     `gorm:"index:idx_jobstore_fired_instance,priority:1;index:idx_jobstore_fired_job,priority:1;size:120;not null"`
	FireInstanceID                string     `gorm:"uniqueIndex;size:64;not null"`
	InstanceID                    string     `gorm:"index:idx_jobstore_fired_instance,priority:2;size:190;not null"`
	TriggerID                     int64      `gorm:"index;not null"` // Row the trigger had when acquired
	TriggerName                   string     `gorm:"size:190;not null"`
	TriggerGroup                  string     `gorm:"size:190;not null"`
	JobName                       string     `gorm:"index:idx_jobstore_fired_job,priority:2;size:190;not null"`
	JobGroup                      string     `gorm:"index:idx_jobstore_fired_job,priority:3;size:190;not null"`
	State                         FiredState `gorm:"size:16;not null"`
	FiredTime                     time.Time
	ScheduledTime                 time.Time
	PrevFireTime                  sql.NullTime
	Priority                      int
	ConcurrentExecutionDisallowed bool
	RequestsRecovery              bool
}

// TableName specifies the db table name
func (*FiredTrigger) TableName() string {
	return "jobstore_fired_triggers"
}

// EntityID .
func (f *FiredTrigger) EntityID() int64 { return f.ID }

// Scheduler .
func (f *FiredTrigger) Scheduler() string { return f.SchedulerName }
