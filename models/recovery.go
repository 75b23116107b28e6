package models

import (
	"time"
)

// RecoveryReason says why a recovery marker was left
type RecoveryReason string

const (
	// RecoveryJobFailed the job returned an error
	RecoveryJobFailed RecoveryReason = "JOB_FAILED"
	// RecoveryInstanceDied the instance running the job stopped checking in
	RecoveryInstanceDied RecoveryReason = "INSTANCE_DIED"
)

// RecoveryMarker keeps the failure context of a job that requests recovery
type RecoveryMarker struct {
	ID             int64          `gorm:"primaryKey"`
	SchedulerName  string         `gorm:"index:idx_jobstore_recovery_job,priority:1;size:120;not null"`
	FireInstanceID string         `gorm:"size:64;not null"`
	InstanceID     string         `gorm:"size:190;not null"`
	TriggerName    string         `gorm:"size:190"`
	TriggerGroup   string         `gorm:"size:190"`
	JobName        string         `gorm:"index:idx_jobstore_recovery_job,priority:2;size:190;not null"`
	JobGroup       string         `gorm:"index:idx_jobstore_recovery_job,priority:3;size:190;not null"`
	Reason         RecoveryReason `gorm:"size:32"`
	Error          string
	ScheduledTime  time.Time
	CreatedAt      time.Time
}

// TableName specifies the db table name
func (*RecoveryMarker) TableName() string {
	return "jobstore_recovery_markers"
}

// EntityID .
func (r *RecoveryMarker) EntityID() int64 { return r.ID }

// Scheduler .
func (r *RecoveryMarker) Scheduler() string { return r.SchedulerName }
