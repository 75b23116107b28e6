package models

import (
	"time"
)

// Job is a unit of work definition. Triggers point at it by (Name, JobGroup).
type Job struct {
	ID                            int64  `gorm:"primaryKey"`
	SchedulerName                 string `gorm:"uniqueIndex:idx_jobstore_jobs_key;size:120;not null"`
	Name                          string `gorm:"uniqueIndex:idx_jobstore_jobs_key;size:190;not null"`
	JobGroup                      string `gorm:"uniqueIndex:idx_jobstore_jobs_key;size:190;not null"`
	JobType                       string `gorm:"size:250"`
	Description                   string
	Durable                       bool
	ConcurrentExecutionDisallowed bool
	PersistJobDataAfterExecution  bool
	RequestsRecovery              bool
	JobData                       JobData
	CreatedAt                     time.Time
}

// TableName specifies the db table name
func (*Job) TableName() string {
	return "jobstore_jobs"
}

// EntityID .
func (j *Job) EntityID() int64 { return j.ID }

// Scheduler .
func (j *Job) Scheduler() string { return j.SchedulerName }
