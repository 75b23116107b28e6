package models

import (
	"database/sql"
	"time"
)

// TriggerState is the lifecycle state of a trigger
type TriggerState string

const (
	// StateWaiting the trigger waits for its next fire time
	StateWaiting TriggerState = "WAITING"
	// StateAcquired an instance has picked the trigger to fire next
	StateAcquired TriggerState = "ACQUIRED"
	// StateExecuting the trigger's job is running
	StateExecuting TriggerState = "EXECUTING"
	// StateComplete the trigger will never fire again
	StateComplete TriggerState = "COMPLETE"
	// StateError the trigger failed and needs an external reset
	StateError TriggerState = "ERROR"
	// StateBlocked the trigger's job disallows concurrent runs and is running
	StateBlocked TriggerState = "BLOCKED"
	// StatePaused .
	StatePaused TriggerState = "PAUSED"
	// StatePausedBlocked paused while blocked
	StatePausedBlocked TriggerState = "PAUSED_BLOCKED"
)

// ScheduleType selects how the next fire time of a trigger is computed
type ScheduleType string

const (
	// ScheduleSimple fires at StartTime and then every RepeatInterval
	ScheduleSimple ScheduleType = "SIMPLE"
	// ScheduleCron fires on a cron expression
	ScheduleCron ScheduleType = "CRON"
)

// MisfireInstruction tells the store what to do with a trigger that missed its fire time
type MisfireInstruction int

const (
	// MisfireSmartPolicy picks an instruction based on the schedule type
	MisfireSmartPolicy MisfireInstruction = 0
	// MisfireIgnore fires every missed slot as soon as possible
	MisfireIgnore MisfireInstruction = -1
	// MisfireFireNow fires once immediately
	MisfireFireNow MisfireInstruction = 1
	// MisfireDoNothing skips to the next scheduled time after now
	MisfireDoNothing MisfireInstruction = 2
	// MisfireRescheduleNowWithExistingCount fires now and leaves the fire count untouched
	MisfireRescheduleNowWithExistingCount MisfireInstruction = 3
	// MisfireRescheduleNowWithRemainingCount fires now and counts the missed slots as fired
	MisfireRescheduleNowWithRemainingCount MisfireInstruction = 4
	// MisfireRescheduleNextWithExistingCount skips to the next slot after now and leaves the fire count untouched
	MisfireRescheduleNextWithExistingCount MisfireInstruction = 5
	// MisfireRescheduleNextWithRemainingCount skips to the next slot after now and counts the missed slots as fired
	MisfireRescheduleNextWithRemainingCount MisfireInstruction = 6
)

// RepeatIndefinitely is the RepeatCount of a simple trigger without an end
const RepeatIndefinitely = -1

// Trigger is a scheduling rule that determines when a job runs next
type Trigger struct {
	ID                 int64        `gorm:"primaryKey"`
	SchedulerName      string       `gorm:"uniqueIndex:idx_jobstore_triggers_key;index:idx_jobstore_triggers_due,priority:1;size:120;not null"`
	Name               string       `gorm:"uniqueIndex:idx_jobstore_triggers_key;size:190;not null"`
	TriggerGroup       string       `gorm:"uniqueIndex:idx_jobstore_triggers_key;size:190;not null"`
	JobName            string       `gorm:"index:idx_jobstore_triggers_job;size:190;not null"`
	JobGroup           string       `gorm:"index:idx_jobstore_triggers_job;size:190;not null"`
	Description        string
	State              TriggerState `gorm:"index:idx_jobstore_triggers_due,priority:2;size:16;not null"`
	NextFireTime       sql.NullTime `gorm:"index:idx_jobstore_triggers_due,priority:3"`
	PrevFireTime       sql.NullTime
	Priority           int
	MisfireInstruction MisfireInstruction
	StartTime          time.Time
	EndTime            sql.NullTime
	CalendarName       sql.NullString `gorm:"size:190"`
	ScheduleType       ScheduleType   `gorm:"size:16"`
	CronExpression     string
	TimeZone           string
	RepeatInterval     time.Duration
	RepeatCount        int
	TimesTriggered     int
	JobData            JobData
	CreatedAt          time.Time
}

// TableName specifies the db table name
func (*Trigger) TableName() string {
	return "jobstore_triggers"
}

// EntityID .
func (t *Trigger) EntityID() int64 { return t.ID }

// Scheduler .
func (t *Trigger) Scheduler() string { return t.SchedulerName }
