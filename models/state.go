package models

import (
	"time"
)

// SchedulerState is the heartbeat record of a live scheduler instance
type SchedulerState struct {
	ID                int64  `gorm:"primaryKey"`
	SchedulerName     string `gorm:"uniqueIndex:idx_jobstore_states_key;size:120;not null"`
	InstanceID        string `gorm:"uniqueIndex:idx_jobstore_states_key;size:190;not null"`
	Hostname          string
	LastCheckinTime   time.Time
	CheckinInterval   time.Duration
	StartedAt         time.Time
	TriggersFired     int // Triggers acquired by the instance
	TriggersMisfired  int // Misfires handled by the instance
	TriggersRecovered int // Fired triggers recovered from dead instances
}

// TableName specifies the db table name
func (*SchedulerState) TableName() string {
	return "jobstore_scheduler_states"
}

// EntityID .
func (s *SchedulerState) EntityID() int64 { return s.ID }

// Scheduler .
func (s *SchedulerState) Scheduler() string { return s.SchedulerName }
