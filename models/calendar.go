package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm/schema"
)

// Calendar excludes blocks of time from the schedules of the triggers that reference it
type Calendar struct {
	ID            int64  `gorm:"primaryKey"`
	SchedulerName string `gorm:"uniqueIndex:idx_jobstore_calendars_key;size:120;not null"`
	Name          string `gorm:"uniqueIndex:idx_jobstore_calendars_key;size:190;not null"`
	Description   string
	Rules         ExclusionRules
	CreatedAt     time.Time
}

// TableName specifies the db table name
func (*Calendar) TableName() string {
	return "jobstore_calendars"
}

// EntityID .
func (c *Calendar) EntityID() int64 { return c.ID }

// Scheduler .
func (c *Calendar) Scheduler() string { return c.SchedulerName }

// TimeRange is a half open [From, To) interval
type TimeRange struct {
	From time.Time
	To   time.Time
}

// ExclusionRules are the serialized exclusion rules of a calendar
type ExclusionRules struct {
	Location string // IANA zone used for dates and weekdays, UTC if empty
	Ranges   []TimeRange
	Dates    []string // 2006-01-02
	Weekdays []time.Weekday
}

// GormDataType .
func (r ExclusionRules) GormDataType() string {
	return string(schema.Bytes)
}

// Scan scan value into ExclusionRules
func (r *ExclusionRules) Scan(value interface{}) error {
	*r = ExclusionRules{}
	return gobScan(value, r)
}

// Value return ExclusionRules value, implement driver.Valuer interface
func (r ExclusionRules) Value() (driver.Value, error) {
	return gobValue(r)
}
