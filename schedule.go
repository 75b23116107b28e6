package jobstore

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/simpleframeworks/jobstore/models"
)

// maxScheduleSteps bounds the walks over fire times that calendars and
// misfire counting do
const maxScheduleSteps = 100000

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule computes the fire times of a trigger
type Schedule interface {
	// FireTimeAfter returns the first fire time strictly after t
	FireTimeAfter(t time.Time) (time.Time, bool)
}

type simpleSchedule struct {
	start    time.Time
	interval time.Duration
	end      *time.Time
}

func (s simpleSchedule) FireTimeAfter(t time.Time) (time.Time, bool) {
	var next time.Time
	switch {
	case t.Before(s.start):
		next = s.start
	case s.interval <= 0:
		return time.Time{}, false
	default:
		k := int64(t.Sub(s.start)/s.interval) + 1
		next = s.start.Add(time.Duration(k) * s.interval)
	}
	if s.end != nil && next.After(*s.end) {
		return time.Time{}, false
	}
	return next, true
}

type cronSchedule struct {
	schedule cron.Schedule
	loc      *time.Location
	start    time.Time
	end      *time.Time
}

func (s cronSchedule) FireTimeAfter(t time.Time) (time.Time, bool) {
	if t.Before(s.start) {
		t = s.start.Add(-time.Millisecond)
	}
	next := s.schedule.Next(t.In(s.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	next = next.UTC()
	if s.end != nil && next.After(*s.end) {
		return time.Time{}, false
	}
	return next, true
}

// ParseCron checks a cron expression. Seconds are optional and descriptors
// such as @hourly or @every 5m are accepted.
func ParseCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return errors.Wrapf(err, "invalid cron expression %q", expr)
}

// ScheduleFor builds the schedule of a trigger
func ScheduleFor(trigger *models.Trigger) (Schedule, error) {
	end := models.NullToNilTime(trigger.EndTime)
	switch trigger.ScheduleType {
	case models.ScheduleSimple, "":
		return simpleSchedule{
			start:    trigger.StartTime,
			interval: trigger.RepeatInterval,
			end:      end,
		}, nil
	case models.ScheduleCron:
		sched, err := cronParser.Parse(trigger.CronExpression)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidTrigger, "cron expression %q: %v", trigger.CronExpression, err)
		}
		loc := time.UTC
		if trigger.TimeZone != "" {
			if loc, err = time.LoadLocation(trigger.TimeZone); err != nil {
				return nil, errors.Wrapf(ErrInvalidTrigger, "time zone %q: %v", trigger.TimeZone, err)
			}
		}
		return cronSchedule{
			schedule: sched,
			loc:      loc,
			start:    trigger.StartTime,
			end:      end,
		}, nil
	}
	return nil, errors.Wrapf(ErrInvalidTrigger, "unknown schedule type %q", trigger.ScheduleType)
}

// repeatsExhausted is true when a simple trigger has fired all its repeats
func repeatsExhausted(trigger *models.Trigger, timesTriggered int) bool {
	if trigger.ScheduleType == models.ScheduleCron {
		return false
	}
	if trigger.RepeatInterval <= 0 {
		return timesTriggered > 0
	}
	return trigger.RepeatCount != models.RepeatIndefinitely && timesTriggered > trigger.RepeatCount
}

// fireTimeAfter is the first fire time after t that the calendar allows
func fireTimeAfter(sched Schedule, cal *models.Calendar, t time.Time) (time.Time, bool) {
	for i := 0; i < maxScheduleSteps; i++ {
		next, ok := sched.FireTimeAfter(t)
		if !ok {
			return time.Time{}, false
		}
		if cal == nil || CalendarIncludes(cal, next) {
			return next, true
		}
		t = next
	}
	return time.Time{}, false
}

// firstFireTime is the first allowed fire time at or after the start time
func firstFireTime(trigger *models.Trigger, sched Schedule, cal *models.Calendar) (time.Time, bool) {
	return fireTimeAfter(sched, cal, trigger.StartTime.Add(-time.Millisecond))
}

// nextFireTime computes the fire time that follows a fire at scheduled once
// the trigger has fired timesTriggered times
func nextFireTime(trigger *models.Trigger, sched Schedule, cal *models.Calendar, scheduled time.Time, timesTriggered int) (time.Time, bool) {
	if repeatsExhausted(trigger, timesTriggered) {
		return time.Time{}, false
	}
	return fireTimeAfter(sched, cal, scheduled)
}
