package jobstore

import (
	"database/sql"
	"time"

	"github.com/simpleframeworks/jobstore/models"
)

// effectiveMisfire resolves the smart policy for the trigger's schedule
func effectiveMisfire(trigger *models.Trigger) models.MisfireInstruction {
	if trigger.MisfireInstruction != models.MisfireSmartPolicy {
		return trigger.MisfireInstruction
	}
	if trigger.ScheduleType == models.ScheduleCron {
		return models.MisfireFireNow
	}
	switch {
	case trigger.RepeatInterval <= 0 || trigger.RepeatCount == 0:
		return models.MisfireFireNow
	case trigger.RepeatCount == models.RepeatIndefinitely:
		return models.MisfireRescheduleNextWithRemainingCount
	default:
		return models.MisfireRescheduleNowWithExistingCount
	}
}

// isMisfired reports whether the trigger is later than the threshold allows
func isMisfired(trigger *models.Trigger, at time.Time, threshold time.Duration) bool {
	if !trigger.NextFireTime.Valid || trigger.MisfireInstruction == models.MisfireIgnore {
		return false
	}
	return trigger.NextFireTime.Time.Before(at.Add(-threshold))
}

// missedSlots counts the fire times in [from, until]
func missedSlots(sched Schedule, cal *models.Calendar, from, until time.Time) int {
	count := 0
	t := from.Add(-time.Millisecond)
	for i := 0; i < maxScheduleSteps; i++ {
		next, ok := fireTimeAfter(sched, cal, t)
		if !ok || next.After(until) {
			break
		}
		count++
		t = next
	}
	return count
}

// applyMisfire moves a misfired trigger's next fire time according to its
// misfire instruction. It only changes the trigger in memory and reports
// whether it changed anything. A trigger left without a next fire time will
// never fire again.
func applyMisfire(trigger *models.Trigger, sched Schedule, cal *models.Calendar, at time.Time, threshold time.Duration) bool {
	if !isMisfired(trigger, at, threshold) {
		return false
	}
	missed := trigger.NextFireTime.Time

	fireNow := func() {
		end := models.NullToNilTime(trigger.EndTime)
		if end != nil && at.After(*end) {
			trigger.NextFireTime = sql.NullTime{}
			return
		}
		trigger.NextFireTime = models.NewNullTime(at)
	}
	fireNext := func() {
		next, ok := fireTimeAfter(sched, cal, at)
		if !ok || repeatsExhausted(trigger, trigger.TimesTriggered) {
			trigger.NextFireTime = sql.NullTime{}
			return
		}
		trigger.NextFireTime = models.NewNullTime(next)
	}

	switch effectiveMisfire(trigger) {
	case models.MisfireFireNow, models.MisfireRescheduleNowWithExistingCount:
		fireNow()

	case models.MisfireRescheduleNowWithRemainingCount:
		if n := missedSlots(sched, cal, missed, at); n > 1 {
			trigger.TimesTriggered += n - 1
		}
		if repeatsExhausted(trigger, trigger.TimesTriggered) {
			trigger.NextFireTime = sql.NullTime{}
			break
		}
		fireNow()

	case models.MisfireRescheduleNextWithRemainingCount:
		trigger.TimesTriggered += missedSlots(sched, cal, missed, at)
		fireNext()

	default: // DoNothing and RescheduleNextWithExistingCount
		fireNext()
	}
	return true
}
