package jobstore

import (
	"testing"
	"time"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/testc"
	"github.com/stretchr/testify/require"
)

var misfireStart = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

// misfiredTrigger repeats every 5 minutes and is due at the start time
func misfiredTrigger(instruction models.MisfireInstruction, count int) *models.Trigger {
	return &models.Trigger{
		StartTime:          misfireStart,
		NextFireTime:       models.NewNullTime(misfireStart),
		ScheduleType:       models.ScheduleSimple,
		RepeatInterval:     5 * time.Minute,
		RepeatCount:        count,
		MisfireInstruction: instruction,
	}
}

func applyTestMisfire(test *testing.T, trigger *models.Trigger, at time.Time) bool {
	sched, err := ScheduleFor(trigger)
	require.NoError(test, err)
	return applyMisfire(trigger, sched, nil, at, time.Minute)
}

func TestMisfireRescheduleNextWithExistingCount(test *testing.T) {
	t := testc.New(test)

	t.Given("a trigger due at noon that reschedules to the next slot keeping its count")
	trigger := misfiredTrigger(models.MisfireRescheduleNextWithExistingCount, models.RepeatIndefinitely)

	at := misfireStart.Add(10 * time.Minute)
	t.When("it is acquired 10 minutes late with a 1 minute threshold")
	misfired := applyTestMisfire(test, trigger, at)

	t.Then("it misfired and moved to the next future slot")
	t.True(misfired)
	t.Equal(misfireStart.Add(15*time.Minute), trigger.NextFireTime.Time)
	t.Equal(0, trigger.TimesTriggered)
}

func TestMisfireRescheduleNextWithRemainingCount(test *testing.T) {
	t := testc.New(test)

	t.Given("a trigger due at noon that reschedules to the next slot counting the missed ones")
	trigger := misfiredTrigger(models.MisfireRescheduleNextWithRemainingCount, models.RepeatIndefinitely)

	t.When("it is acquired 10 minutes late")
	t.True(applyTestMisfire(test, trigger, misfireStart.Add(10*time.Minute)))

	t.Then("the three missed slots are counted")
	t.Equal(misfireStart.Add(15*time.Minute), trigger.NextFireTime.Time)
	t.Equal(3, trigger.TimesTriggered)
}

func TestMisfireRescheduleNow(test *testing.T) {
	t := testc.New(test)
	at := misfireStart.Add(10 * time.Minute)

	t.Given("a trigger that fires now keeping its count")
	existing := misfiredTrigger(models.MisfireRescheduleNowWithExistingCount, models.RepeatIndefinitely)
	t.True(applyTestMisfire(test, existing, at))

	t.Then("it fires now and keeps its count")
	t.Equal(at, existing.NextFireTime.Time)
	t.Equal(0, existing.TimesTriggered)

	t.Given("a trigger that fires now counting the missed slots")
	remaining := misfiredTrigger(models.MisfireRescheduleNowWithRemainingCount, models.RepeatIndefinitely)
	t.True(applyTestMisfire(test, remaining, at))

	t.Then("it fires now and counts all missed slots but the one it fires")
	t.Equal(at, remaining.NextFireTime.Time)
	t.Equal(2, remaining.TimesTriggered)
}

func TestMisfireExhaustsRepeats(test *testing.T) {
	t := testc.New(test)

	t.Given("a trigger with 2 repeats that counts missed slots")
	trigger := misfiredTrigger(models.MisfireRescheduleNextWithRemainingCount, 2)

	t.When("it is acquired after all its slots passed")
	t.True(applyTestMisfire(test, trigger, misfireStart.Add(10*time.Minute)))

	t.Then("it has no next fire time")
	t.False(trigger.NextFireTime.Valid)
}

func TestMisfireWithinThreshold(test *testing.T) {
	t := testc.New(test)

	t.Given("a trigger 30 seconds late")
	trigger := misfiredTrigger(models.MisfireDoNothing, models.RepeatIndefinitely)

	t.Then("it did not misfire")
	t.False(applyTestMisfire(test, trigger, misfireStart.Add(30*time.Second)))
	t.Equal(misfireStart, trigger.NextFireTime.Time)

	t.Given("a trigger that ignores misfires")
	ignore := misfiredTrigger(models.MisfireIgnore, models.RepeatIndefinitely)

	t.Then("it never misfires")
	t.False(applyTestMisfire(test, ignore, misfireStart.Add(time.Hour)))
	t.Equal(misfireStart, ignore.NextFireTime.Time)
}

func TestMisfireCronDoNothing(test *testing.T) {
	t := testc.New(test)

	t.Given("an hourly cron trigger due at noon that does nothing on misfire")
	trigger := &models.Trigger{
		StartTime:          misfireStart.Add(-time.Hour),
		NextFireTime:       models.NewNullTime(misfireStart),
		ScheduleType:       models.ScheduleCron,
		CronExpression:     "0 * * * *",
		MisfireInstruction: models.MisfireDoNothing,
	}

	t.When("it is acquired at 14:20")
	t.True(applyTestMisfire(test, trigger, misfireStart.Add(140*time.Minute)))

	t.Then("it waits for 15:00")
	t.Equal(misfireStart.Add(3*time.Hour), trigger.NextFireTime.Time)
}

func TestMisfireSmartPolicy(test *testing.T) {
	t := testc.New(test)

	t.Then("the smart policy depends on the schedule")
	t.Equal(models.MisfireFireNow, effectiveMisfire(&models.Trigger{ScheduleType: models.ScheduleCron}))
	t.Equal(models.MisfireFireNow, effectiveMisfire(&models.Trigger{ScheduleType: models.ScheduleSimple}))
	t.Equal(models.MisfireRescheduleNextWithRemainingCount, effectiveMisfire(&models.Trigger{
		ScheduleType: models.ScheduleSimple, RepeatInterval: time.Minute, RepeatCount: models.RepeatIndefinitely,
	}))
	t.Equal(models.MisfireRescheduleNowWithExistingCount, effectiveMisfire(&models.Trigger{
		ScheduleType: models.ScheduleSimple, RepeatInterval: time.Minute, RepeatCount: 5,
	}))
	t.Equal(models.MisfireDoNothing, effectiveMisfire(&models.Trigger{MisfireInstruction: models.MisfireDoNothing}))
}
