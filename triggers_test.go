package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/testc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestStoreTrigger(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store with a job")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)
	job := testJob()
	require.NoError(test, j.StoreJob(ctx, job, false))

	start := now().Add(time.Hour)
	t.When("we store a trigger without a group")
	trigger := testTrigger(job, start, 0, 0)
	trigger.TriggerGroup = ""
	require.NoError(test, j.StoreTrigger(ctx, trigger, false))

	t.Then("it waits in the default group for its start time")
	stored, err := j.RetrieveTrigger(ctx, NewTriggerKey(trigger.Name, ""))
	require.NoError(test, err)
	t.Equal(DefaultGroup, stored.TriggerGroup)
	t.Equal(models.StateWaiting, stored.State)
	t.Equal(start, stored.NextFireTime.Time.UTC())

	t.When("we store it again")
	err = j.StoreTrigger(ctx, testTriggerCopy(trigger), false)

	t.Then("it already exists")
	t.True(IsObjectAlreadyExists(err))

	t.When("we replace it with one that starts later")
	replacement := testTriggerCopy(trigger)
	replacement.StartTime = start.Add(time.Hour)
	t.NoError(j.StoreTrigger(ctx, replacement, true))

	t.Then("the new start time is used")
	stored, err = j.RetrieveTrigger(ctx, KeyOfTrigger(trigger))
	require.NoError(test, err)
	t.Equal(start.Add(time.Hour), stored.NextFireTime.Time.UTC())
}

func testTriggerCopy(trigger *models.Trigger) *models.Trigger {
	return &models.Trigger{
		Name:         trigger.Name,
		TriggerGroup: trigger.TriggerGroup,
		JobName:      trigger.JobName,
		JobGroup:     trigger.JobGroup,
		StartTime:    trigger.StartTime,
		ScheduleType: trigger.ScheduleType,
	}
}

func TestStoreTriggerInvalid(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store with a job")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)
	job := testJob()
	require.NoError(test, j.StoreJob(ctx, job, false))

	t.Then("a trigger needs a name and a job")
	t.ErrorIs(j.StoreTrigger(ctx, &models.Trigger{JobName: job.Name}, false), ErrInvalidTrigger)
	t.ErrorIs(j.StoreTrigger(ctx, &models.Trigger{Name: "orphan"}, false), ErrInvalidTrigger)

	t.Then("the job has to exist")
	missing := testTrigger(&models.Job{Name: "missing"}, now(), 0, 0)
	t.ErrorIs(j.StoreTrigger(ctx, missing, false), ErrJobNotFound)

	t.Then("the calendar has to exist")
	withCal := testTrigger(job, now(), 0, 0)
	withCal.CalendarName = models.NewNullString("missing")
	t.ErrorIs(j.StoreTrigger(ctx, withCal, false), ErrCalendarNotFound)

	t.Then("the end cannot be before the start")
	backwards := testTrigger(job, now(), time.Minute, 3)
	backwards.EndTime = models.NewNullTime(now().Add(-time.Hour))
	t.ErrorIs(j.StoreTrigger(ctx, backwards, false), ErrInvalidTrigger)

	t.Then("a cron trigger needs a valid expression")
	badCron := testTrigger(job, now(), 0, 0)
	badCron.ScheduleType = models.ScheduleCron
	badCron.CronExpression = "every day"
	t.ErrorIs(j.StoreTrigger(ctx, badCron, false), ErrInvalidTrigger)

	t.Then("a trigger that can never fire is refused")
	never := testTrigger(job, now(), 0, 0)
	never.ScheduleType = models.ScheduleCron
	never.CronExpression = "0 0 30 2 *"
	t.ErrorIs(j.StoreTrigger(ctx, never, false), ErrWillNeverFire)
}

func TestStoreCronTrigger(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	start := time.Date(2030, 1, 1, 0, 0, 30, 0, time.UTC)
	t.When("we store a cron trigger firing at the top of every hour")
	job := testJob()
	trigger := testTrigger(job, start, 0, 0)
	trigger.ScheduleType = models.ScheduleCron
	trigger.CronExpression = "@hourly"
	testStoreJobAndTrigger(j, job, trigger)

	t.Then("its first fire time is the next hour")
	stored, err := j.RetrieveTrigger(ctx, KeyOfTrigger(trigger))
	require.NoError(test, err)
	t.Equal(time.Date(2030, 1, 1, 1, 0, 0, 0, time.UTC), stored.NextFireTime.Time.UTC())
}

func TestRemoveTrigger(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	t.Given("a durable and a non durable job with one trigger each")
	durable := testJob()
	durableTrigger := testTrigger(durable, now().Add(time.Hour), 0, 0)
	testStoreJobAndTrigger(j, durable, durableTrigger)
	transient := testJob()
	transient.Durable = false
	transientTrigger := testTrigger(transient, now().Add(time.Hour), 0, 0)
	testStoreJobAndTrigger(j, transient, transientTrigger)

	t.When("both triggers are removed")
	removed, err := j.RemoveTrigger(ctx, KeyOfTrigger(durableTrigger))
	t.NoError(err)
	t.True(removed)
	removed, err = j.RemoveTrigger(ctx, KeyOfTrigger(transientTrigger))
	t.NoError(err)
	t.True(removed)

	t.Then("only the durable job is left")
	_, err = j.RetrieveJob(ctx, KeyOfJob(durable))
	t.NoError(err)
	_, err = j.RetrieveJob(ctx, KeyOfJob(transient))
	t.ErrorIs(err, ErrJobNotFound)

	t.Then("removing a missing trigger reports nothing removed")
	removed, err = j.RemoveTrigger(ctx, KeyOfTrigger(durableTrigger))
	t.NoError(err)
	t.False(removed)
	_, err = j.GetTriggerState(ctx, KeyOfTrigger(durableTrigger))
	t.ErrorIs(err, ErrTriggerNotFound)
}

func TestPauseBlockedTrigger(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	at := now()
	t.Given("a running job that disallows concurrent runs and its blocked second trigger")
	job := testJob()
	job.ConcurrentExecutionDisallowed = true
	require.NoError(test, j.StoreJob(ctx, job, false))
	first := testTrigger(job, at.Add(-2*time.Second), 0, 0)
	second := testTrigger(job, at.Add(time.Hour), 0, 0)
	require.NoError(test, j.StoreTrigger(ctx, first, false))
	require.NoError(test, j.StoreTrigger(ctx, second, false))
	acquired, err := j.AcquireNextTriggers(ctx, at, 1, 0)
	require.NoError(test, err)
	require.Len(test, acquired, 1)
	_, err = j.TriggerFired(ctx, acquired[0].FireInstanceID)
	require.NoError(test, err)

	t.When("the blocked trigger is paused")
	require.NoError(test, j.PauseTrigger(ctx, KeyOfTrigger(second)))

	t.Then("it is paused and blocked")
	state, err := j.GetTriggerState(ctx, KeyOfTrigger(second))
	t.NoError(err)
	t.Equal(models.StatePausedBlocked, state)

	t.When("the job completes")
	_, err = j.TriggeredJobComplete(ctx, acquired[0].FireInstanceID, JobResult{})
	require.NoError(test, err)

	t.Then("the trigger is only paused")
	state, err = j.GetTriggerState(ctx, KeyOfTrigger(second))
	t.NoError(err)
	t.Equal(models.StatePaused, state)

	t.When("it is resumed")
	require.NoError(test, j.ResumeTrigger(ctx, KeyOfTrigger(second)))

	t.Then("it waits")
	state, err = j.GetTriggerState(ctx, KeyOfTrigger(second))
	t.NoError(err)
	t.Equal(models.StateWaiting, state)
}
